package consolidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func member(id int64, number string, offset time.Duration, total, discount, fee int64, items int) models.Order {
	o := models.Order{
		ID:             id,
		OrderNumber:    number,
		Status:         models.OrderStatusPending,
		TotalAmount:    decimal.NewFromInt(total),
		DiscountAmount: decimal.NewFromInt(discount),
		CreatedAt:      base.Add(offset),
		GroupPriced:    true,
		Shipping:       &models.Shipping{ShippingFee: decimal.NewFromInt(fee)},
	}
	for i := 0; i < items; i++ {
		o.Items = append(o.Items, models.OrderItem{OrderID: id, ProductID: int64(i + 1), Quantity: 1, Price: decimal.NewFromInt(1000)})
	}
	return o
}

func TestConsolidateUsesPersistedTotals(t *testing.T) {
	members := []models.Order{
		member(2, "S260501-0002", time.Second, 10000, 0, 0, 2),
		member(1, "S260501-0001", 0, 14000, 1000, 3000, 1),
		member(3, "S260501-0003", 2*time.Second, 5000, 0, 0, 1),
	}

	view, err := Consolidate("GROUP-1", members)
	require.NoError(t, err)

	assert.Equal(t, int64(1), view.RepresentativeOrderID)
	assert.True(t, decimal.NewFromInt(29000).Equal(view.MembersTotal))
	assert.True(t, decimal.NewFromInt(29000-1000+3000).Equal(view.TotalAmount), view.TotalAmount.String())
	assert.Len(t, view.Items, 4)
	assert.False(t, view.Degraded)
	assert.Empty(t, view.Warnings)

	require.Len(t, view.Members, 3)
	assert.True(t, view.Members[0].IsRepresentative)
	assert.True(t, decimal.NewFromInt(3000).Equal(view.Members[0].DisplayedShippingFee))
	for _, line := range view.Members[1:] {
		assert.True(t, line.DisplayedShippingFee.IsZero())
		assert.Equal(t, "S260501-0001", line.RepresentativeOrderNumber)
	}
}

func TestConsolidateIgnoresItemPrices(t *testing.T) {
	members := []models.Order{member(1, "A", 0, 7777, 0, 3000, 3)}
	members[0].Items[0].Price = decimal.NewFromInt(999999)

	view, err := Consolidate("GROUP-2", members)
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(7777+3000).Equal(view.TotalAmount))
}

func TestConsolidateDegradedWithoutFeeBearer(t *testing.T) {
	members := []models.Order{
		member(5, "B", time.Minute, 1000, 0, 0, 1),
		member(4, "A", 0, 2000, 0, 0, 1),
	}

	view, err := Consolidate("GROUP-3", members)
	require.NoError(t, err)

	assert.True(t, view.Degraded)
	assert.Len(t, view.Warnings, 1)
	assert.Equal(t, int64(4), view.RepresentativeOrderID)
	assert.True(t, decimal.NewFromInt(3000).Equal(view.TotalAmount))
}

func TestConsolidateFreeShippingGroupIsNotDegraded(t *testing.T) {
	members := []models.Order{
		member(10, "A", 0, 20000, 2000, 0, 1),
		member(11, "B", 0, 15000, 0, 0, 1),
	}
	for i := range members {
		members[i].IsFreeShipping = true
	}

	view, err := Consolidate("GROUP-8", members)
	require.NoError(t, err)

	assert.False(t, view.Degraded)
	assert.Equal(t, int64(10), view.RepresentativeOrderID)
	assert.True(t, decimal.NewFromInt(33000).Equal(view.TotalAmount))
}

func TestConsolidateSeveralFeeBearersPicksEarliest(t *testing.T) {
	members := []models.Order{
		member(8, "B", time.Minute, 6000, 0, 3000, 1),
		member(7, "A", 0, 6000, 0, 3000, 1),
	}

	view, err := Consolidate("GROUP-4", members)
	require.NoError(t, err)

	assert.Equal(t, int64(7), view.RepresentativeOrderID)
	assert.True(t, view.Degraded)
	assert.NotEmpty(t, view.Warnings)
}

func TestConsolidateBulkGroupedOrdersOweTheirOwnTotals(t *testing.T) {
	// Two card orders of 1000 placed separately: (1000 + 3000) * 1.1 each.
	members := []models.Order{
		member(21, "S260501-0021", time.Minute, 4400, 0, 3000, 1),
		member(20, "S260501-0020", 0, 4400, 0, 3000, 1),
	}
	for i := range members {
		members[i].GroupPriced = false
	}

	view, err := Consolidate("GROUP-9", members)
	require.NoError(t, err)

	assert.False(t, view.Degraded, view.Warnings)
	assert.Equal(t, int64(20), view.RepresentativeOrderID)
	assert.True(t, decimal.NewFromInt(8800).Equal(view.TotalAmount), view.TotalAmount.String())
	assert.True(t, decimal.NewFromInt(6000).Equal(view.ShippingFee))
	for _, line := range view.Members {
		assert.True(t, decimal.NewFromInt(3000).Equal(line.DisplayedShippingFee))
	}
}

func TestConsolidateRejectsEmptyGroup(t *testing.T) {
	_, err := Consolidate("GROUP-5", nil)

	var v *apperr.ValidationError
	assert.True(t, errors.As(err, &v))
}

func TestGroupViewBoundsQuery(t *testing.T) {
	var gotLimit int
	s := &Service{
		maxGroupSize: 2,
		load: func(_ context.Context, _ database.DBTX, _ string, limit int) ([]models.Order, error) {
			gotLimit = limit
			return []models.Order{member(1, "A", 0, 1, 0, 1, 0), member(2, "B", 1, 1, 0, 0, 0), member(3, "C", 2, 1, 0, 0, 0)}, nil
		},
	}

	_, err := s.GroupView(context.Background(), "GROUP-6")

	assert.Equal(t, 3, gotLimit)
	var v *apperr.ValidationError
	assert.True(t, errors.As(err, &v))
}

func TestGroupViewNotFound(t *testing.T) {
	s := &Service{
		maxGroupSize: DefaultMaxGroupSize,
		load: func(context.Context, database.DBTX, string, int) ([]models.Order, error) {
			return nil, nil
		},
	}

	_, err := s.GroupView(context.Background(), "GROUP-7")

	assert.True(t, errors.Is(err, database.ErrOrderNotFound))
}
