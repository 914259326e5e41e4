package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/safar/go-order-engine/internal/database"
)

func TestInsufficientInventoryUnwrapsToSentinel(t *testing.T) {
	err := fmt.Errorf("reserve: %w", &InsufficientInventoryError{ProductID: 7, Requested: 3})

	assert.True(t, errors.Is(err, database.ErrInsufficientStock))
	assert.True(t, Permanent(err))
}

func TestPublicMessageHidesInternals(t *testing.T) {
	dbErr := database.Wrap("orders", "update", &pq.Error{Code: "40P01", Message: "deadlock detected"})

	status, msg := PublicMessage(dbErr)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, strings.Contains(msg, "40P01"))
	assert.False(t, strings.Contains(msg, "deadlock"))
	assert.False(t, Permanent(dbErr))
}

func TestPublicMessageByKind(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{Validation("items", "must not be empty"), http.StatusBadRequest},
		{&InsufficientInventoryError{ProductID: 1, Requested: 2}, http.StatusConflict},
		{&InvalidStatusTransitionError{OrderID: 1, From: "paid", To: "cancelled"}, http.StatusConflict},
		{&CouponNotAvailableError{Code: "X", Reason: CouponExpired}, http.StatusUnprocessableEntity},
		{NotFound("order", 9, database.ErrOrderNotFound), http.StatusNotFound},
	}

	for _, tt := range tests {
		status, msg := PublicMessage(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.NotEmpty(t, msg)
	}
}

func TestNotFoundUnwraps(t *testing.T) {
	err := NotFound("product", int64(4), database.ErrProductNotFound)

	assert.True(t, errors.Is(err, database.ErrProductNotFound))
	assert.Equal(t, "product 4 not found", err.Error())
}
