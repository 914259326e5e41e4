package consolidation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/safar/go-order-engine/internal/apperr"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/metrics"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/requestctx"
	"github.com/safar/go-order-engine/internal/store"
)

const DefaultMaxGroupSize = 100

type loadFunc func(ctx context.Context, q database.DBTX, groupID string, limit int) ([]models.Order, error)

type Service struct {
	db           database.DBTX
	load         loadFunc
	maxGroupSize int
	metrics      *metrics.Metrics
}

func NewService(db database.DBTX, m *metrics.Metrics) *Service {
	return &Service{
		db:           db,
		load:         store.FindOrdersByPaymentGroup,
		maxGroupSize: DefaultMaxGroupSize,
		metrics:      m,
	}
}

// GroupView loads at most maxGroupSize members and consolidates them.
// Degraded groups are returned with warnings, which are also logged.
func (s *Service) GroupView(ctx context.Context, groupID string) (*View, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, apperr.Validation("payment_group_id", "must not be empty")
	}

	members, err := s.load(ctx, s.db, groupID, s.maxGroupSize+1)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, apperr.NotFound("payment group", groupID, database.ErrOrderNotFound)
	}
	if len(members) > s.maxGroupSize {
		return nil, apperr.Validation("payment_group_id", "group has more than %d members", s.maxGroupSize)
	}

	view, err := Consolidate(groupID, members)
	if err != nil {
		return nil, err
	}

	for _, warning := range view.Warnings {
		s.metrics.IntegrityWarning("payment_group")
		requestctx.Logger(ctx).Warn("data integrity warning",
			zap.String("payment_group_id", groupID),
			zap.String("warning", warning),
		)
	}

	return view, nil
}
