package hubservice

import (
	"context"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
)

// ListHistory returns persisted capture or relay requests, newest first.
// Without a history store the page is empty.
func (s *HubService) ListHistory(ctx context.Context, filter models.HistoryFilter) (models.HistoryPage, error) {
	filter.Normalize()
	if !filter.Kind.Valid() {
		return models.HistoryPage{}, errors.NewValidationError("unknown kind: "+string(filter.Kind), nil)
	}
	items, err := s.History.List(ctx, filter.Kind, filter.Offset, filter.Limit)
	if err != nil {
		return models.HistoryPage{}, err
	}
	if items == nil {
		items = []*models.HistoryRecord{}
	}
	return models.HistoryPage{HistoryFilter: filter, Items: items}, nil
}
