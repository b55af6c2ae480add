package infra

import (
	"context"
	"errors"

	"coalescing-gateway/middleware/coalesce/domain"
)

// MultiStatsStore repassa cada evento para todos os stores.
// Um store com erro não impede os outros.
type MultiStatsStore []domain.StatsStore

func (m MultiStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
