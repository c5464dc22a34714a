package timeline

import (
	"context"
	"strings"
)

// Lister is the read side of the event log.
type Lister interface {
	List(ctx context.Context, filter Filter) ([]Event, error)
}

type Service struct {
	repo Lister
}

func NewService(repo Lister) *Service {
	return &Service{repo: repo}
}

// List returns a pool's events. Topic filters are matched case-insensitively
// since log consumers often pass checksummed hex.
func (s *Service) List(ctx context.Context, filter Filter) ([]Event, error) {
	if filter.PoolAddress == "" {
		return nil, ErrMissingPool
	}
	filter.Topic = strings.ToLower(strings.TrimSpace(filter.Topic))
	return s.repo.List(ctx, filter)
}
