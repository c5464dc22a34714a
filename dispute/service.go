package dispute

import "context"

// Reader is the read side of the dispute history.
type Reader interface {
	List(ctx context.Context, poolAddress string, status Status) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
}

// Service exposes the dispute history of pools. Raising and resolving go
// through the pool service so they share its transaction.
type Service struct {
	repo Reader
}

func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, poolAddress string, status Status) ([]Record, error) {
	switch status {
	case "", StatusUnderReview, StatusResolved:
	default:
		return nil, ErrBadStatus
	}
	return s.repo.List(ctx, poolAddress, status)
}

func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.repo.Get(ctx, id)
}
