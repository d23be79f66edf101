package term

import "context"

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Resolve returns the named term, or the current term when id is empty.
func (s *Service) Resolve(ctx context.Context, id string) (*Term, error) {
	if id == "" {
		return s.repo.GetCurrent(ctx)
	}
	return s.repo.GetByID(ctx, id)
}
