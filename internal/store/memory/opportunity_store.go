package memory

import (
	"context"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// OpportunityStore is the in-memory opportunity log.
type OpportunityStore struct {
	log *Log[domain.Opportunity]
}

// NewOpportunityStore keeps the newest capacity opportunities.
func NewOpportunityStore(capacity int) *OpportunityStore {
	return &OpportunityStore{
		log: NewLog(capacity,
			func(o domain.Opportunity) time.Time { return o.Timestamp },
			func(o domain.Opportunity) string { return o.Symbol },
		),
	}
}

// InsertBatch implements domain.OpportunityStore.
func (s *OpportunityStore) InsertBatch(_ context.Context, opps []domain.Opportunity) error {
	s.log.Append(opps...)
	return nil
}

// List implements domain.OpportunityStore.
func (s *OpportunityStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Opportunity, error) {
	return s.log.Window(opts), nil
}

// ListBefore implements domain.OpportunityStore.
func (s *OpportunityStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Opportunity, error) {
	return s.log.Before(before, limit), nil
}

// DeleteBefore implements domain.OpportunityStore.
func (s *OpportunityStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	return int64(s.log.DeleteBefore(before)), nil
}

// Latest returns the newest opportunity.
func (s *OpportunityStore) Latest() (domain.Opportunity, bool) {
	return s.log.Last()
}

// Len returns the number of retained opportunities.
func (s *OpportunityStore) Len() int { return s.log.Len() }

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
