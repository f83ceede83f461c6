package keymanager

import (
	"context"

	"github.com/ubuygold/stockmeta/internal/model"
)

// Source is one credential pool as seen by a single consumer.
type Source struct {
	m       Manager
	pool    model.Pool
	ownerID uint
}

// UserSource returns the personal pool of one user.
func UserSource(m Manager, ownerID uint) *Source {
	return &Source{m: m, pool: model.PoolUser, ownerID: ownerID}
}

// AdminSource returns the shared rotation pool.
func AdminSource(m Manager) *Source {
	return &Source{m: m, pool: model.PoolAdmin}
}

func (s *Source) Select() (model.Credential, error) {
	return s.m.Select(s.pool, s.ownerID)
}

// ActiveCount is the concurrency bound for a batch: active user credentials, or
// eligible rotation keys for the admin pool.
func (s *Source) ActiveCount() int {
	if s.pool == model.PoolAdmin {
		return s.m.EligibleCount(model.PoolAdmin, 0)
	}
	return s.m.ActiveCount(s.ownerID)
}

func (s *Source) EligibleCount() int {
	return s.m.EligibleCount(s.pool, s.ownerID)
}

func (s *Source) Wait(ctx context.Context, c model.Credential) error {
	return s.m.Wait(ctx, c.ID)
}

func (s *Source) Report(c model.Credential, outcome Outcome) {
	s.m.Report(c.ID, outcome)
}
