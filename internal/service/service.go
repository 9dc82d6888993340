// Package service implements the workflow and authorization engine: document
// catalog resolution, market configuration, the application state machine, the
// submission transaction, machine credential issuance and the ownership gate.
package service

import (
	"time"

	"fasttrack/internal/artifacts"
	"fasttrack/internal/authority"
	"fasttrack/internal/repository"
)

type Service struct {
	repo      *repository.Repository
	authority authority.TokenAuthority
	store     artifacts.Store

	refreshThreshold time.Duration
	now              func() time.Time
}

type option func(*Service)

// WithRefreshThreshold sets how close to expiry a machine token becomes
// eligible for proactive refresh.
func WithRefreshThreshold(d time.Duration) option {
	return func(s *Service) {
		s.refreshThreshold = d
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(repo *repository.Repository, auth authority.TokenAuthority, store artifacts.Store, opts ...option) *Service {
	s := &Service{
		repo:             repo,
		authority:        auth,
		store:            store,
		refreshThreshold: 10 * time.Minute,
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}
