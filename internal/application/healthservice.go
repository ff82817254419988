package application

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
)

// HealthStatus is the health of a component or of the whole service.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthFailing  HealthStatus = "failing"
)

// ComponentHealth is the result of checking one dependency.
type ComponentHealth struct {
	Name   string
	Status HealthStatus
	Detail string
}

// HealthReport combines the health of every checked component.
type HealthReport struct {
	Status     HealthStatus
	Components []ComponentHealth
}

// Pinger reports whether a storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueCounter reads job counts from the queue broker.
type QueueCounter interface {
	Counts(ctx context.Context) (model.JobCounts, error)
}

// CredentialStatus reports the expiry of the stored credential.
type CredentialStatus interface {
	Status(ctx context.Context) (*model.ExpirationAssessment, error)
}

// HealthService checks the service's dependencies. It depends only on narrow
// interfaces so it never triggers a renewal or touches the remote API.
type HealthService struct {
	db      Pinger
	queue   QueueCounter
	tokens  CredentialStatus
	timeout time.Duration
}

// NewHealthService creates a new HealthService with the required dependencies.
func NewHealthService(db Pinger, queue QueueCounter, tokens CredentialStatus) *HealthService {
	return &HealthService{
		db:      db,
		queue:   queue,
		tokens:  tokens,
		timeout: 2 * time.Second,
	}
}

// Check runs every component check and combines the results.
func (s *HealthService) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	components := []ComponentHealth{
		s.checkDatabase(ctx),
		s.checkQueue(ctx),
		s.checkCredential(ctx),
	}

	return HealthReport{
		Status:     combineHealth(components),
		Components: components,
	}
}

func (s *HealthService) checkDatabase(ctx context.Context) ComponentHealth {
	c := ComponentHealth{Name: "database", Status: HealthOK}
	if err := s.db.Ping(ctx); err != nil {
		c.Status = HealthFailing
		c.Detail = "database unreachable"
	}
	return c
}

func (s *HealthService) checkQueue(ctx context.Context) ComponentHealth {
	c := ComponentHealth{Name: "queue", Status: HealthOK}
	counts, err := s.queue.Counts(ctx)
	if err != nil {
		c.Status = HealthFailing
		c.Detail = "queue unavailable"
		return c
	}
	if counts.Failed > 0 {
		c.Status = HealthDegraded
		c.Detail = "failed jobs present"
	}
	return c
}

// checkCredential never fails the service: a missing or expiring credential is
// renewed on the next sync.
func (s *HealthService) checkCredential(ctx context.Context) ComponentHealth {
	c := ComponentHealth{Name: "credential", Status: HealthOK}
	status, err := s.tokens.Status(ctx)
	switch {
	case errors.Is(err, model.ErrMalformedCredential):
		c.Status = HealthDegraded
		c.Detail = "stored credential has no readable expiry"
	case err != nil:
		c.Status = HealthDegraded
		c.Detail = "credential store unreadable"
	case status == nil:
		c.Status = HealthDegraded
		c.Detail = "no credential stored"
	case status.IsExpired:
		c.Status = HealthDegraded
		c.Detail = "credential expired"
	}
	return c
}

// combineHealth aggregates component results into a single status.
// Priority: failing > degraded > ok.
func combineHealth(components []ComponentHealth) HealthStatus {
	var hasDegraded bool

	for _, c := range components {
		switch c.Status {
		case HealthFailing:
			return HealthFailing
		case HealthDegraded:
			hasDegraded = true
		}
	}

	if hasDegraded {
		return HealthDegraded
	}
	return HealthOK
}
