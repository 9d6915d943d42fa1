package application

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Health states reported per component and overall.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// Pinger checks that a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SelfTester proves a component works end to end, such as an encrypt and
// decrypt round trip.
type SelfTester interface {
	SelfTest(ctx context.Context) error
}

// HealthReport is the structured health view served by the HTTP API.
type HealthReport struct {
	Status     string
	Components map[string]string
	Uptime     time.Duration
}

// HealthService aggregates component checks into one report.
type HealthService struct {
	db      Pinger
	cipher  SelfTester
	clock   clock.Clock
	started time.Time
}

// NewHealthService creates a new HealthService with the required dependencies.
func NewHealthService(db Pinger, cipher SelfTester, clk clock.Clock) *HealthService {
	return &HealthService{
		db:      db,
		cipher:  cipher,
		clock:   clk,
		started: clk.Now(),
	}
}

// Check runs every component check. Overall status is degraded if any
// component fails.
func (s *HealthService) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:     HealthOK,
		Components: map[string]string{"database": HealthOK, "encryption": HealthOK},
		Uptime:     s.clock.Since(s.started),
	}

	if err := s.db.Ping(ctx); err != nil {
		report.Components["database"] = HealthDegraded
		report.Status = HealthDegraded
	}
	if s.cipher != nil {
		if err := s.cipher.SelfTest(ctx); err != nil {
			report.Components["encryption"] = HealthDegraded
			report.Status = HealthDegraded
		}
	}
	return report
}
