package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

type stubCheck struct{ err error }

func (s stubCheck) Ping(context.Context) error     { return s.err }
func (s stubCheck) SelfTest(context.Context) error { return s.err }

func TestHealthService_Check(t *testing.T) {
	down := errors.New("down")

	tests := []struct {
		name       string
		db         stubCheck
		cipher     SelfTester
		wantStatus string
		wantDB     string
		wantEnc    string
	}{
		{name: "all healthy", cipher: stubCheck{}, wantStatus: HealthOK, wantDB: HealthOK, wantEnc: HealthOK},
		{name: "database down", db: stubCheck{err: down}, cipher: stubCheck{}, wantStatus: HealthDegraded, wantDB: HealthDegraded, wantEnc: HealthOK},
		{name: "cipher failing", cipher: stubCheck{err: down}, wantStatus: HealthDegraded, wantDB: HealthOK, wantEnc: HealthDegraded},
		{name: "no cipher configured", wantStatus: HealthOK, wantDB: HealthOK, wantEnc: HealthOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clk := clock.NewMock()
			svc := NewHealthService(tc.db, tc.cipher, clk)
			clk.Add(90 * time.Second)

			report := svc.Check(context.Background())
			assert.Equal(t, tc.wantStatus, report.Status)
			assert.Equal(t, tc.wantDB, report.Components["database"])
			assert.Equal(t, tc.wantEnc, report.Components["encryption"])
			assert.Equal(t, 90*time.Second, report.Uptime)
		})
	}
}
