package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestSystemServiceHealthReportStampsBuildInfo(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{"database": {Status: domain.HealthStatusOK}},
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Version != "1.4.0" || report.CommitSHA != "abc123" || report.Environment != "prod" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Uptime != 5*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected timing uptime=%s generated=%s", report.Uptime, report.GeneratedAt)
	}
}

func TestSystemServiceReadiness(t *testing.T) {
	tests := map[string]struct {
		checks  map[string]domain.SystemHealthCheck
		status  string
		wantErr bool
	}{
		"all ok":   {checks: map[string]domain.SystemHealthCheck{"database": {Status: domain.HealthStatusOK}}, status: domain.HealthStatusOK},
		"degraded": {checks: map[string]domain.SystemHealthCheck{"redis": {Status: domain.HealthStatusDegraded}}, status: domain.HealthStatusDegraded},
		"database down": {
			checks:  map[string]domain.SystemHealthCheck{"database": {Status: domain.HealthStatusError}, "redis": {Status: domain.HealthStatusOK}},
			status:  domain.HealthStatusError,
			wantErr: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{Checks: tc.checks}}})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.Readiness(context.Background())
			if tc.wantErr != errors.Is(err, ErrSystemNotReady) {
				t.Fatalf("unexpected readiness error %v", err)
			}
			if report.Status != tc.status {
				t.Fatalf("expected status %s, got %s", tc.status, report.Status)
			}
		})
	}
}

func TestSystemServiceHealthReportPropagatesErrors(t *testing.T) {
	expected := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: expected}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, expected) {
		t.Fatalf("expected %v, got %v", expected, err)
	}
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}
