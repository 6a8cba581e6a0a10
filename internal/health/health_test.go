package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/cloudnet/internal/clock"
)

type fakePasses struct {
	started time.Time
	err     error
	ran     bool
}

func (f fakePasses) LastPassInfo() (time.Time, bool, error) { return f.started, f.ran, f.err }

func TestChecker_AggregatesWorstStatus(t *testing.T) {
	c := NewChecker(clock.NewMock(time.Now()))
	c.Register("ok", func(ctx context.Context) Check { return Check{Status: StatusHealthy} })
	c.Register("meh", func(ctx context.Context) Check { return Check{Status: StatusDegraded} })

	report := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, []string{"meh", "ok"}, report.Names())
	assert.Equal(t, "meh", report.Checks["meh"].Name)

	c.Register("bad", func(ctx context.Context) Check { return Check{Status: StatusUnhealthy} })
	assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)
}

func TestChecker_CachesReport(t *testing.T) {
	mock := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewChecker(mock)
	calls := 0
	c.Register("count", func(ctx context.Context) Check {
		calls++
		return Check{Status: StatusHealthy}
	})

	c.Check(context.Background())
	c.Check(context.Background())
	assert.Equal(t, 1, calls)

	mock.Advance(DefaultTTL + time.Second)
	c.Check(context.Background())
	assert.Equal(t, 2, calls)
}

func TestReconcileCheck(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mock := clock.NewMock(now)
	maxAge := 15 * time.Minute

	tests := []struct {
		name string
		src  fakePasses
		want Status
	}{
		{"never ran", fakePasses{}, StatusDegraded},
		{"failed", fakePasses{started: now, err: errors.New("boom"), ran: true}, StatusUnhealthy},
		{"stale", fakePasses{started: now.Add(-time.Hour), ran: true}, StatusUnhealthy},
		{"fresh", fakePasses{started: now.Add(-time.Minute), ran: true}, StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := ReconcileCheck(tt.src, maxAge, mock)(context.Background())
			assert.Equal(t, tt.want, check.Status)
		})
	}
}

func TestLinksCheck(t *testing.T) {
	assert.Equal(t, StatusUnhealthy, LinksCheck(func() int { return 0 })(context.Background()).Status)
	assert.Equal(t, StatusHealthy, LinksCheck(func() int { return 2 })(context.Background()).Status)
}

func TestGatewayCheck(t *testing.T) {
	gws := map[string]string{"eth0": "10.0.0.1", "eth1": "10.1.0.1"}
	ping := func(ip string) error {
		if ip == "10.1.0.1" {
			return errors.New("packet loss")
		}
		return nil
	}

	check := GatewayCheck(func() map[string]string { return gws }, ping)(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Contains(t, check.Message, "eth1 via 10.1.0.1")

	none := GatewayCheck(func() map[string]string { return nil }, ping)(context.Background())
	assert.Equal(t, StatusHealthy, none.Status)
}

func TestHandler(t *testing.T) {
	c := NewChecker(nil)
	c.Register("bad", func(ctx context.Context) Check { return Check{Status: StatusUnhealthy, Message: "down"} })

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, "down", report.Checks["bad"].Message)

	rec = httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "OK", rec.Body.String())
}
