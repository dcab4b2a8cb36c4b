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
)

func healthy(context.Context) CheckResult   { return CheckResult{Status: StatusHealthy} }
func unhealthy(context.Context) CheckResult { return CheckResult{Status: StatusUnhealthy} }

func TestOverall(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(c *Checker)
		run      bool
		expected Status
	}{
		{"empty", func(c *Checker) {}, true, StatusHealthy},
		{"critical never run", func(c *Checker) { c.Register("a", true, healthy) }, false, StatusUnknown},
		{"all healthy", func(c *Checker) {
			c.Register("a", true, healthy)
			c.Register("b", false, healthy)
		}, true, StatusHealthy},
		{"non-critical failure degrades", func(c *Checker) {
			c.Register("a", true, healthy)
			c.Register("b", false, unhealthy)
		}, true, StatusDegraded},
		{"critical failure", func(c *Checker) {
			c.Register("a", true, unhealthy)
			c.Register("b", false, healthy)
		}, true, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			tt.setup(c)
			if tt.run {
				c.Run(context.Background())
			}
			assert.Equal(t, tt.expected, c.Overall())
		})
	}
}

func TestErrorCheck(t *testing.T) {
	ok := ErrorCheck("fine", func(context.Context) error { return nil })
	assert.Equal(t, StatusHealthy, ok(context.Background()).Status)

	bad := ErrorCheck("fine", func(context.Context) error { return errors.New("broken") })
	res := bad(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "broken", res.Error)
}

func TestRunRecoversPanic(t *testing.T) {
	c := NewChecker()
	c.Register("boom", true, func(context.Context) CheckResult { panic("kaboom") })

	res := c.Run(context.Background())["boom"]
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "kaboom", res.Error)
}

func TestRunTimesOut(t *testing.T) {
	c := NewChecker()
	c.Register("slow", false, func(ctx context.Context) CheckResult {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return CheckResult{Status: StatusHealthy}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := c.Run(ctx)["slow"]
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "check timed out", res.Message)
}

func TestHandler(t *testing.T) {
	c := NewChecker()
	c.Register("scoring", true, healthy)
	c.Register("config", false, unhealthy)
	assert.Equal(t, []string{"config", "scoring"}, c.Names())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var rep Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, StatusDegraded, rep.Status)
	assert.Len(t, rep.Components, 2)

	c.Register("scoring", true, unhealthy)
	rec = httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("scoring", true, healthy)

	rec := httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c.SetReady(true)
	c.Run(context.Background())
	rec = httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
