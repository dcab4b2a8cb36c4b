package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisRecorded(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)

	m.Analysis("s1", 0.8, true, 40, time.Millisecond)
	m.Analysis("s1", 0.7, true, 41, time.Millisecond)
	m.Analysis("s2", 0.2, false, 5, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.analyses.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analyses.WithLabelValues("false")))
	assert.Equal(t, 0.7, testutil.ToFloat64(m.score.WithLabelValues("s1")))
	assert.Equal(t, 41.0, testutil.ToFloat64(m.samples.WithLabelValues("s1")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.score))
}

func TestForget(t *testing.T) {
	m, err := New("kc")
	require.NoError(t, err)

	m.Analysis("a", 0.5, false, 1, 0)
	m.Analysis("b", 0.5, false, 1, 0)
	m.Forget("a")

	assert.Equal(t, 1, testutil.CollectAndCount(m.score))
	assert.Equal(t, 1, testutil.CollectAndCount(m.samples))
}

func TestTransitionsAndDetectors(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)

	m.Transition("unknown", "human")
	m.Transition("human", "human")
	m.Transition("human", "unknown")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("unknown", "human")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.transitions))

	m.DetectorStarted()
	m.DetectorStarted()
	m.DetectorStopped()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeDetectors))

	m.Keystroke()
	m.Signal("paste")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keystrokes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signals.WithLabelValues("paste")))
}

func TestHandlerExposition(t *testing.T) {
	m, err := New("keycadence")
	require.NoError(t, err)
	m.Keystroke()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "keycadence_keystrokes_total 1"), string(body))
}

func TestIndependentRegistries(t *testing.T) {
	a, err := New("")
	require.NoError(t, err)
	b, err := New("")
	require.NoError(t, err)

	a.Keystroke()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.keystrokes))
	assert.NotSame(t, a.Registry(), b.Registry())
}
