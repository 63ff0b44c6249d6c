package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStage(t *testing.T) {
	m := New("run-1")

	started := time.Now().Add(-2 * time.Second)
	m.ObserveStage("packages", "package-build", started, nil)
	m.ObserveStage("packages", "package-build", started, errors.New("boom"))

	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageFailures.WithLabelValues("packages", "package-build")))
}

func TestObserveRun(t *testing.T) {
	m := New("run-2")

	m.ObserveRun("release", nil)
	m.ObserveRun("release", errors.New("failed"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("release", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("release", "false")))
	assert.Greater(t, testutil.ToFloat64(m.LastSuccess.WithLabelValues("release")), float64(0))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveStage("release", "compile", time.Now(), nil)
	m.ObserveRun("release", nil)
	assert.NoError(t, m.WriteTextfile("/nonexistent/farbot.prom"))
}

func TestWriteTextfile(t *testing.T) {
	m := New("run-3")
	m.ObserveRun("install", nil)

	path := filepath.Join(t.TempDir(), "farbot.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, "farbot_runs_total"), text)
	assert.Contains(t, text, `run_id="run-3"`)
}
