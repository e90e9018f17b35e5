package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/catalog/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Backend = "memory"
	cfg.Scheduler.Enabled = false
	cfg.Listen.Addr = "127.0.0.1:0"
	cfg.Observability.Enabled = false
	cfg.Bundle.CacheDir = t.TempDir()
	return cfg
}

func startDaemon(t *testing.T) (*Daemon, func()) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := New(testConfig(t), Options{Version: "test"}, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	startErrCh := make(chan error, 1)
	go func() { startErrCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool {
		return d.listener != nil
	}, 2*time.Second, 10*time.Millisecond)

	cleanup := func() {
		cancel()
		require.NoError(t, d.Shutdown(context.Background()))
		select {
		case <-startErrCh:
		case <-time.After(2 * time.Second):
		}
	}
	return d, cleanup
}

func TestDaemon_StartServesHealthEndpoint(t *testing.T) {
	d, cleanup := startDaemon(t)
	defer cleanup()

	resp, err := http.Get("http://" + d.listener.Addr().String() + "/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestDaemon_RunEndToEnd_RegisterAndTriggerRun(t *testing.T) {
	d, cleanup := startDaemon(t)
	defer cleanup()

	base := "http://" + d.listener.Addr().String()

	jobBody := `{"name":"Noop","runtime":"node","entryPoint":"noop.run"}`
	req, err := http.NewRequest(http.MethodPut, base+"/v1/jobs/noop", strings.NewReader(jobBody))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	wfBody := `{"steps":[{"id":"a","type":"job","jobSlug":"noop"}]}`
	req, err = http.NewRequest(http.MethodPut, base+"/v1/workflows/pipeline", strings.NewReader(wfBody))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	runBody := `{"workflow":"pipeline"}`
	resp, err = http.Post(base+"/v1/runs", "application/json", strings.NewReader(runBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var run map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	require.Equal(t, "pending", run["status"])
}

func TestDaemon_DoubleStart_Errors(t *testing.T) {
	d, cleanup := startDaemon(t)
	defer cleanup()

	err := d.Start(context.Background())
	require.Error(t, err)
}
