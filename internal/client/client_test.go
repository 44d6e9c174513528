package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/telemetry"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/server"
	"github.com/GriffinCanCode/armctl/backend/internal/pipelines/modulus"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Timeout = 5 * time.Second
	opts.RetryWaitMin = time.Millisecond
	opts.RetryWaitMax = 5 * time.Millisecond
	return opts
}

func newLiveServer(t *testing.T) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.Pipeline.Isolation = config.IsolationGoroutine
	cfg.Pipeline.StartTimeout = 2 * time.Second
	cfg.Pipeline.StopTimeout = 2 * time.Second
	cfg.Pipeline.StatusInterval = 50 * time.Millisecond
	cfg.RateLimit.Enabled = false

	srv, err := server.NewServer(cfg, server.Options{Logger: &logging.Logger{Logger: zap.NewNop()}})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		assert.NoError(t, srv.Close())
	})

	c, err := New(ts.URL, testOptions())
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", testOptions())
	assert.Error(t, err)
	_, err = New("://nope", testOptions())
	assert.Error(t, err)
}

func TestLifecycle(t *testing.T) {
	c := newLiveServer(t)
	ctx := context.Background()

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "online", info["status"])

	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.Running)
	names := make([]string, len(list.Available))
	for i, m := range list.Available {
		names[i] = m.Name
	}
	assert.Contains(t, names, modulus.Name)

	started, err := c.Start(ctx, modulus.Name, pipeline.Config{"idle_interval": "10ms"})
	require.NoError(t, err)
	assert.Equal(t, modulus.Name, started.Pipeline)
	assert.NotEmpty(t, started.RunID)

	sig, err := c.Signal(ctx, modulus.Name, "noop", "high")
	require.NoError(t, err)
	assert.Equal(t, "HIGH", sig.Priority)

	status, err := c.Status(ctx, modulus.Name)
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, started.RunID, status.RunID)
	assert.Equal(t, "10ms", status.Config["idle_interval"])

	all, err := c.StatusAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, modulus.Name, all[0].Name)

	stopped, err := c.Stop(ctx, modulus.Name)
	require.NoError(t, err)
	assert.True(t, stopped.Graceful)

	_, err = c.Signal(ctx, modulus.Name, "noop", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestErrorsCarryServerMessage(t *testing.T) {
	c := newLiveServer(t)

	_, err := c.Start(context.Background(), "no_such_pipeline", nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "no_such_pipeline")

	_, err = c.Signal(context.Background(), modulus.Name, "noop", "urgent")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestRetriesUnavailableButNotFailures(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"available_pipelines":[],"running_pipelines":["arm"]}`))
	}))
	defer ts.Close()

	c, err := New(ts.URL, testOptions())
	require.NoError(t, err)
	list, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"arm"}, list.Running)
	assert.EqualValues(t, 3, calls.Load())

	var failures atomic.Int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		failures.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom","request_id":"r1"}`))
	}))
	defer failing.Close()

	c, err = New(failing.URL, testOptions())
	require.NoError(t, err)
	_, err = c.Start(context.Background(), "arm", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "boom", apiErr.Message)
	assert.Equal(t, "r1", apiErr.RequestID)
	assert.EqualValues(t, 1, failures.Load(), "failed starts are not retried")
}

func TestWatchUntilPipelineStops(t *testing.T) {
	c := newLiveServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var types []string
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, modulus.Name, "", func(msg Message) error {
			typ, _ := msg["type"].(string)
			types = append(types, typ)
			if typ == telemetry.TypeConnectionStatus {
				go func() {
					_, _ = c.Start(ctx, modulus.Name, pipeline.Config{"idle_interval": "10ms"})
					_, _ = c.Stop(ctx, modulus.Name)
				}()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("watch did not end when the pipeline stopped")
	}
	require.NotEmpty(t, types)
	assert.Equal(t, telemetry.TypeConnectionStatus, types[0])
	assert.Equal(t, telemetry.TypePipelineStopped, types[len(types)-1])
}

func TestWatchUnknownPipeline(t *testing.T) {
	c := newLiveServer(t)
	err := c.Watch(context.Background(), "no_such_pipeline", "", func(Message) error { return nil })
	assert.True(t, IsNotFound(err))
}

func TestWatchStopsOnContext(t *testing.T) {
	c := newLiveServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := c.Watch(ctx, modulus.Name, "", func(msg Message) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWatchURL(t *testing.T) {
	c, err := New("https://arm.local:8443/api/", testOptions())
	require.NoError(t, err)
	assert.Equal(t, "wss://arm.local:8443/api/ws/pipeline/arm", c.watchURL("arm", ""))
	assert.Equal(t, "wss://arm.local:8443/api/ws/pipeline/arm/queue/pt_frames", c.watchURL("arm", "pt_frames"))
}
