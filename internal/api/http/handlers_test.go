package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/armctl/backend/internal/api/middleware"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/manager"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/process"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/armctl/backend/internal/pipelines"
	"github.com/GriffinCanCode/armctl/backend/internal/pipelines/modulus"
	"github.com/GriffinCanCode/armctl/backend/internal/pipelines/pickplace"
)

func setupRouter(t *testing.T) (*gin.Engine, *manager.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg, err := pipelines.NewRegistry()
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(promReg)
	t.Cleanup(metrics.Close)

	mgr := manager.NewManager(reg, &process.GoroutineLauncher{Registry: reg}, manager.Settings{
		StartTimeout:   2 * time.Second,
		StopTimeout:    2 * time.Second,
		StatusInterval: 50 * time.Millisecond,
	}).WithMetrics(metrics)
	t.Cleanup(mgr.Cleanup)

	router := gin.New()
	router.Use(middleware.RequestID(nil))
	NewHandlers(mgr, promReg).WithMetrics(metrics).Register(router)
	return router, mgr
}

func do(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestRootAndHealth(t *testing.T) {
	router, _ := setupRouter(t)

	w, body := do(t, router, "GET", "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, Version, body["version"])

	w, body = do(t, router, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 3, body["pipelines"].(map[string]any)["available"])
	assert.Contains(t, body["metrics"], "active_pipelines")
}

func TestListPipelines(t *testing.T) {
	router, _ := setupRouter(t)

	w, body := do(t, router, "GET", "/pipelines", "")
	require.Equal(t, http.StatusOK, w.Code)

	available := body["available_pipelines"].([]any)
	require.Len(t, available, 3)
	names := make([]string, len(available))
	for i, meta := range available {
		names[i] = meta.(map[string]any)["name"].(string)
	}
	assert.Equal(t, []string{modulus.Name, pickplace.PlaceName, pickplace.StackName}, names)
	assert.Empty(t, body["running_pipelines"])
}

func TestStartSignalStatusStop(t *testing.T) {
	router, mgr := setupRouter(t)

	w, body := do(t, router, "POST", "/pipelines/"+pickplace.PlaceName+"/start", `{"publish_frames": false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", body["status"])
	assert.NotEmpty(t, body["run_id"])
	assert.Equal(t, []string{pickplace.PlaceName}, mgr.Running())

	w, body = do(t, router, "POST", "/pipelines/"+pickplace.PlaceName+"/signal", `{"signal":"stop","priority":"HIGH"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "HIGH", body["priority"])

	require.Eventually(t, func() bool {
		return mgr.Status(pickplace.PlaceName).StateOrEmpty() == string(pickplace.StateStopped)
	}, 2*time.Second, 20*time.Millisecond)

	w, body = do(t, router, "GET", "/pipelines/"+pickplace.PlaceName+"/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(pickplace.StateStopped), body["state"])
	assert.Equal(t, true, body["running"])
	assert.Contains(t, body["available_signals"], pickplace.SignalPickPlace)
	assert.Equal(t, false, body["config"].(map[string]any)["publish_frames"])

	w, body = do(t, router, "GET", "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["pipelines"], 1)

	w, body = do(t, router, "POST", "/pipelines/"+pickplace.PlaceName+"/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["graceful"])
	assert.Empty(t, mgr.Running())

	// Stopping again is a no-op that still succeeds
	w, body = do(t, router, "POST", "/pipelines/"+pickplace.PlaceName+"/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body["message"], "not running")

	w, body = do(t, router, "GET", "/pipelines/"+pickplace.PlaceName+"/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, body["state"])
	assert.Equal(t, false, body["running"])
}

func TestErrorMapping(t *testing.T) {
	router, mgr := setupRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"unknown pipeline", "POST", "/pipelines/nope/start", "", http.StatusNotFound, "unknown pipeline"},
		{"invalid name", "POST", "/pipelines/bad.name/start", "", http.StatusBadRequest, "invalid characters"},
		{"override is not an object", "POST", "/pipelines/modulus/start", `[1,2]`, http.StatusBadRequest, "parse json"},
		{"construction failure", "POST", "/pipelines/" + pickplace.PlaceName + "/start",
			`{"handlers":{"arm_control":{"task":"juggle"}}}`, http.StatusUnprocessableEntity, "juggle"},
		{"signal to idle pipeline", "POST", "/pipelines/modulus/signal", `{"signal":"go"}`, http.StatusConflict, "not running"},
		{"missing signal", "POST", "/pipelines/modulus/signal", `{"priority":"HIGH"}`, http.StatusBadRequest, "signal is required"},
		{"bad priority", "POST", "/pipelines/modulus/signal", `{"signal":"go","priority":"URGENT"}`, http.StatusBadRequest, "invalid priority"},
		{"malformed signal body", "POST", "/pipelines/modulus/signal", `{`, http.StatusBadRequest, "invalid signal request"},
		{"status of unknown pipeline", "GET", "/pipelines/nope/status", "", http.StatusNotFound, "unknown pipeline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Contains(t, strings.ToLower(body["error"].(string)), tt.wantError)
			assert.NotEmpty(t, body["request_id"])
			assert.Equal(t, body["request_id"], w.Header().Get(middleware.HeaderRequestID))
		})
	}
	assert.Empty(t, mgr.Running(), "failed starts leave nothing behind")
}

func TestRestartReplacesInstance(t *testing.T) {
	router, mgr := setupRouter(t)

	_, first := do(t, router, "POST", "/pipelines/modulus/start", `{"idle_interval":"10ms"}`)
	_, second := do(t, router, "POST", "/pipelines/modulus/start", "")
	require.NotEmpty(t, first["run_id"])
	assert.NotEqual(t, first["run_id"], second["run_id"])
	assert.Equal(t, []string{modulus.Name}, mgr.Running())
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupRouter(t)
	do(t, router, "POST", "/pipelines/nope/start", "")

	w, _ := do(t, router, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "armctl_pipeline_creates_total")
}
