package diagnostics_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-microkernel/framework/diagnostics"
	"github.com/km-arc/go-microkernel/framework/kernel"
	"github.com/km-arc/go-microkernel/framework/metrics"
)

type store struct{}
type api struct{ s *store }

var storeType = kernel.ServiceOf[*store]()

// ── helpers ──────────────────────────────────────────────────────────────────

func get(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.NewDecoder(rr.Body).Decode(out), rr.Body.String())
	}
	return rr.Code
}

type envelope[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// waitingKernel has "api" waiting for a *store nobody provides, plus a
// valid pooled "worker".
func waitingKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	k := kernel.New()
	_, err := kernel.Component("api").
		For(kernel.ServiceOf[*api]()).
		UsingFactory(func(a *kernel.Activation) (any, error) {
			s, err := kernel.Arg[*store](a, storeType.String())
			if err != nil {
				return nil, err
			}
			return &api{s: s}, nil
		}).
		DependsOn(kernel.Needs(storeType)).
		Register(k)
	require.NoError(t, err)

	_, err = kernel.Component("worker").
		For(kernel.ServiceType("worker")).
		UsingFactory(func(*kernel.Activation) (any, error) { return &store{}, nil }).
		LifestylePooled(1, 2).
		Register(k)
	require.NoError(t, err)
	return k
}

// ── /healthz ─────────────────────────────────────────────────────────────────

func TestHealth_DegradedWhileWaiting(t *testing.T) {
	k := waitingKernel(t)
	srv := diagnostics.New(k)

	var body envelope[diagnostics.Health]
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv.Handler(), "/healthz", &body))
	assert.Equal(t, diagnostics.Health{Status: "degraded", Valid: 1, Waiting: 1}, body.Data)

	_, err := kernel.Component("store").For(storeType).Instance(&store{}).Register(k)
	require.NoError(t, err)

	body = envelope[diagnostics.Health]{}
	assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/healthz", &body))
	assert.Equal(t, diagnostics.Health{Status: "ok", Valid: 3}, body.Data)
}

func TestHealth_HeadAndNoCache(t *testing.T) {
	srv := diagnostics.New(kernel.New())

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodHead, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Cache-Control"), "no-cache")
}

// ── /components ──────────────────────────────────────────────────────────────

func TestComponents_ListAndFilter(t *testing.T) {
	srv := diagnostics.New(waitingKernel(t))

	var all envelope[[]diagnostics.ComponentView]
	require.Equal(t, http.StatusOK, get(t, srv.Handler(), "/components", &all))
	require.Len(t, all.Data, 2)
	assert.Equal(t, "api", all.Data[0].Name)
	assert.Equal(t, "waiting", all.Data[0].State)
	assert.Equal(t, "pooled", all.Data[1].Lifestyle)

	var waiting envelope[[]diagnostics.ComponentView]
	require.Equal(t, http.StatusOK, get(t, srv.Handler(), "/components?state=waiting", &waiting))
	require.Len(t, waiting.Data, 1)
	assert.Equal(t, "api", waiting.Data[0].Name)

	var none envelope[[]diagnostics.ComponentView]
	require.Equal(t, http.StatusOK, get(t, srv.Handler(), "/components?state=invalid", &none))
	assert.Empty(t, none.Data)
}

func TestComponents_LifestyleFilterAndVerbose(t *testing.T) {
	srv := diagnostics.New(waitingKernel(t))

	var pooled envelope[[]diagnostics.ComponentDetail]
	require.Equal(t, http.StatusOK, get(t, srv.Handler(), "/components?lifestyle=pooled&verbose=true", &pooled))
	require.Len(t, pooled.Data, 1)
	assert.Equal(t, "worker", pooled.Data[0].Name)
	require.NotNil(t, pooled.Data[0].Pool, "verbose listing carries pool stats")
	assert.Equal(t, 2, pooled.Data[0].Pool.MaxSize)

	var brief envelope[[]map[string]any]
	require.Equal(t, http.StatusOK, get(t, srv.Handler(), "/components?lifestyle=singleton", &brief))
	require.Len(t, brief.Data, 1)
	assert.Equal(t, "api", brief.Data[0]["name"])
	assert.NotContains(t, brief.Data[0], "dependencies")
}

func TestComponent_Detail(t *testing.T) {
	k := waitingKernel(t)
	_, err := k.Resolve("worker")
	require.NoError(t, err)
	srv := diagnostics.New(k)

	var apiView envelope[diagnostics.ComponentDetail]
	require.Equal(t, http.StatusOK, get(t, srv.Handler(), "/components/api", &apiView))
	require.Len(t, apiView.Data.Dependencies, 1)
	dep := apiView.Data.Dependencies[0]
	assert.Equal(t, "service", dep.Kind)
	assert.Equal(t, storeType.String(), dep.Type)
	assert.True(t, dep.Missing)
	assert.Nil(t, apiView.Data.Pool)

	var workerView envelope[diagnostics.ComponentDetail]
	require.Equal(t, http.StatusOK, get(t, srv.Handler(), "/components/worker", &workerView))
	require.NotNil(t, workerView.Data.Pool)
	assert.Equal(t, 1, workerView.Data.Pool.Borrowed)
	assert.Equal(t, 2, workerView.Data.Pool.MaxSize)
}

func TestComponent_ReportsFailure(t *testing.T) {
	k := kernel.New()
	_, err := kernel.Component("db").
		For(kernel.ServiceType("db")).
		UsingFactory(func(*kernel.Activation) (any, error) { return nil, errors.New("dial refused") }).
		Register(k)
	require.NoError(t, err)
	_, err = k.Resolve("db")
	require.Error(t, err)

	var body envelope[diagnostics.ComponentDetail]
	require.Equal(t, http.StatusOK, get(t, diagnostics.New(k).Handler(), "/components/db", &body))
	assert.Equal(t, "invalid", body.Data.State)
	assert.Contains(t, body.Data.Failure, "dial refused")
}

func TestComponent_NotFound(t *testing.T) {
	var body envelope[any]
	code := get(t, diagnostics.New(kernel.New()).Handler(), "/components/ghost", &body)

	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, kernel.CodeComponentNotFound, body.Code)
	assert.Contains(t, body.Message, "ghost")
}

// ── /metrics ─────────────────────────────────────────────────────────────────

func TestMetrics_MountedWhenConfigured(t *testing.T) {
	k := waitingKernel(t)
	assert.Equal(t, http.StatusNotFound, get(t, diagnostics.New(k).Handler(), "/metrics", nil))

	c := metrics.NewCollector("diag", false)
	require.NoError(t, c.Attach(k))
	srv := diagnostics.New(k, diagnostics.WithMetrics(c.Handler()))

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `diag_kernel_handlers{state="waiting"} 1`)
}

// ── Serve ────────────────────────────────────────────────────────────────────

func TestServe_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- diagnostics.New(kernel.New()).Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
