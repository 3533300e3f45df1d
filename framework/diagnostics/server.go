// Package diagnostics serves a read-only HTTP view of a kernel: handler
// states, dependency gaps, pool occupancy and the Prometheus scrape.
//
//	GET /healthz              200 ok, 503 when any handler is waiting or invalid (HEAD too)
//	GET /components           ?state=valid,waiting and ?lifestyle=pooled filter,
//	                          ?verbose=true returns the full detail of each
//	GET /components/{name}    dependencies, lifecycle steps, pool stats, failure
//	GET /metrics              Prometheus text format (when a collector is set)
package diagnostics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	gohttp "github.com/km-arc/go-microkernel/framework/http"
	"github.com/km-arc/go-microkernel/framework/kernel"
	"github.com/km-arc/go-microkernel/framework/routing"
)

const shutdownTimeout = 5 * time.Second

// Server is the inspection endpoint for one kernel.
type Server struct {
	kernel  *kernel.Kernel
	logger  *zap.Logger
	metrics http.Handler
	router  *routing.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the access and lifecycle logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// New builds the server and its routes.
func New(k *kernel.Kernel, opts ...Option) *Server {
	s := &Server{kernel: k, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}

	s.router = routing.New(s.logger)
	s.router.Group(func(r *routing.Router) {
		r.Middleware(middleware.NoCache)
		r.Get("/healthz", s.health)
		r.Head("/healthz", s.health)
		r.Prefix("/components", func(r *routing.Router) {
			r.Get("/", s.components)
			r.Get("/{name}", s.component)
		})
	})
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}
	return s
}

// Handler returns the routed handler (for httptest etc.).
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("diagnostics listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("diagnostics stopped")
	return nil
}

// ── handlers ──────────────────────────────────────────────────────────────────

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	res := gohttp.NewResponse(w)
	h := healthOf(s.kernel.Handlers())
	if h.Status != "ok" {
		res.ServiceUnavailable(h)
		return
	}
	res.Success(h)
}

func (s *Server) components(w http.ResponseWriter, r *http.Request) {
	req, res := gohttp.NewRequest(r), gohttp.NewResponse(w)
	states := req.QueryList("state")
	lifestyle := req.Query("lifestyle")
	verbose := req.QueryBool("verbose", false)

	views := make([]any, 0)
	for _, h := range s.kernel.Handlers() {
		if len(states) > 0 && !slices.Contains(states, h.State().String()) {
			continue
		}
		if lifestyle != "" && string(h.Lifestyle()) != lifestyle {
			continue
		}
		if verbose {
			views = append(views, detailOf(h))
		} else {
			views = append(views, viewOf(h))
		}
	}
	res.Success(views)
}

func (s *Server) component(w http.ResponseWriter, r *http.Request) {
	req, res := gohttp.NewRequest(r), gohttp.NewResponse(w)
	h, err := s.kernel.GetHandler(req.RouteParam("name"))
	if err != nil {
		writeKernelError(res, err)
		return
	}
	res.Success(detailOf(h))
}

// writeKernelError maps a kernel error code onto an HTTP status.
func writeKernelError(res *gohttp.Response, err error) {
	code := kernel.CodeOf(err)
	extra := gohttp.Envelope{"code": code}
	switch code {
	case kernel.CodeComponentNotFound:
		res.NotFound(err.Error(), extra)
	case kernel.CodeHandlerNotReady, kernel.CodeCircularDependency, kernel.CodeDependencyUnsatisfied:
		res.Error(http.StatusConflict, err.Error(), extra)
	case kernel.CodeResourceExhausted:
		res.Error(http.StatusServiceUnavailable, err.Error(), extra)
	case kernel.CodeKernelDisposed:
		res.Error(http.StatusGone, err.Error(), extra)
	default:
		res.ServerError(err.Error(), extra)
	}
}
