package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"nexrt/internal/scheduler"
	"nexrt/pkg/types"
)

const (
	defaultAddr              = "127.0.0.1:7070"
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// ErrServerRunning is returned by Start on a running server.
var ErrServerRunning = errors.New("httpapi: server already running")

// Service is the runtime surface the admin API exposes.
type Service interface {
	Ready() bool
	Health() types.HealthResponse
	Snapshot() types.StatsResponse
	PlatformInfo(ctx context.Context) (types.PlatformResponse, error)
	PluginList() types.PluginsResponse
	CallPlugin(ctx context.Context, name, method string, args map[string]any) (any, error)
}

// NewMux builds the admin router. hub may be nil, in which case /v1/events
// is not mounted.
func NewMux(svc Service, hub *EventHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		h := svc.Health()
		w.Header().Set("Content-Type", "application/json")
		if !svc.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	})

	if hub != nil {
		r.Get("/v1/events", hub.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/v1/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.Snapshot())
		})

		r.Get("/v1/platform", func(w http.ResponseWriter, r *http.Request) {
			info, err := svc.PlatformInfo(r.Context())
			if err != nil {
				writeJSONError(w, statusFor(err), err.Error())
				return
			}
			writeJSON(w, info)
		})

		r.Get("/v1/plugins", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.PluginList())
		})

		r.Post("/v1/plugins/{name}/call", func(w http.ResponseWriter, r *http.Request) {
			callHandler(svc, w, r)
		})

		reg := prometheus.NewRegistry()
		reg.MustRegister(NewRuntimeCollector(svc.Snapshot))
		r.Get("/metrics", promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, reg}, promhttp.HandlerOpts{}).ServeHTTP)
	})

	return r
}

func callHandler(svc Service, w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		writeJSONError(w, http.StatusBadRequest, "method is required")
		return
	}

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if callTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, callTimeout)
		defer cancelTimeout()
	}
	start := time.Now()
	res, err := svc.CallPlugin(ctx, name, req.Method, req.Args)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		status := statusFor(err)
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		logCall(r, name, req.Method, status, start, err)
		writeJSONError(w, status, err.Error())
		return
	}
	logCall(r, name, req.Method, http.StatusOK, start, nil)
	writeJSON(w, types.CallResponse{Plugin: name, Method: req.Method, Result: res})
}

// ServerOptions configures a Server. Zero values select defaults.
type ServerOptions struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Logger            zerolog.Logger
}

// Server runs the admin API. Start and Stop are scheduled on a scheduler and
// compose with its task contract.
type Server struct {
	opts    ServerOptions
	handler http.Handler
	log     zerolog.Logger

	mu      sync.Mutex
	srv     *http.Server
	addr    string
	served  chan struct{}
	running atomic.Bool
}

func NewServer(opts ServerOptions, h http.Handler) *Server {
	if opts.Addr == "" {
		opts.Addr = defaultAddr
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Server{
		opts:    opts,
		handler: h,
		log:     opts.Logger.With().Str("component", "httpapi").Logger(),
	}
}

// Start binds the listener on s and serves in the background. The task
// completes once the server accepts connections. A nil scheduler runs the
// bind inline.
func (srv *Server) Start(s *scheduler.Scheduler) *scheduler.Task[struct{}] {
	if s == nil {
		return scheduler.Resolved(struct{}{}, srv.start())
	}
	return s.Go(srv.start)
}

func (srv *Server) start() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.srv != nil {
		return ErrServerRunning
	}
	ln, err := net.Listen("tcp", srv.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.opts.Addr, err)
	}
	hs := &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: srv.opts.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return serverBaseCtx },
	}
	served := make(chan struct{})
	srv.srv, srv.addr, srv.served = hs, ln.Addr().String(), served
	srv.running.Store(true)
	go func() {
		defer close(served)
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error().Err(err).Msg("admin server stopped")
		}
		srv.running.Store(false)
	}()
	srv.log.Info().Str("addr", srv.addr).Msg("admin server listening")
	return nil
}

// Stop gracefully shuts the server down within the shutdown timeout. Stopping
// a server that is not running succeeds.
func (srv *Server) Stop(s *scheduler.Scheduler) *scheduler.Task[struct{}] {
	if s == nil {
		return scheduler.Resolved(struct{}{}, srv.stop())
	}
	return s.Go(srv.stop)
}

func (srv *Server) stop() error {
	srv.mu.Lock()
	hs, served := srv.srv, srv.served
	srv.srv = nil
	srv.mu.Unlock()
	if hs == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), srv.opts.ShutdownTimeout)
	defer cancel()
	err := hs.Shutdown(ctx)
	if err != nil {
		_ = hs.Close()
	}
	<-served
	srv.log.Info().Msg("admin server stopped")
	return err
}

// IsRunning reports whether the server is accepting connections.
func (srv *Server) IsRunning() bool { return srv.running.Load() }

// Addr returns the bound address, or the configured one before Start.
func (srv *Server) Addr() string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.addr != "" {
		return srv.addr
	}
	return srv.opts.Addr
}
