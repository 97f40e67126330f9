// Package devserver runs the development server: a compile-watch session behind
// an HTTP middleware chain, with live updates and an optional browser launch.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"github.com/rathix/cashier-devkit/internal/buildenv"
	"github.com/rathix/cashier-devkit/internal/compiler"
	"github.com/rathix/cashier-devkit/internal/config"
	"github.com/rathix/cashier-devkit/internal/emit"
	"github.com/rathix/cashier-devkit/internal/launcher"
	"github.com/rathix/cashier-devkit/internal/metrics"
	"github.com/rathix/cashier-devkit/internal/pipeline"
	"github.com/rathix/cashier-devkit/internal/server"
	"github.com/rathix/cashier-devkit/internal/sse"
	"github.com/rathix/cashier-devkit/internal/state"
	"github.com/rathix/cashier-devkit/internal/watch"
)

// MetricsPath serves Prometheus metrics beside the middleware chain.
const MetricsPath = "/__devkit/metrics"

const defaultShutdownTimeout = 10 * time.Second

// ErrBind is returned when the listen address cannot be bound.
var ErrBind = zerr.New("failed to bind dev server address")

// Phase is the server lifecycle position.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseServing
	PhaseShuttingDown
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseServing:
		return "serving"
	case PhaseShuttingDown:
		return "shutting-down"
	case PhaseStopped:
		return "stopped"
	default:
		return "phase(" + strconv.Itoa(int(p)) + ")"
	}
}

// BrowserLauncher opens a URL and reports the outcome asynchronously.
type BrowserLauncher interface {
	Launch(ctx context.Context, url string) <-chan launcher.Result
}

// Options configures a Server.
type Options struct {
	Env    buildenv.Environment
	Root   string
	Config *config.Config
	// ConfigPath is watched for changes. Empty disables reconfiguration.
	ConfigPath string
	Compiler   compiler.Compiler
	Logger     *slog.Logger

	// Fs backs the static fallback. Nil uses the OS filesystem.
	Fs afero.Fs
	// Metrics records server metrics. Nil creates a private registry.
	Metrics *metrics.PrometheusRecorder
	// Launcher overrides the browser launcher built from the config.
	Launcher BrowserLauncher
	// Listener is used instead of binding Env's address.
	Listener        net.Listener
	ShutdownTimeout time.Duration
	// Watch enables the source and config watchers.
	Watch bool
}

// Server owns one compile session and the HTTP server in front of it.
type Server struct {
	env             buildenv.Environment
	root            string
	configPath      string
	logger          *slog.Logger
	session         *Session
	store           *state.CompileStore
	broker          *sse.Broker
	recorder        *metrics.PrometheusRecorder
	launcher        BrowserLauncher
	handler         http.Handler
	listener        net.Listener
	shutdownTimeout time.Duration
	watch           bool

	phase        atomic.Int32
	ready        chan struct{}
	mu           sync.Mutex
	httpServer   *http.Server
	addr         net.Addr
	cancelRun    context.CancelFunc
	shutdownOnce sync.Once
}

// New performs the Init step: derive the development pipeline, create the
// session and live-update broker, and assemble the handler chain.
func New(opts Options) (*Server, error) {
	if opts.Compiler == nil {
		return nil, zerr.New("compiler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.NewPrometheusRecorder(nil)
	}
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	env := opts.Env.WithDefaults()
	env.Production = false
	desc := pipeline.Derive(env, opts.Config.Project(opts.Root))

	store := state.NewCompileStore()
	s := &Server{
		env:             env,
		root:            opts.Root,
		configPath:      opts.ConfigPath,
		logger:          logger,
		store:           store,
		session:         NewSession(opts.Compiler, desc, store, recorder, logger),
		broker:          sse.NewBroker(store, logger, sse.WithClientObserver(recorder)),
		recorder:        recorder,
		launcher:        opts.Launcher,
		listener:        opts.Listener,
		shutdownTimeout: timeout,
		watch:           opts.Watch,
		ready:           make(chan struct{}),
	}

	serverCfg := config.ServerConfig{}
	if opts.Config != nil {
		serverCfg = opts.Config.Server
	}
	if s.launcher == nil && serverCfg.OpenBrowser() {
		s.launcher = launcher.New(serverCfg.Browser)
	}

	proxy, err := server.ProxyMiddleware(serverCfg.Proxy)
	if err != nil {
		return nil, err
	}
	static := server.MountPublicPath(desc.Output.PublicPath,
		server.NewStaticHandler(fsys, desc.Output.Path, serverCfg.HistoryFallback))
	chain := server.Chain(static,
		server.CORS(),
		server.RequestLog(logger, serverCfg.Quiet()),
		server.DevMiddleware(s.session, desc.Output.PublicPath),
		liveUpdate(s.broker),
		proxy,
	)

	mux := http.NewServeMux()
	mux.Handle(MetricsPath, recorder.Handler())
	mux.Handle("/", recorder.InstrumentHandler("app", chain))
	s.handler = mux

	if !emit.Exists(fsys, desc.Output.Path) {
		logger.Info("no previous build to serve static files from", "dir", desc.Output.Path)
	}
	logger.Info("dev server initialized",
		"entry", desc.Entry.Name,
		"output", desc.Output.Path,
	)
	return s, nil
}

// liveUpdate routes the live-update path to the broker.
func liveUpdate(broker http.Handler) server.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == pipeline.LiveUpdatePath {
				broker.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Phase reports the lifecycle position.
func (s *Server) Phase() Phase {
	return Phase(s.phase.Load())
}

// Ready is closed once the listener is bound and the server is serving.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound address, nil before Serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Session exposes the compile-watch loop.
func (s *Server) Session() *Session {
	return s.session
}

// Store exposes the compile status store.
func (s *Server) Store() *state.CompileStore {
	return s.store
}

// Run binds the listener and serves until ctx is cancelled, then shuts down.
// It returns nil after a graceful shutdown and an ErrBind error when the
// address cannot be bound.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.bind()
	if err != nil {
		s.logger.Error("failed to bind", "addr", s.env.Addr(), "error", err)
		_ = s.session.Close()
		s.phase.Store(int32(PhaseStopped))
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if Phase(s.phase.Load()) != PhaseInit {
		s.mu.Unlock()
		_ = ln.Close()
		s.phase.Store(int32(PhaseStopped))
		return nil
	}
	s.httpServer = srv
	s.addr = ln.Addr()
	s.cancelRun = cancel
	s.phase.Store(int32(PhaseServing))
	s.mu.Unlock()
	close(s.ready)

	url := s.url(ln.Addr())
	s.logger.Info("dev server listening", "url", url, "static", s.session.Description().Output.Path)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return zerr.Wrap(err, "dev server failed")
		}
		return nil
	})
	g.Go(func() error {
		s.broker.Run(gctx)
		return nil
	})
	if s.watch {
		s.startWatchers(gctx, g)
	}
	s.session.Start(gctx)

	if s.launcher != nil {
		results := s.launcher.Launch(gctx, url)
		go func() {
			res, ok := <-results
			if !ok {
				return
			}
			if res.Err != nil {
				s.logger.Error("could not open browser", "url", url, "error", res.Err)
				return
			}
			s.logger.Info("browser opened", "url", url, "pid", res.PID)
		}()
	}

	g.Go(func() error {
		<-gctx.Done()
		s.Shutdown()
		return nil
	})

	err = g.Wait()
	s.phase.Store(int32(PhaseStopped))
	s.logger.Info("dev server stopped")
	return err
}

func (s *Server) bind() (net.Listener, error) {
	if s.listener != nil {
		return s.listener, nil
	}
	addr := s.env.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, zerr.With(fmt.Errorf("%w: %w", ErrBind, err), "addr", addr)
	}
	return ln, nil
}

func (s *Server) url(addr net.Addr) string {
	port := strconv.Itoa(int(s.env.Port))
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	}
	return "http://" + net.JoinHostPort(s.env.Host, port)
}

func (s *Server) startWatchers(ctx context.Context, g *errgroup.Group) {
	sources := watch.NewTreeWatcher(s.root, func(paths []string) {
		s.logger.Debug("sources changed", "paths", paths)
		s.session.Invalidate()
	}, s.logger, watch.WithIgnore(sourceIgnore(s.root, s.configPath)...))
	g.Go(func() error {
		if err := sources.Run(ctx); err != nil {
			s.logger.Warn("source watcher stopped", "root", s.root, "error", err)
		}
		return nil
	})

	if s.configPath == "" {
		return
	}
	cfgWatcher := config.NewWatcher(s.configPath, s.reconfigure, s.logger)
	g.Go(func() error {
		if err := cfgWatcher.Run(ctx); err != nil {
			s.logger.Warn("config watcher stopped", "path", s.configPath, "error", err)
		}
		return nil
	})
}

// sourceIgnore extends the default ignore list with the config file when it
// lives inside the project tree. The config watcher owns its changes.
func sourceIgnore(root, configPath string) []string {
	ignore := slices.Clone(watch.DefaultIgnore)
	if configPath == "" {
		return ignore
	}
	rel, err := filepath.Rel(root, configPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ignore
	}
	return append(ignore, filepath.Base(configPath))
}

// reconfigure re-derives the pipeline after a config file change. Malformed
// files keep the previous description.
func (s *Server) reconfigure(cfg *config.Config, errs []error) {
	for _, err := range errs {
		s.logger.Warn("config error", "path", s.configPath, "error", err)
	}
	if cfg == nil {
		return
	}
	desc := pipeline.Derive(s.env, cfg.Project(s.root))
	s.logger.Info("config reloaded, recompiling", "entry", desc.Entry.Name)
	s.session.Reconfigure(desc)
}

// Shutdown stops the watchers and the live-update broker, closes the session,
// then shuts down the HTTP server. Errors are logged. Only the first call has
// any effect.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.phase.Store(int32(PhaseShuttingDown))
		srv := s.httpServer
		cancel := s.cancelRun
		s.mu.Unlock()

		s.logger.Info("stopping dev server")
		if cancel != nil {
			cancel()
		}
		if err := s.session.Close(); err != nil {
			s.logger.Error("failed to close compile session", "error", err)
		}
		if srv == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("server forced to shutdown", "error", err)
			_ = srv.Close()
		}
	})
}
