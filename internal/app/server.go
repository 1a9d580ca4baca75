package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	intrnl "lanchat/internal"
	"lanchat/internal/logging"
	"lanchat/internal/storage"
	"lanchat/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr           string
	server         *http.Server
	engine         *intrnl.Engine
	history        storage.HistoryStore
	sweeper        *intrnl.Sweeper
	flushInterval  time.Duration
	tlsCertFile    string
	tlsKeyFile     string
	shutdownTracer tracing.ShutdownFunc
	logger         logging.Logger
	cancel         context.CancelFunc
	done           chan struct{}
	stopOnce       sync.Once
	err            error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Engine exposes the running chat engine.
func (h *ServerHandle) Engine() *intrnl.Engine {
	return h.engine
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
	}
	var err error
	h.stopOnce.Do(func() {
		h.cancel()
		err = h.server.Shutdown(ctx)
	})
	return err
}

// TLS reports whether the server answers HTTPS and WSS.
func (h *ServerHandle) TLS() bool {
	return h.tlsCertFile != ""
}

// Wait blocks until the server and its background workers exit.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens storage, loads history, wires handlers and starts
// serving in the background. Call Stop/Wait to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig, logger logging.Logger) (*ServerHandle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.ServiceName, intrnl.Version, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	history, err := openHistory(ctx, cfg)
	if err != nil {
		_ = shutdownTracer(context.Background())
		return nil, err
	}
	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		_ = history.Close()
		_ = shutdownTracer(context.Background())
		return nil, err
	}

	metrics := intrnl.NewMetrics()
	hub := intrnl.NewHub(metrics, logger)
	engine := intrnl.NewEngine(history, blobs, hub, metrics, logger,
		intrnl.WithRetention(cfg.Retention),
	)
	engine.Load(ctx)

	server := intrnl.NewServer(engine, hub, blobs, metrics, logger, cfg.MaxFileSize)
	router := mux.NewRouter()
	registerHandlers(router, cfg, server)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           otelhttp.NewHandler(router, cfg.ServiceName, otelhttp.WithFilter(skipPath(cfg.SocketPath))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	certFile, keyFile := tlsFiles(ctx, cfg, logger)

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = history.Close()
		_ = shutdownTracer(context.Background())
		return nil, fmt.Errorf("listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &ServerHandle{
		addr:           listener.Addr().String(),
		server:         httpServer,
		engine:         engine,
		history:        history,
		sweeper:        intrnl.NewSweeper(engine, cfg.SweepInterval, logger),
		flushInterval:  cfg.FlushInterval,
		tlsCertFile:    certFile,
		tlsKeyFile:     keyFile,
		shutdownTracer: shutdownTracer,
		logger:         logger,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	go handle.serve(runCtx, listener)

	return handle, nil
}

func (h *ServerHandle) serve(ctx context.Context, listener net.Listener) {
	defer close(h.done)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		if h.TLS() {
			err = h.server.ServeTLS(listener, h.tlsCertFile, h.tlsKeyFile)
		} else {
			err = h.server.Serve(listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		return h.sweeper.Run(gctx)
	})
	group.Go(func() error {
		return h.engine.RunFlusher(gctx, h.flushInterval)
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	err := group.Wait()

	finalCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if flushErr := h.engine.Flush(finalCtx); flushErr != nil {
		h.logger.Error(finalCtx, "final history flush failed", "err", flushErr)
	}
	if closeErr := h.history.Close(); closeErr != nil {
		h.logger.Error(finalCtx, "history close failed", "err", closeErr)
	}
	if traceErr := h.shutdownTracer(finalCtx); traceErr != nil {
		h.logger.Warn(finalCtx, "tracer shutdown failed", "err", traceErr)
	}
	h.err = err
}

func openHistory(ctx context.Context, cfg ServerConfig) (storage.HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.HistoryPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	switch cfg.HistoryBackend {
	case "sqlite":
		history, err := storage.NewSQLiteHistory(ctx, cfg.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite history: %w", err)
		}
		return history, nil
	default:
		return storage.NewJSONHistory(cfg.HistoryPath), nil
	}
}

func openBlobs(ctx context.Context, cfg ServerConfig) (storage.BlobStore, error) {
	switch cfg.BlobBackend {
	case "minio":
		blobs, err := storage.NewMinioBlobs(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("open minio blobs: %w", err)
		}
		return blobs, nil
	default:
		blobs, err := storage.NewDiskBlobs(cfg.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("open upload dir: %w", err)
		}
		return blobs, nil
	}
}

func registerHandlers(router *mux.Router, cfg ServerConfig, server *intrnl.Server) {
	router.HandleFunc(cfg.SocketPath, server.ServeWS).Methods(http.MethodGet)
	router.HandleFunc("/upload", server.HandleUpload).Methods(http.MethodPost)
	router.HandleFunc("/download/{storedFileName}", server.HandleDownload).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/files/{storedFileName}", server.HandleFile).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/healthz", server.HandleHealth).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/metrics", server.Metrics()).Methods(http.MethodGet)
	if cfg.StaticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir)))
	}
}

// skipPath keeps long-lived websocket connections out of request tracing.
func skipPath(path string) otelhttp.Filter {
	return func(r *http.Request) bool {
		return r.URL.Path != path
	}
}

// tlsFiles returns the certificate pair to serve with, or empty names when
// either file is missing, in which case the server falls back to plain HTTP.
func tlsFiles(ctx context.Context, cfg ServerConfig, logger logging.Logger) (string, string) {
	if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
		return "", ""
	}
	for _, path := range []string{cfg.TLSCertFile, cfg.TLSKeyFile} {
		if _, err := os.Stat(path); err != nil {
			logger.Warn(ctx, "TLS certificate not found, serving plain HTTP", "file", path, "err", err)
			return "", ""
		}
	}
	logger.Info(ctx, "serving HTTPS", "cert", cfg.TLSCertFile)
	return cfg.TLSCertFile, cfg.TLSKeyFile
}
