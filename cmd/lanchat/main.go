package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"lanchat/internal/app"
	"lanchat/internal/logging"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeLocal  = "local"
)

func main() {
	mode, args := parseMode(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case modeServer:
		err = runServerMode(ctx, args)
	case modeLocal:
		err = runLocalMode(ctx, args)
	default:
		err = runClientMode(args)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "lanchat: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, args []string) error {
	cfg, err := app.LoadServerConfig(args)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info(ctx, "lanchat server listening",
		"addr", handle.Addr(),
		"tls", handle.TLS(),
		"ws_path", cfg.SocketPath,
		"history", cfg.HistoryPath,
		"blobs", cfg.BlobBackend,
	)
	return handle.Wait()
}

func runClientMode(args []string) error {
	cfg, err := app.LoadClientConfig(args)
	if err != nil {
		return err
	}
	return app.RunClient(cfg)
}

// runLocalMode starts a loopback server and attaches the TUI to it. Logs go
// to a file in the data dir so they don't draw over the alt screen.
func runLocalMode(ctx context.Context, args []string) error {
	cfg, err := app.LoadServerConfig(append([]string{"-addr", "127.0.0.1:0"}, args...))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "lanchat.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger, err := logging.New(logFile, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg, err := app.LoadClientConfig(nil)
	if err != nil {
		return err
	}
	clientCfg.ServerURL = buildWebsocketURL(handle.Addr(), cfg.SocketPath, handle.TLS())
	logger.Info(ctx, "launching local client", "url", clientCfg.ServerURL)

	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string, secure bool) string {
	path = app.NormalizeSocketPath(path)
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("%s://%s%s", scheme, addr, path)
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, port), path)
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
