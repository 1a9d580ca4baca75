package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	intrnl "lanchat/internal"
	"lanchat/internal/flagx"
)

const envPrefix = "LANCHAT"

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr           string
	SocketPath     string
	DataDir        string
	HistoryBackend string
	HistoryPath    string
	BlobBackend    string
	UploadDir      string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MaxFileSize    int64
	Retention      time.Duration
	SweepInterval  time.Duration
	FlushInterval  time.Duration
	StaticDir      string
	TLSCertFile    string
	TLSKeyFile     string
	OTLPEndpoint   string
	ServiceName    string
	LogLevel       string
	LogFormat      string
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string
	Nickname  string
}

func (c *ServerConfig) LoadDefaults() {
	c.Addr = ":3000"
	c.SocketPath = intrnl.DefaultSocketPath
	c.DataDir = DefaultDataDir()
	c.HistoryBackend = "json"
	c.BlobBackend = "disk"
	c.MinioBucket = "lanchat-uploads"
	c.MaxFileSize = intrnl.DefaultMaxFileSize
	c.Retention = intrnl.DefaultRetention
	c.SweepInterval = intrnl.DefaultSweepInterval
	c.FlushInterval = intrnl.DefaultFlushInterval
	c.ServiceName = "lanchat"
	c.LogLevel = "info"
	c.LogFormat = "text"
}

// LoadServerConfig layers defaults, a .env file, an optional config file
// (-c/-config), LANCHAT_* environment variables and finally flags.
func LoadServerConfig(args []string) (ServerConfig, error) {
	_ = godotenv.Load()

	var cfg ServerConfig
	cfg.LoadDefaults()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	cfg.setViperDefaults(v)

	if path := flagx.ConfigPath(args); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := cfg.apply(v); err != nil {
		return cfg, err
	}
	if err := cfg.parseFlags(args); err != nil {
		return cfg, err
	}
	cfg.resolvePaths()
	return cfg, cfg.Validate()
}

func (c *ServerConfig) setViperDefaults(v *viper.Viper) {
	v.SetDefault("addr", c.Addr)
	v.SetDefault("ws_path", c.SocketPath)
	v.SetDefault("data_dir", c.DataDir)
	v.SetDefault("history_backend", c.HistoryBackend)
	v.SetDefault("history_path", c.HistoryPath)
	v.SetDefault("blob_backend", c.BlobBackend)
	v.SetDefault("upload_dir", c.UploadDir)
	v.SetDefault("minio_endpoint", c.MinioEndpoint)
	v.SetDefault("minio_access_key", c.MinioAccessKey)
	v.SetDefault("minio_secret_key", c.MinioSecretKey)
	v.SetDefault("minio_bucket", c.MinioBucket)
	v.SetDefault("minio_use_ssl", c.MinioUseSSL)
	v.SetDefault("max_file_size", strconv.FormatInt(c.MaxFileSize, 10))
	v.SetDefault("retention", c.Retention)
	v.SetDefault("sweep_interval", c.SweepInterval)
	v.SetDefault("flush_interval", c.FlushInterval)
	v.SetDefault("static_dir", c.StaticDir)
	v.SetDefault("tls_cert_file", c.TLSCertFile)
	v.SetDefault("tls_key_file", c.TLSKeyFile)
	v.SetDefault("otlp_endpoint", c.OTLPEndpoint)
	v.SetDefault("service_name", c.ServiceName)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_format", c.LogFormat)
}

func (c *ServerConfig) apply(v *viper.Viper) error {
	c.Addr = v.GetString("addr")
	c.SocketPath = v.GetString("ws_path")
	c.DataDir = v.GetString("data_dir")
	c.HistoryBackend = v.GetString("history_backend")
	c.HistoryPath = v.GetString("history_path")
	c.BlobBackend = v.GetString("blob_backend")
	c.UploadDir = v.GetString("upload_dir")
	c.MinioEndpoint = v.GetString("minio_endpoint")
	c.MinioAccessKey = v.GetString("minio_access_key")
	c.MinioSecretKey = v.GetString("minio_secret_key")
	c.MinioBucket = v.GetString("minio_bucket")
	c.MinioUseSSL = v.GetBool("minio_use_ssl")
	c.Retention = v.GetDuration("retention")
	c.SweepInterval = v.GetDuration("sweep_interval")
	c.FlushInterval = v.GetDuration("flush_interval")
	c.StaticDir = v.GetString("static_dir")
	c.TLSCertFile = v.GetString("tls_cert_file")
	c.TLSKeyFile = v.GetString("tls_key_file")
	c.OTLPEndpoint = v.GetString("otlp_endpoint")
	c.ServiceName = v.GetString("service_name")
	c.LogLevel = v.GetString("log_level")
	c.LogFormat = v.GetString("log_format")

	size, err := parseSize(v.GetString("max_file_size"))
	if err != nil {
		return err
	}
	c.MaxFileSize = size
	return nil
}

func (c *ServerConfig) parseFlags(args []string) error {
	fs := flag.NewFlagSet("lanchat server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var configPath string
	maxFileSize := strconv.FormatInt(c.MaxFileSize, 10)
	fs.StringVar(&configPath, "config", "", "path to a YAML/JSON/TOML config file")
	fs.StringVar(&configPath, "c", "", "path to a config file (short)")
	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address")
	fs.StringVar(&c.SocketPath, "ws-path", c.SocketPath, "websocket endpoint path")
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "directory for history and uploads")
	fs.StringVar(&c.HistoryBackend, "history-backend", c.HistoryBackend, "json or sqlite")
	fs.StringVar(&c.HistoryPath, "history-path", c.HistoryPath, "history file (default under data-dir)")
	fs.StringVar(&c.BlobBackend, "blob-backend", c.BlobBackend, "disk or minio")
	fs.StringVar(&c.UploadDir, "upload-dir", c.UploadDir, "upload directory (default data-dir/files)")
	fs.StringVar(&c.MinioEndpoint, "minio-endpoint", c.MinioEndpoint, "MinIO host:port")
	fs.StringVar(&c.MinioBucket, "minio-bucket", c.MinioBucket, "MinIO bucket for uploads")
	fs.BoolVar(&c.MinioUseSSL, "minio-use-ssl", c.MinioUseSSL, "use TLS towards MinIO")
	fs.StringVar(&maxFileSize, "max-file-size", maxFileSize, "upload size limit, e.g. 50MiB")
	fs.DurationVar(&c.Retention, "retention", c.Retention, "how long messages are kept")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "how often expired messages are removed")
	fs.DurationVar(&c.FlushInterval, "flush-interval", c.FlushInterval, "retry interval after a failed history save")
	fs.StringVar(&c.StaticDir, "static-dir", c.StaticDir, "directory served at / for a browser client")
	fs.StringVar(&c.TLSCertFile, "tls-cert", c.TLSCertFile, "PEM certificate; serves HTTPS together with -tls-key")
	fs.StringVar(&c.TLSKeyFile, "tls-key", c.TLSKeyFile, "PEM private key for -tls-cert")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", c.OTLPEndpoint, "OTLP/HTTP collector host:port; empty disables tracing")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "text or json")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	size, err := parseSize(maxFileSize)
	if err != nil {
		return err
	}
	c.MaxFileSize = size
	return nil
}

func (c *ServerConfig) resolvePaths() {
	c.SocketPath = NormalizeSocketPath(c.SocketPath)
	if c.HistoryPath == "" {
		name := "messages.json"
		if c.HistoryBackend == "sqlite" {
			name = "messages.db"
		}
		c.HistoryPath = filepath.Join(c.DataDir, name)
	}
	if c.UploadDir == "" {
		c.UploadDir = filepath.Join(c.DataDir, "files")
	}
}

func (c ServerConfig) Validate() error {
	var errs []error
	switch c.HistoryBackend {
	case "json", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("history_backend must be json or sqlite, got %q", c.HistoryBackend))
	}
	switch c.BlobBackend {
	case "disk":
	case "minio":
		if c.MinioEndpoint == "" {
			errs = append(errs, errors.New("minio_endpoint is required for the minio blob backend"))
		}
		if c.MinioBucket == "" {
			errs = append(errs, errors.New("minio_bucket is required for the minio blob backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob_backend must be disk or minio, got %q", c.BlobBackend))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls_cert_file and tls_key_file must be set together"))
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, errors.New("max_file_size must be positive"))
	}
	if c.Retention <= 0 {
		errs = append(errs, errors.New("retention must be positive"))
	}
	if c.SweepInterval <= 0 || c.SweepInterval > c.Retention {
		errs = append(errs, errors.New("sweep_interval must be positive and not longer than retention"))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("flush_interval must be positive"))
	}
	return errors.Join(errs...)
}

// LoadClientConfig reads the client flags with LANCHAT_SERVER_URL and
// LANCHAT_NICKNAME as defaults.
func LoadClientConfig(args []string) (ClientConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetDefault("server_url", "ws://localhost:3000"+intrnl.DefaultSocketPath)
	v.SetDefault("nickname", "")

	cfg := ClientConfig{
		ServerURL: v.GetString("server_url"),
		Nickname:  v.GetString("nickname"),
	}
	fs := flag.NewFlagSet("lanchat client", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "websocket URL of the server")
	fs.StringVar(&cfg.Nickname, "nick", cfg.Nickname, "nickname to announce")
	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("parse flags: %w", err)
	}
	if fs.NArg() > 0 {
		cfg.ServerURL = fs.Arg(0)
	}
	if cfg.ServerURL == "" {
		return cfg, errors.New("server URL is required")
	}
	return cfg, nil
}

func parseSize(raw string) (int64, error) {
	size, err := humanize.ParseBytes(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("max_file_size: %w", err)
	}
	return int64(size), nil
}

// DefaultDataDir returns a per-user directory for history and uploads.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "lanchat")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "LanChat")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "LanChat")
		}
		return filepath.Join(home, ".local", "share", "lanchat")
	}
	return filepath.Join(".", ".lanchat")
}

// NormalizeSocketPath guarantees the websocket path starts with '/' and
// falls back to the default when empty.
func NormalizeSocketPath(path string) string {
	if path == "" {
		return intrnl.DefaultSocketPath
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
