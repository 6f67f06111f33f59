// Package config holds the chat server's runtime settings: defaults,
// environment overrides, command-line flags, and validation.
package config

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmh2000/linechat/internal/tlsutil"
)

const (
	DefaultAddr            = "127.0.0.1:8086"
	DefaultTLSHost         = tlsutil.DefaultHost
	DefaultMaxLineSize     = 4096
	DefaultSendQueue       = 64
	DefaultRateBurst       = 5
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Config holds the server configuration. Empty QUICAddr, WSAddr, or
// JournalPath disable that component.
type Config struct {
	Addr            string
	QUICAddr        string
	WSAddr          string
	TLSHost         string
	MaxLineSize     int
	SendQueue       int
	RateLimit       float64 // lines per second, 0 is unlimited
	RateBurst       int
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	JournalPath     string
	LogLevel        string
	LogFormat       string
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Addr:            DefaultAddr,
		TLSHost:         DefaultTLSHost,
		MaxLineSize:     DefaultMaxLineSize,
		SendQueue:       DefaultSendQueue,
		RateBurst:       DefaultRateBurst,
		WriteTimeout:    DefaultWriteTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
	}
}

// FromEnv returns the defaults overlaid with CHAT_* environment variables.
// Unparseable values keep the default.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("CHAT_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("CHAT_QUIC_ADDR"); v != "" {
		cfg.QUICAddr = v
	}
	if v := os.Getenv("CHAT_WS_ADDR"); v != "" {
		cfg.WSAddr = v
	}
	if v := os.Getenv("CHAT_MAX_LINE"); v != "" {
		cfg.MaxLineSize = parseIntValue(v, cfg.MaxLineSize)
	}
	if v := os.Getenv("CHAT_SEND_QUEUE"); v != "" {
		cfg.SendQueue = parseIntValue(v, cfg.SendQueue)
	}
	if v := os.Getenv("CHAT_RATE_LIMIT"); v != "" {
		cfg.RateLimit = parseRate(v, cfg.RateLimit)
	}
	if v := os.Getenv("CHAT_RATE_BURST"); v != "" {
		cfg.RateBurst = parseIntValue(v, cfg.RateBurst)
	}
	if v := os.Getenv("CHAT_JOURNAL"); v != "" {
		cfg.JournalPath = v
	}
	if v := os.Getenv("CHAT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHAT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// RegisterFlags binds the settings to fs, using the current values as
// flag defaults so flags override the environment.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "TCP listen address")
	fs.StringVar(&c.QUICAddr, "quic", c.QUICAddr, "QUIC listen address (empty disables)")
	fs.StringVar(&c.WSAddr, "ws", c.WSAddr, "WebSocket gateway address (empty disables)")
	fs.StringVar(&c.TLSHost, "tls-host", c.TLSHost, "host name or IP in the self-signed QUIC certificate")
	fs.IntVar(&c.MaxLineSize, "max-line", c.MaxLineSize, "maximum inbound line length in bytes")
	fs.IntVar(&c.SendQueue, "send-queue", c.SendQueue, "outbound lines buffered per client")
	fs.Float64Var(&c.RateLimit, "rate", c.RateLimit, "inbound lines per second per client (0 is unlimited)")
	fs.IntVar(&c.RateBurst, "burst", c.RateBurst, "inbound line burst per client")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "per-line write timeout")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "time allowed for sessions to finish on shutdown")
	fs.StringVar(&c.JournalPath, "journal", c.JournalPath, "bbolt journal file (empty disables)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn, or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "text or json")
}

// Sanitize replaces invalid values with their defaults.
func (c *Config) Sanitize() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.TLSHost == "" {
		c.TLSHost = DefaultTLSHost
	}
	if c.MaxLineSize <= 0 {
		c.MaxLineSize = DefaultMaxLineSize
	}
	if c.SendQueue <= 0 {
		c.SendQueue = DefaultSendQueue
	}
	if c.RateLimit < 0 {
		c.RateLimit = 0
	}
	if c.RateBurst <= 0 {
		c.RateBurst = DefaultRateBurst
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = DefaultLogLevel
	}

	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat != "text" && c.LogFormat != "json" {
		c.LogFormat = DefaultLogFormat
	}
}

// Logger builds a slog.Logger writing to w with the configured level and format.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRate(value string, defaultValue float64) float64 {
	if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}
