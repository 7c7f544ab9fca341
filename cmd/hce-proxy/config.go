package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the proxy runtime configuration, loaded from TOML with defaults
// overlaid only by keys the file actually defines.
type Config struct {
	Transport  string // "unix" or "vsock"
	SocketPath string
	VsockCID   uint32
	VsockPort  uint32
	AuditPath  string
	LogLevel   string
	// ReadChunk is the most bytes the consumer frontend accepts per delivery.
	ReadChunk int
}

type fileConfig struct {
	Transport  string `toml:"transport"`
	SocketPath string `toml:"socket_path"`
	VsockCID   uint32 `toml:"vsock_cid"`
	VsockPort  uint32 `toml:"vsock_port"`
	AuditPath  string `toml:"audit_path"`
	LogLevel   string `toml:"log_level"`
	ReadChunk  int    `toml:"read_chunk"`
}

func defaultConfig() Config {
	return Config{
		Transport: "unix",
		AuditPath: "hce-proxy-audit.csv",
		LogLevel:  "info",
		ReadChunk: 1024,
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load proxy config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load proxy config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("socket_path") {
		cfg.SocketPath = strings.TrimSpace(raw.SocketPath)
	}
	if meta.IsDefined("vsock_cid") {
		cfg.VsockCID = raw.VsockCID
	}
	if meta.IsDefined("vsock_port") {
		cfg.VsockPort = raw.VsockPort
	}
	if meta.IsDefined("audit_path") {
		cfg.AuditPath = strings.TrimSpace(raw.AuditPath)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("read_chunk") {
		cfg.ReadChunk = raw.ReadChunk
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("load proxy config: %w", err)
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	switch cfg.Transport {
	case "unix":
		if cfg.SocketPath == "" {
			return fmt.Errorf("unix transport requires socket_path")
		}
	case "vsock":
		if cfg.VsockPort == 0 {
			return fmt.Errorf("vsock transport requires vsock_port")
		}
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if cfg.ReadChunk <= 0 {
		return fmt.Errorf("read_chunk must be positive, not %d", cfg.ReadChunk)
	}
	if cfg.AuditPath == "" {
		return fmt.Errorf("audit_path must not be empty")
	}
	return nil
}
