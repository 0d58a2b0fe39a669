package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// HistoryConfig controls snapshots and log retention.
type HistoryConfig struct {
	SnapshotInterval int
	RetainOps        int
}

// StorageConfig selects the backup database. An empty driver keeps documents in memory only.
type StorageConfig struct {
	Driver         string
	DSN            string
	BackupInterval time.Duration
}

type LogConfig struct {
	Level  slog.Level
	Format string
}

// Config holds the server configuration
type Config struct {
	Addr       string
	History    HistoryConfig
	Storage    StorageConfig
	SendBuffer int
	Log        LogConfig
}

// ParseFlags parses command line flags and merges them with the config file
func ParseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	configFlag := fs.String("config", "", "Path to configuration file")
	generateConfigFlag := fs.String("generate-config", "", "Write a default configuration file to this path and exit")
	addrFlag := fs.String("addr", "", "Address to listen on (overrides config)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *generateConfigFlag != "" {
		if err := SaveDefaultConfig(*generateConfigFlag); err != nil {
			return nil, err
		}
		slog.Info("Configuration file generated", "path", *generateConfigFlag)
		return nil, ErrGenerated
	}

	config, err := LoadConfig(*configFlag)
	if err != nil {
		return nil, err
	}
	if *addrFlag != "" {
		config.Addr = *addrFlag
	}
	return config, nil
}

// NewLogger builds the slog logger described by the log settings.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}
