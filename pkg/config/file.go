package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrGenerated is returned by ParseFlags after writing a default config file.
var ErrGenerated = errors.New("configuration file generated")

const (
	DefaultAddr             = "localhost:8080"
	DefaultSnapshotInterval = 10
	DefaultSendBuffer       = 256
	DefaultBackupInterval   = 5 * time.Second
)

// FileConfig represents the structure of the configuration file
type FileConfig struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	History struct {
		SnapshotInterval int `yaml:"snapshot_interval"`
		RetainOps        int `yaml:"retain_ops"`
	} `yaml:"history"`

	Storage struct {
		Driver         string `yaml:"driver"`
		DSN            string `yaml:"dsn"`
		BackupInterval string `yaml:"backup_interval"`
	} `yaml:"storage"`

	Transport struct {
		SendBuffer int `yaml:"send_buffer"`
	} `yaml:"transport"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func defaults() *Config {
	return &Config{
		Addr: DefaultAddr,
		History: HistoryConfig{
			SnapshotInterval: DefaultSnapshotInterval,
		},
		Storage: StorageConfig{
			BackupInterval: DefaultBackupInterval,
		},
		SendBuffer: DefaultSendBuffer,
		Log: LogConfig{
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a YAML file. An empty path returns the defaults.
func LoadConfig(filePath string) (*Config, error) {
	config := defaults()
	if filePath == "" {
		return config, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	var fileConfig FileConfig
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if fileConfig.Server.Addr != "" {
		config.Addr = fileConfig.Server.Addr
	}

	if fileConfig.History.SnapshotInterval != 0 {
		config.History.SnapshotInterval = fileConfig.History.SnapshotInterval
	}
	if fileConfig.History.RetainOps < 0 {
		return nil, fmt.Errorf("history.retain_ops must not be negative")
	}
	config.History.RetainOps = fileConfig.History.RetainOps

	switch fileConfig.Storage.Driver {
	case "", "sqlite", "postgres":
		config.Storage.Driver = fileConfig.Storage.Driver
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", fileConfig.Storage.Driver)
	}
	config.Storage.DSN = fileConfig.Storage.DSN
	if config.Storage.Driver != "" && config.Storage.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required for driver %s", config.Storage.Driver)
	}
	if fileConfig.Storage.BackupInterval != "" {
		d, err := time.ParseDuration(fileConfig.Storage.BackupInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid storage.backup_interval: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("storage.backup_interval must be positive")
		}
		config.Storage.BackupInterval = d
	}

	if fileConfig.Transport.SendBuffer != 0 {
		config.SendBuffer = fileConfig.Transport.SendBuffer
	}

	if fileConfig.Log.Level != "" {
		if config.Log.Level, err = parseLevel(fileConfig.Log.Level); err != nil {
			return nil, err
		}
	}
	switch fileConfig.Log.Format {
	case "":
	case "text", "json":
		config.Log.Format = fileConfig.Log.Format
	default:
		return nil, fmt.Errorf("unsupported log format %q", fileConfig.Log.Format)
	}

	return config, nil
}

// SaveDefaultConfig saves a default configuration file
func SaveDefaultConfig(filePath string) error {
	var fileConfig FileConfig
	fileConfig.Server.Addr = DefaultAddr
	fileConfig.History.SnapshotInterval = DefaultSnapshotInterval
	fileConfig.History.RetainOps = 0
	fileConfig.Storage.Driver = "sqlite"
	fileConfig.Storage.DSN = "textsync.sqlite3"
	fileConfig.Storage.BackupInterval = DefaultBackupInterval.String()
	fileConfig.Transport.SendBuffer = DefaultSendBuffer
	fileConfig.Log.Level = "info"
	fileConfig.Log.Format = "text"

	data, err := yaml.Marshal(fileConfig)
	if err != nil {
		return fmt.Errorf("error creating default config: %w", err)
	}

	yamlWithComments := "# textsync server configuration\n" +
		"# storage.driver may be empty (memory only), sqlite or postgres\n\n" +
		string(data)

	if err := os.WriteFile(filePath, []byte(yamlWithComments), 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}
