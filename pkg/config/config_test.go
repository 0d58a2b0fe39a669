package config_test

import (
	"bytes"
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/astromechza/textsync/pkg/config"
)

func ok(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func eq(t *testing.T, got, want interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func write(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yml")
	ok(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestDefaults(t *testing.T) {
	c, err := config.LoadConfig("")
	ok(t, err)
	eq(t, c.Addr, config.DefaultAddr)
	eq(t, c.History.SnapshotInterval, 10)
	eq(t, c.Storage.Driver, "")
	eq(t, c.Storage.BackupInterval, 5*time.Second)
	eq(t, c.SendBuffer, 256)
	eq(t, c.Log.Level, slog.LevelInfo)
}

func TestLoadConfig(t *testing.T) {
	c, err := config.LoadConfig(write(t, `
server:
  addr: ":9000"
history:
  snapshot_interval: 5
  retain_ops: 20
storage:
  driver: sqlite
  dsn: docs.sqlite3
  backup_interval: 1m
log:
  level: debug
  format: json
`))
	ok(t, err)
	eq(t, c.Addr, ":9000")
	eq(t, c.History, config.HistoryConfig{SnapshotInterval: 5, RetainOps: 20})
	eq(t, c.Storage, config.StorageConfig{Driver: "sqlite", DSN: "docs.sqlite3", BackupInterval: time.Minute})
	eq(t, c.Log, config.LogConfig{Level: slog.LevelDebug, Format: "json"})
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	for _, content := range []string{
		"storage:\n  driver: mongo\n",
		"storage:\n  driver: postgres\n",
		"storage:\n  backup_interval: soon\n",
		"history:\n  retain_ops: -1\n",
		"log:\n  level: loud\n",
		"log:\n  format: xml\n",
		"server: [",
	} {
		if _, err := config.LoadConfig(write(t, content)); err == nil {
			t.Fatalf("expected %q to be rejected", content)
		}
	}
}

func TestDefaultConfigLoads(t *testing.T) {
	p := filepath.Join(t.TempDir(), "generated.yml")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	_, err := config.ParseFlags(fs, []string{"-generate-config", p})
	if !errors.Is(err, config.ErrGenerated) {
		t.Fatalf("got %v", err)
	}

	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	c, err := config.ParseFlags(fs, []string{"-config", p, "-addr", ":1234"})
	ok(t, err)
	eq(t, c.Addr, ":1234")
	eq(t, c.Storage.Driver, "sqlite")
	eq(t, c.Storage.DSN, "textsync.sqlite3")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	config.LogConfig{Level: slog.LevelWarn, Format: "json"}.NewLogger(&buf).Info("hidden")
	eq(t, buf.Len(), 0)
	config.LogConfig{Level: slog.LevelWarn, Format: "json"}.NewLogger(&buf).Warn("shown", "k", 1)
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Fatalf("unexpected output %s", buf.String())
	}
}
