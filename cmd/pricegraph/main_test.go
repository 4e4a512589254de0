package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-price-graph/config"
	"github.com/aluiziolira/go-price-graph/models"
)

func TestRootFlagsOverrideConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	root := newRootCmd(cfg)

	if err := root.ParseFlags([]string{"--parallel", "9", "--store", "postgres", "--dsn", "postgres://x", "-v"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfg.Parallelism != 9 || cfg.StoreDriver != "postgres" || cfg.StoreDSN != "postgres://x" || !cfg.Verbose {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	root := newRootCmd(config.DefaultConfig())
	for _, name := range []string{"serve", "sweep", "worker", "export"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
}

func TestNewLoggerLevel(t *testing.T) {
	_, level := newLogger(true)
	if level.Level() != slog.LevelDebug {
		t.Fatalf("verbose level = %v, want debug", level.Level())
	}
	_, level = newLogger(false)
	if level.Level() != slog.LevelInfo {
		t.Fatalf("default level = %v, want info", level.Level())
	}
}

func TestPrintSummary(t *testing.T) {
	start := time.Now()
	printSummary(&models.SweepResult{
		StartTime:    start,
		EndTime:      start.Add(time.Second),
		PageCount:    2,
		Pages:        []models.PageResult{{Page: 1, Attempted: 3, Succeeded: 2, Failed: 1}},
		FailedPages:  map[int]string{2: "timeout"},
		ErrorsByType: map[string]int{"timeout": 1},
	}, "data/test.db")
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"", false},
		{"*/30 * * * *", false},
		{"@hourly", false},
		{"every tuesday", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			err := validateSchedule(tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateSchedule(%q) error = %v, wantErr %v", tt.schedule, err, tt.wantErr)
			}
		})
	}
}

func TestServeRejectsBadScheduleBeforeStarting(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StoreDSN = filepath.Join(t.TempDir(), "serve.db")
	cfg.SweepSchedule = "every tuesday"
	cfg.ListenAddr = "127.0.0.1:0"

	err := runServe(context.Background(), cfg, false)
	if err == nil || !strings.Contains(err.Error(), "invalid sweep schedule") {
		t.Fatalf("runServe error = %v, want invalid sweep schedule", err)
	}
	if _, statErr := os.Stat(cfg.StoreDSN); !os.IsNotExist(statErr) {
		t.Fatalf("store was opened before the schedule was checked: %v", statErr)
	}
}
