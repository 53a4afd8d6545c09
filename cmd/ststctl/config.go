package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/structstore"
)

// config holds the settings shared by every command. Values come from the
// optional YAML file first; flags override them.
type config struct {
	Dir         string        `yaml:"dir"`
	Capacity    int           `yaml:"capacity"`
	Cleanup     string        `yaml:"cleanup"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
	Compression string        `yaml:"compression"`
	LogLevel    string        `yaml:"log_level"`
}

func defaultConfig() config {
	return config{
		Capacity:    1 << 20,
		Cleanup:     structstore.CleanupNever.String(),
		LockTimeout: time.Second,
		Compression: "none",
		LogLevel:    "warn",
	}
}

func loadConfig(path string, cfg *config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// options translates the config into store options.
func (c config) options(logw io.Writer) ([]structstore.Option, error) {
	cleanup, err := structstore.ParseCleanup(c.Cleanup)
	if err != nil {
		return nil, err
	}
	comp, err := structstore.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}

	opts := []structstore.Option{
		structstore.WithCleanup(cleanup),
		structstore.WithCompression(comp),
		structstore.WithLockTimeout(c.LockTimeout),
		structstore.WithLogger(structstore.NewLogger(slog.NewTextHandler(logw, &slog.HandlerOptions{Level: level}))),
	}
	if c.Dir != "" {
		opts = append(opts, structstore.WithFileBacking(c.Dir))
	}
	return opts, nil
}
