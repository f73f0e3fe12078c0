package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/goodtune/kblock/internal/config"
	"github.com/goodtune/kblock/internal/engine"
	"github.com/goodtune/kblock/internal/storage"
	"github.com/goodtune/kblock/internal/storage/bolt"
	"github.com/goodtune/kblock/internal/storage/redis"
)

const banner = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// quietLogger is used by one-shot commands so only errors reach the terminal.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		store, err := bolt.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%w (is kblock serve holding %s?)", err, cfg.Path)
		}
		return store, nil
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be bolt or redis)", cfg.Type)
	}
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	loc, err := cfg.Engine.Location()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		TickInterval:      parseDuration(cfg.Engine.TickInterval, time.Second),
		MaxTickGap:        parseDuration(cfg.Engine.MaxTickGap, 5*time.Second),
		PersistInterval:   parseDuration(cfg.Engine.PersistInterval, 5*time.Second),
		PersistMaxBackoff: parseDuration(cfg.Engine.PersistMaxBackoff, time.Minute),
		ReplayTTL:         parseDuration(cfg.Engine.CommandReplayTTL, time.Minute),
		Location:          loc,
	}, nil
}

// readSeedFile reads a JSON option map.
func readSeedFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return raw, nil
}

// session is a loaded engine over an open store.
type session struct {
	cfg    *config.Config
	store  storage.Store
	engine *engine.Engine
}

func (s *session) Close() error {
	return s.store.Close()
}

// openSession loads configuration, opens storage and loads the engine. A nil
// clock uses the wall clock.
func openSession(ctx context.Context, clk clock.Clock, logger zerolog.Logger) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	ecfg, err := engineConfig(cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	eng, err := engine.New(ecfg, store, clk, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if cfg.Options.SeedFile != "" {
		raw, err := readSeedFile(cfg.Options.SeedFile)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to read options seed: %w", err)
		}
		seeded, err := eng.Seed(ctx, raw)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		if seeded {
			logger.Info().Str("file", cfg.Options.SeedFile).Int("keys", len(raw)).Msg("Options seeded")
		}
	}

	if err := eng.Load(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return &session{cfg: cfg, store: store, engine: eng}, nil
}

// run executes one command, flushes state and reports a failed response as
// an error.
func (s *session) run(ctx context.Context, cmd engine.Command) (engine.Response, error) {
	resp := s.engine.Handle(ctx, cmd)
	if err := s.engine.Flush(ctx); err != nil {
		return resp, fmt.Errorf("failed to save state: %w", err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("%s: %s", resp.Code, resp.Error)
	}
	return resp, nil
}

func printHeader(title string) {
	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Println()
	_, _ = cyan.Println(banner)
	_, _ = cyan.Println(title)
	_, _ = cyan.Println(banner)
	fmt.Println()
}

func printFooter() {
	fmt.Println()
	_, _ = color.New(color.FgCyan, color.Bold).Println(banner)
	fmt.Println()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseSets parses a comma-separated list of set numbers.
func parseSets(s string) ([]engine.SetRef, error) {
	var refs []engine.SetRef
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		var ref engine.SetRef
		if err := json.Unmarshal([]byte(fmt.Sprintf("%q", f)), &ref); err != nil || ref == 0 {
			return nil, fmt.Errorf("invalid set: %s", f)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
