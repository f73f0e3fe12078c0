package main

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goodtune/kblock/internal/config"
	"github.com/goodtune/kblock/internal/options"
)

var (
	validateDump    bool
	validateOptions bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the kblock configuration file, and optionally the stored
block-set options, reporting unknown keys and unusable values.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	validateCmd.Flags().BoolVar(&validateOptions, "options", false, "Also check the stored block-set options")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	var unknownKeys []string
	if configPath != "" {
		unknownKeys, err = findUnknownKeys(configPath)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
		}
		_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)
	} else {
		_, _ = fmt.Fprintln(os.Stdout, "✅ Configuration is valid (defaults and environment)")
	}

	red := color.New(color.FgRed, color.Bold)
	if len(unknownKeys) > 0 {
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	var optionErrors []*options.ConfigError
	if validateOptions {
		sess, err := openSession(context.Background(), nil, quietLogger())
		if err != nil {
			return err
		}
		optionErrors = sess.engine.Options().Errors()
		_ = sess.Close()

		if len(optionErrors) == 0 {
			_, _ = fmt.Fprintln(os.Stdout, "✅ Stored options are valid")
		} else {
			fmt.Fprintln(os.Stdout)
			_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unusable option value(s):\n", len(optionErrors))
			for _, cerr := range optionErrors {
				_, _ = red.Fprintf(os.Stdout, "   - %s\n", cerr)
			}
			fmt.Fprintln(os.Stdout, "\nDefaults are used in their place.")
		}
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))
		dumpConfig(cfg, config.Default(), unknownKeys)
	}

	if len(optionErrors) > 0 {
		return fmt.Errorf("%d option value(s) could not be used", len(optionErrors))
	}
	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	valid := config.ValidKeys()
	var unknown []string
	for _, key := range v.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}
	return unknown, nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, def *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	field := func(name string, value, defaultValue any) {
		dumpField(name, value, defaultValue, yellow, green)
	}

	_, _ = cyan.Println("\n[storage]")
	field("  type", cfg.Storage.Type, def.Storage.Type)
	field("  path", cfg.Storage.Path, def.Storage.Path)
	_, _ = cyan.Println("  [storage.redis]")
	r, dr := cfg.Storage.Redis, def.Storage.Redis
	field("    host", r.Host, dr.Host)
	field("    port", r.Port, dr.Port)
	field("    password", redactPassword(r.Password), redactPassword(dr.Password))
	field("    db", r.DB, dr.DB)
	field("    key_prefix", r.KeyPrefix, dr.KeyPrefix)
	field("    pool_size", r.PoolSize, dr.PoolSize)
	field("    min_idle_conns", r.MinIdleConns, dr.MinIdleConns)
	field("    dial_timeout", r.DialTimeout, dr.DialTimeout)
	field("    read_timeout", r.ReadTimeout, dr.ReadTimeout)
	field("    write_timeout", r.WriteTimeout, dr.WriteTimeout)

	_, _ = cyan.Println("\n[engine]")
	e, de := cfg.Engine, def.Engine
	field("  tick_interval", e.TickInterval, de.TickInterval)
	field("  max_tick_gap", e.MaxTickGap, de.MaxTickGap)
	field("  timezone", e.Timezone, de.Timezone)
	field("  persist_interval", e.PersistInterval, de.PersistInterval)
	field("  persist_max_backoff", e.PersistMaxBackoff, de.PersistMaxBackoff)
	field("  command_replay_ttl", e.CommandReplayTTL, de.CommandReplayTTL)

	_, _ = cyan.Println("\n[logging]")
	field("  level", cfg.Logging.Level, def.Logging.Level)
	field("  format", cfg.Logging.Format, def.Logging.Format)

	_, _ = cyan.Println("\n[metrics]")
	field("  enabled", cfg.Metrics.Enabled, def.Metrics.Enabled)
	field("  bind_address", cfg.Metrics.BindAddress, def.Metrics.BindAddress)
	field("  port", cfg.Metrics.Port, def.Metrics.Port)

	_, _ = cyan.Println("\n[options]")
	field("  seed_file", cfg.Options.SeedFile, def.Options.SeedFile)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue any, modifiedColor, defaultColor *color.Color) {
	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Printf("%s = %v\n", name, value)
		return
	}
	_, _ = modifiedColor.Printf("%s = %v  (modified from default: %v)\n", name, value, defaultValue)
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
