package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/kblock/internal/engine"
	"github.com/goodtune/kblock/internal/options"
)

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "Inspect and edit the stored block-set options",
}

var optionsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the parsed block sets and any option errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		sess, err := openSession(ctx, nil, quietLogger())
		if err != nil {
			return err
		}
		defer sess.Close()

		if optionsRaw {
			raw, err := sess.store.Options().Load(ctx)
			if err != nil {
				return fmt.Errorf("failed to load options: %w", err)
			}
			for _, k := range sortedKeys(raw) {
				v, _ := json.Marshal(raw[k])
				fmt.Printf("%s=%s\n", k, v)
			}
			return nil
		}
		printOptions(sess.engine.Options())
		return nil
	},
}

var optionsSetCmd = &cobra.Command{
	Use:     "set KEY=VALUE...",
	Short:   "Change option values",
	Example: `  kblock options set sites1="example.com +docs.example.com" limitMins1=30 limitPeriod1=daily`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values := make(map[string]any, len(args))
		for _, arg := range args {
			key, value, ok := strings.Cut(arg, "=")
			if !ok || key == "" {
				return fmt.Errorf("expected KEY=VALUE, got %q", arg)
			}
			values[key] = optionValue(value)
		}
		return applyOptions(values)
	},
}

var optionsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Merge a JSON option map into the stored options",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readSeedFile(args[0])
		if err != nil {
			return err
		}
		return applyOptions(raw)
	},
}

var optionsRaw bool

func init() {
	optionsShowCmd.Flags().BoolVar(&optionsRaw, "raw", false, "print the stored key/value map instead of the parsed sets")
	optionsCmd.AddCommand(optionsShowCmd, optionsSetCmd, optionsImportCmd)
	rootCmd.AddCommand(optionsCmd)
}

func applyOptions(values map[string]any) error {
	resp, err := runOne(engine.Command{Type: engine.CmdSetOptions, Options: values})
	if err != nil {
		return err
	}
	fmt.Printf("Updated %d option(s)\n", len(values))
	if data, ok := resp.Data.(map[string]any); ok {
		if problems, ok := data["errors"].([]string); ok && len(problems) > 0 {
			red := color.New(color.FgRed)
			for _, p := range problems {
				_, _ = red.Printf("  ! %s\n", p)
			}
		}
	}
	return nil
}

// optionValue reads a command-line value as JSON when it parses, so numbers,
// booleans and lists keep their type; anything else is a string.
func optionValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func printOptions(o *options.Options) {
	bold := color.New(color.Bold)
	faint := color.New(color.Faint)
	red := color.New(color.FgRed)

	printHeader("BLOCK SETS")

	for _, set := range o.Sets {
		title := fmt.Sprintf("%d. %s", set.ID, set.DisplayName())
		if set.Disabled {
			_, _ = faint.Println(title + " (disabled)")
		} else {
			_, _ = bold.Println(title)
		}
		if set.Sites != "" {
			fmt.Printf("   Sites:    %s\n", set.Sites)
		}
		if len(set.Windows) > 0 {
			fmt.Printf("   Times:    %s\n", options.FormatWindows(set.Windows))
		}
		fmt.Printf("   Days:     %s\n", formatDays(set.Days))
		if set.HasQuota() {
			fmt.Printf("   Quota:    %d min per %s", set.Quota.LimitMins, set.Quota.Period)
			if set.Quota.Rollover {
				fmt.Print(" with rollover")
			}
			if set.ConjMode {
				fmt.Print(", within times only")
			}
			fmt.Println()
		}
		fmt.Printf("   Page:     %s\n", set.BlockURL)
		for _, cerr := range set.Errors {
			_, _ = red.Printf("   ! %s\n", cerr)
		}
		fmt.Println()
	}

	if len(o.Global) > 0 {
		_, _ = bold.Println("Global option errors")
		for _, cerr := range o.Global {
			_, _ = red.Printf("   ! %s\n", cerr)
		}
	}

	printFooter()
}

func formatDays(days [7]bool) string {
	names := []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
	var on []string
	for i, enabled := range days {
		if enabled {
			on = append(on, names[i])
		}
	}
	switch len(on) {
	case 0:
		return "none"
	case 7:
		return "every day"
	}
	return strings.Join(on, " ")
}

// sortedKeys returns the keys of an option map in order.
func sortedKeys(raw map[string]any) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
