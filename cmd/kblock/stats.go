package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/kblock/internal/engine"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show time spent per block set",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the raw response")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sess, err := openSession(ctx, nil, quietLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	resp, err := sess.run(ctx, engine.Command{Type: engine.CmdStats})
	if err != nil {
		return err
	}
	if statsJSON {
		return printJSON(resp)
	}
	printStats(resp.Data.([]engine.SetStats))
	return nil
}

func printStats(rows []engine.SetStats) {
	bold := color.New(color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	printHeader("USAGE STATISTICS")

	for _, row := range rows {
		_, _ = bold.Printf("%d. %s\n", row.Set, row.Name)
		fmt.Printf("   Since:     %s (%s)\n",
			time.Unix(row.FirstActiveAt, 0).Format("2006-01-02 15:04"),
			humanize.Time(time.Unix(row.FirstActiveAt, 0)))
		fmt.Printf("   Total:     %s\n", totalLine(row))
		fmt.Printf("   Per week:  %s\n", row.PerWeek)
		fmt.Printf("   Per day:   %s\n", row.PerDay)
		if row.Left != "" {
			fmt.Printf("   Period:    started %s\n", time.Unix(row.PeriodStart, 0).Format("Mon 2006-01-02 15:04"))
			fmt.Printf("   Used:      %s (rollover %s)\n", row.Used, row.Rollover)
			if row.SecondsLeft <= 0 {
				_, _ = red.Printf("   Left:      %s\n", row.Left)
			} else {
				fmt.Printf("   Left:      %s\n", row.Left)
			}
		}
		if row.Special != "" {
			_, _ = yellow.Printf("   %s until %s (%s)\n",
				row.Special,
				time.Unix(row.SpecialEnd, 0).Format("Mon 15:04"),
				humanize.Time(time.Unix(row.SpecialEnd, 0)))
		}
		fmt.Println()
	}

	printFooter()
}

// totalLine renders the lifetime total with the number of days it covers.
func totalLine(row engine.SetStats) string {
	return fmt.Sprintf("%s over %s", row.Total, english.Plural(int(row.Days), "day", "days"))
}
