package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/kblock/internal/engine"
	"github.com/goodtune/kblock/internal/policy"
)

var (
	checkReferrer string
	checkTitle    string
	checkDay      string
	checkTime     string
	checkJSON     bool
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] URL",
	Short: "Check what kblock decides for a page",
	Long:  `Evaluate a URL against every block set using the stored options and usage, without tracking it.`,
	Example: `  kblock check https://www.example.com/
  kblock check --day saturday --time 18:30 https://video.example.com/watch
  kblock check --referrer https://search.example/ https://news.example.com/`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkReferrer, "referrer", "", "Referring page URL")
	checkCmd.Flags().StringVar(&checkTitle, "title", "", "Page title, for keyword matching")
	checkCmd.Flags().StringVar(&checkDay, "day", "", "Day of week (monday, tuesday, etc.) - defaults to current day")
	checkCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the raw response")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	at, err := parseCheckTime(time.Now(), checkDay, checkTime)
	if err != nil {
		return err
	}
	mock := clock.NewMock()
	mock.Set(at)

	ctx := context.Background()
	sess, err := openSession(ctx, mock, quietLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	// Evaluated at a chosen instant, so nothing is written back.
	resp := sess.engine.Handle(ctx, engine.Command{
		Type:     engine.CmdCheck,
		URL:      args[0],
		Referrer: checkReferrer,
		Title:    checkTitle,
	})
	if !resp.OK {
		return fmt.Errorf("%s: %s", resp.Code, resp.Error)
	}
	if checkJSON {
		return printJSON(resp)
	}
	printCheckResult(args[0], at, resp.Data.(*engine.NavigateResult))
	return nil
}

// printCheckResult prints the check result with colors
func printCheckResult(rawURL string, at time.Time, res *engine.NavigateResult) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	faint := color.New(color.Faint)

	printHeader("PAGE CHECK")

	fmt.Printf("URL:        %s\n", rawURL)
	if clean := policy.CleanURL(rawURL); clean != rawURL {
		fmt.Printf("Cleaned:    %s\n", clean)
	}
	fmt.Printf("Host:       %s\n", policy.Host(rawURL))
	fmt.Printf("Check Time: %s (%s)\n", at.Format("2006-01-02 15:04"), at.Weekday())
	fmt.Println()

	_, _ = cyan.Print("Decision:   ")
	if res.Blocked {
		_, _ = red.Println("BLOCK")
		info := res.Info
		fmt.Printf("            → Blocked by %s (%s)\n", info.BlockedSetName, info.Provider)
		fmt.Printf("            → Block page: %s\n", info.Page)
		if info.UnblockAt > 0 {
			fmt.Printf("            → Unblocks %s (%s)\n", info.UnblockTime, humanize.RelTime(time.Unix(info.UnblockAt, 0), at, "ago", "from now"))
		}
		if info.KeywordMatch != "" {
			fmt.Printf("            → Keyword: %s\n", info.KeywordMatch)
		}
	} else {
		_, _ = green.Println("ALLOW")
	}
	fmt.Println()

	for _, d := range res.Decisions {
		line := fmt.Sprintf("  %-22s %-6s %-9s %s", d.SetName, d.Action, d.Provider, d.Reason)
		switch {
		case d.Blocked():
			_, _ = red.Println(line)
		case d.Provider == "pattern":
			_, _ = faint.Println(line)
		default:
			_, _ = green.Println(line)
		}
	}

	printFooter()
}

// parseCheckTime moves now to the given weekday and HH:MM, looking forward.
func parseCheckTime(now time.Time, dayStr, timeStr string) (time.Time, error) {
	hour, minute := now.Hour(), now.Minute()
	if timeStr != "" {
		if len(strings.Split(timeStr, ":")) != 2 {
			return time.Time{}, fmt.Errorf("time must be in HH:MM format")
		}
		if _, err := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute); err != nil {
			return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
		}
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return time.Time{}, fmt.Errorf("invalid time: hour must be 0-23, minute must be 0-59")
		}
	}

	targetDay := now.Weekday()
	if dayStr != "" {
		day, ok := weekdays[strings.ToLower(dayStr)]
		if !ok {
			return time.Time{}, fmt.Errorf("invalid day: %s", dayStr)
		}
		targetDay = day
	}

	ahead := int(targetDay - now.Weekday())
	if ahead < 0 {
		ahead += 7
	}
	date := now.AddDate(0, 0, ahead)
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, now.Location()), nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}
