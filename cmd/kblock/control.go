package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/kblock/internal/engine"
)

var (
	ctlSets      string
	ctlMins      int
	ctlUntil     string
	ctlCancel    bool
	ctlSecret    string
	ctlKeepStart bool
	ctlFlow      string
)

var restartCmd = &cobra.Command{
	Use:   "restart [SET]",
	Short: "Zero the usage counters of one set, or all sets",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := setArg(args)
		if err != nil {
			return err
		}
		resp, err := runOne(engine.Command{Type: engine.CmdRestart, Set: set, KeepStart: ctlKeepStart})
		if err != nil {
			return err
		}
		printStats(resp.Data.([]engine.SetStats))
		return nil
	},
}

var lockdownCmd = &cobra.Command{
	Use:   "lockdown",
	Short: "Block sets until a given time, whatever their schedule",
	Example: `  kblock lockdown --sets 1,2 --mins 90
  kblock lockdown --until 17:30
  kblock lockdown --cancel`,
	RunE: runLockdown,
}

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Lift blocking on sets for a while",
	Example: `  kblock override --mins 15
  kblock override --sets 2 --until 21:00
  kblock override --cancel`,
	RunE: runOverride,
}

var accessCodeCmd = &cobra.Command{
	Use:   "access-code",
	Short: "Show what a flow requires before it proceeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := runOne(engine.Command{Type: engine.CmdAccessCode, Flow: ctlFlow})
		if err != nil {
			return err
		}
		ac := resp.Data.(*engine.AccessCodeResult)
		fmt.Printf("Flow:     %s\n", ac.Flow)
		fmt.Printf("Mode:     %s\n", ac.Mode)
		fmt.Printf("Required: %t\n", ac.Required)
		if ac.Code != "" {
			fmt.Printf("Code:     %s\n", ac.Code)
		}
		return nil
	},
}

var resetRolloverCmd = &cobra.Command{
	Use:   "reset-rollover [SET]",
	Short: "Drop carried-over time from one set, or all sets",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := setArg(args)
		if err != nil {
			return err
		}
		resp, err := runOne(engine.Command{Type: engine.CmdResetRollover, Set: set})
		if err != nil {
			return err
		}
		fmt.Printf("Rollover reset for sets %v\n", resp.Data)
		return nil
	},
}

var discardTimeCmd = &cobra.Command{
	Use:   "discard-time [SET]",
	Short: "Give up the rest of the current quota period",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := setArg(args)
		if err != nil {
			return err
		}
		resp, err := runOne(engine.Command{Type: engine.CmdDiscardTime, Set: set})
		if err != nil {
			return err
		}
		printEnds("Locked until next period", resp.Data.(*engine.LockdownResult).Ends)
		return nil
	},
}

var addSitesCmd = &cobra.Command{
	Use:   "add-sites SET SITE...",
	Short: "Append sites to a block set",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := setArg(args[:1])
		if err != nil {
			return err
		}
		resp, err := runOne(engine.Command{Type: engine.CmdAddSites, Set: set, Sites: strings.Join(args[1:], " ")})
		if err != nil {
			return err
		}
		data := resp.Data.(map[string]any)
		fmt.Printf("Set %v sites: %v\n", data["set"], data["sites"])
		return nil
	},
}

func init() {
	restartCmd.Flags().BoolVar(&ctlKeepStart, "keep-start", false, "Keep the original start time")

	for _, c := range []*cobra.Command{lockdownCmd, overrideCmd} {
		c.Flags().StringVar(&ctlSets, "sets", "", "Comma-separated set numbers")
		c.Flags().IntVar(&ctlMins, "mins", 0, "Duration in minutes")
		c.Flags().StringVar(&ctlUntil, "until", "", "End time (HH:MM or RFC 3339)")
		c.Flags().BoolVar(&ctlCancel, "cancel", false, "Cancel instead of starting")
		c.Flags().StringVar(&ctlSecret, "secret", "", "Password or access code (prompted when needed)")
	}
	accessCodeCmd.Flags().StringVar(&ctlFlow, "flow", "lockdown", "Flow to check: lockdown or override")

	rootCmd.AddCommand(restartCmd, lockdownCmd, overrideCmd, accessCodeCmd, resetRolloverCmd, discardTimeCmd, addSitesCmd)
}

func runOne(cmd engine.Command) (engine.Response, error) {
	ctx := context.Background()
	sess, err := openSession(ctx, nil, quietLogger())
	if err != nil {
		return engine.Response{}, err
	}
	defer sess.Close()
	return sess.run(ctx, cmd)
}

func runLockdown(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sess, err := openSession(ctx, nil, quietLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	c, err := timedCommand(engine.CmdLockdown)
	if err != nil {
		return err
	}
	if c.Cancel && sess.engine.Options().LockdownAccess {
		if c.Secret, err = resolveSecret(ctx, sess, "lockdown"); err != nil {
			return err
		}
	}

	resp, err := sess.run(ctx, c)
	if err != nil {
		return err
	}
	res := resp.Data.(*engine.LockdownResult)
	if c.Cancel {
		fmt.Printf("Lockdown cancelled for sets %v\n", res.Cancelled)
		return nil
	}
	printEnds("Locked down", res.Ends)
	return nil
}

func runOverride(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sess, err := openSession(ctx, nil, quietLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	c, err := timedCommand(engine.CmdOverride)
	if err != nil {
		return err
	}
	if !c.Cancel {
		if c.Secret, err = resolveSecret(ctx, sess, "override"); err != nil {
			return err
		}
	}

	resp, err := sess.run(ctx, c)
	if err != nil {
		return err
	}
	res := resp.Data.(*engine.OverrideResult)
	if c.Cancel {
		fmt.Printf("Override cancelled for sets %v\n", res.Cancelled)
	} else {
		end := time.Unix(res.EndTime, 0)
		_, _ = color.New(color.FgGreen, color.Bold).Printf("Override active for sets %v until %s (%s)\n",
			res.Sets, end.Format("Mon 15:04"), humanize.Time(end))
	}
	if res.Remaining >= 0 {
		fmt.Printf("Overrides left this period: %d\n", res.Remaining)
	}
	return nil
}

// timedCommand builds a lockdown or override command from the shared flags.
func timedCommand(typ string) (engine.Command, error) {
	sets, err := parseSets(ctlSets)
	if err != nil {
		return engine.Command{}, err
	}
	c := engine.Command{Type: typ, Sets: sets, Mins: ctlMins, Cancel: ctlCancel, Secret: ctlSecret}
	if ctlUntil != "" {
		end, err := parseUntil(time.Now(), ctlUntil)
		if err != nil {
			return engine.Command{}, err
		}
		unix := end.Unix()
		c.EndTime = &unix
	}
	return c, nil
}

// parseUntil accepts RFC 3339 or a wall-clock HH:MM, taken as its next occurrence.
func parseUntil(now time.Time, s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	hm, err := time.ParseInLocation("15:04", s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid end time %q (want HH:MM or RFC 3339)", s)
	}
	end := time.Date(now.Year(), now.Month(), now.Day(), hm.Hour(), hm.Minute(), 0, 0, now.Location())
	if !end.After(now) {
		end = end.AddDate(0, 0, 1)
	}
	return end, nil
}

// resolveSecret asks for the password or access code a flow needs, unless
// one was given on the command line.
func resolveSecret(ctx context.Context, sess *session, flow string) (string, error) {
	if ctlSecret != "" {
		return ctlSecret, nil
	}
	resp := sess.engine.Handle(ctx, engine.Command{Type: engine.CmdAccessCode, Flow: flow})
	if !resp.OK {
		return "", fmt.Errorf("%s: %s", resp.Code, resp.Error)
	}
	ac := resp.Data.(*engine.AccessCodeResult)
	if !ac.Required {
		return "", nil
	}

	if ac.Code != "" {
		fmt.Printf("Type this code to continue:\n\n  %s\n\n> ", ac.Code)
	} else {
		fmt.Print("Password: ")
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func setArg(args []string) (engine.SetRef, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid set: %s", args[0])
	}
	return engine.SetRef(n), nil
}

func printEnds(label string, ends map[int]int64) {
	if len(ends) == 0 {
		fmt.Println("No sets affected")
		return
	}
	ids := make([]int, 0, len(ends))
	for id := range ends {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	yellow := color.New(color.FgYellow, color.Bold)
	for _, id := range ids {
		end := time.Unix(ends[id], 0)
		_, _ = yellow.Printf("%s: set %d until %s (%s)\n", label, id, end.Format("Mon 15:04"), humanize.Time(end))
	}
}
