package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pders01/pollsync/internal/cache"
	"github.com/pders01/pollsync/internal/notify"
	"github.com/pders01/pollsync/internal/search"
	"github.com/pders01/pollsync/internal/tui"
)

var pollsFlags struct {
	refresh bool
	limit   int
	days    int
}

func init() {
	rootCmd.AddCommand(pollsCmd)
	pollsCmd.AddCommand(pollsRefreshCmd, pollsListCmd, pollsShowCmd, pollsSearchCmd, pollsPruneCmd)
	pollsListCmd.Flags().BoolVar(&pollsFlags.refresh, "refresh", false, "refresh from the API first when online")
	pollsSearchCmd.Flags().IntVar(&pollsFlags.limit, "limit", 10, "maximum results")
	pollsPruneCmd.Flags().IntVar(&pollsFlags.days, "days", 0, "keep polls fetched within this many days (default cache.keep_days)")
}

var pollsCmd = &cobra.Command{
	Use:   "polls",
	Short: "Work with the cached polls",
}

var pollsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the poll list and thumbnails into the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, s, err := oneShot(cmd.Context(), notify.Discard)
		if err != nil {
			return err
		}
		defer rt.Close()
		// waits for thumbnails
		defer s.Close()

		n, err := s.catalog.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		notify.NewPrinter(os.Stderr).Notify(notify.Success, fmt.Sprintf("Cached %d polls", n))
		return nil
	},
}

var pollsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached polls, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var polls []*cache.CachedPoll
		if pollsFlags.refresh {
			rt, s, err := oneShot(cmd.Context(), notify.Discard)
			if err != nil {
				return err
			}
			defer rt.Close()
			defer s.Close()
			polls = s.catalog.List(cmd.Context())
		} else {
			rt, err := openRuntime(conf)
			if err != nil {
				return err
			}
			defer rt.Close()
			polls = rt.cache.GetPolls(conf.Cache.PollMaxAge)
		}

		if len(polls) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No polls cached. Run `pollsync polls refresh` while online.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), pollsTable(polls, time.Now()))
		return nil
	},
}

var pollsShowCmd = &cobra.Command{
	Use:   "show <poll-id>",
	Short: "Show one poll, fetching it when the cached copy is stale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid poll id %q", args[0])
		}

		rt, s, err := oneShot(cmd.Context(), notify.Discard)
		if err != nil {
			return err
		}
		defer rt.Close()
		defer s.Close()

		poll, err := s.catalog.Get(cmd.Context(), id)
		if err != nil {
			return err
		}

		md := tui.PollMarkdown(poll, time.Now())
		renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err == nil {
			if out, err := renderer.Render(md); err == nil {
				md = out
			}
		}
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	},
}

var pollsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over cached polls",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(conf)
		if err != nil {
			return err
		}
		defer rt.Close()

		results, err := rt.searcher.Search(strings.Join(args, " "), pollsFlags.limit)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No results")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), resultsTable(results))
		return nil
	},
}

var pollsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop polls older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		days := pollsFlags.days
		if days <= 0 {
			days = conf.Cache.KeepDays
		}

		rt, err := openRuntime(conf)
		if err != nil {
			return err
		}
		defer rt.Close()

		n, err := rt.cache.ClearOldPolls(days)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d polls older than %d days\n", n, days)
		return nil
	},
}

func pollsTable(polls []*cache.CachedPoll, now time.Time) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("ID", "TITLE", "QUESTIONS", "FETCHED", "")
	for _, p := range polls {
		stale := ""
		if p.Stale {
			stale = "stale"
		}
		t.Row(
			strconv.FormatInt(p.PollID, 10),
			p.Title,
			strconv.Itoa(len(p.Questions)),
			humanize.RelTime(time.UnixMilli(p.FetchedAt), now, "ago", "from now"),
			stale,
		)
	}
	return t.String()
}

func resultsTable(results []*search.Result) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("ID", "TITLE", "MATCH", "SCORE")
	for _, r := range results {
		match := ""
		if len(r.Matches) > 0 {
			match = r.Matches[0].Field
		}
		t.Row(
			strconv.FormatInt(r.PollID, 10),
			r.Title,
			match,
			strconv.FormatFloat(r.Score, 'f', 2, 64),
		)
	}
	return t.String()
}
