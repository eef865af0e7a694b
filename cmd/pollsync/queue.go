package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pders01/pollsync/internal/notify"
	"github.com/pders01/pollsync/internal/storage"
)

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueStatusCmd, queueListCmd, queueProcessCmd)
	queueListCmd.Flags().BoolVar(&queueListAll, "all", false, "include items being processed")
}

var queueListAll bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drain the submission queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the number of pending submissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(conf)
		if err != nil {
			return err
		}
		defer rt.Close()

		n, err := rt.queue.Count()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), pendingLine(n))
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued submissions, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(conf)
		if err != nil {
			return err
		}
		defer rt.Close()

		var items []*storage.QueueItem
		if queueListAll {
			items, err = rt.queue.All()
		} else {
			items, err = rt.queue.Pending(conf.Queue.PendingLimit)
		}
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), queueTable(items, time.Now()))
		return nil
	},
}

var queueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Send pending submissions now",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, s, err := oneShot(cmd.Context(), notify.NewPrinter(os.Stderr))
		if err != nil {
			return err
		}
		defer rt.Close()
		defer s.Close()

		// ProcessNow reports the outcome as a notice
		s.orchestrator.ProcessNow(cmd.Context())
		return nil
	},
}

func pendingLine(n int) string {
	if n == 1 {
		return "1 pending submission"
	}
	return fmt.Sprintf("%d pending submissions", n)
}

func queueTable(items []*storage.QueueItem, now time.Time) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("ID", "TYPE", "STATUS", "ATTEMPTS", "QUEUED")
	for _, item := range items {
		t.Row(
			item.ID,
			item.Type,
			string(item.Status),
			strconv.Itoa(item.Attempts),
			humanize.RelTime(time.UnixMilli(item.CreatedAt), now, "ago", "from now"),
		)
	}
	return t.String()
}
