package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pders01/pollsync/internal/debuglog"
	"github.com/pders01/pollsync/internal/notify"
	"github.com/pders01/pollsync/internal/storage"
	"github.com/pders01/pollsync/internal/tui"
)

func init() {
	rootCmd.AddCommand(tuiCmd)
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Browse cached polls and the pending queue in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		rt, err := openRuntime(conf)
		if err != nil {
			return err
		}
		defer rt.Close()

		conn := rt.connectivity(ctx)
		go conn.Run(ctx)

		// notices would draw over the screen; the status bar shows outcomes
		notices := notify.Func(func(kind notify.Kind, msg string) {
			debuglog.Infof("tui notice (%s): %s", kind, msg)
		})
		s, err := rt.newSession(conn, storage.NewMemorySession(), notices)
		if err != nil {
			return err
		}
		defer s.Close()

		app := tui.NewApp(tui.Deps{
			Polls:      s.catalog,
			Searcher:   rt.searcher,
			ProcessNow: s.orchestrator.ProcessNow,
			Pending:    rt.queue.Count,
			Online:     conn.Online,
			Timeout:    conf.API.Timeout,
		})
		_, err = tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		return err
	},
}
