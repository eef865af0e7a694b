package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pders01/pollsync/internal/tui"
)

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionBanner, "banner", false, "print the banner")
}

var versionBanner bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		if versionBanner {
			fmt.Fprintln(cmd.OutOrStdout(), tui.Banner(Version))
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pollsync %s\n", Version)
		fmt.Fprintln(cmd.OutOrStdout(), "Offline-first poll sync agent")
		fmt.Fprintln(cmd.OutOrStdout(), "github.com/pders01/pollsync")
	},
}
