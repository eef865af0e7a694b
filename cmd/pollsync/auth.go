package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pders01/pollsync/internal/auth"
	"github.com/pders01/pollsync/internal/notify"
	"github.com/pders01/pollsync/internal/storage"
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login [token]",
	Short: "Store the API bearer token (reads stdin when no token is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := ""
		if len(args) == 1 && args[0] != "-" {
			token = args[0]
		} else {
			var err error
			if token, err = readToken(cmd.InOrStdin()); err != nil {
				return err
			}
		}

		store, err := storage.Open(conf.Database.Path, conf.Database.Timeout)
		if err != nil {
			return err
		}
		defer store.Close()

		session := auth.NewSession(store, nil)
		if err := session.Login(token); err != nil {
			return err
		}
		if !session.IsAuthenticated() {
			notify.NewPrinter(os.Stderr).Notify(notify.Warn, "Token stored, but it has already expired")
			return nil
		}
		notify.NewPrinter(os.Stderr).Notify(notify.Success, loginMessage(token, time.Now()))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Open(conf.Database.Path, conf.Database.Timeout)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := auth.NewSession(store, nil).Logout(); err != nil {
			return err
		}
		notify.NewPrinter(os.Stderr).Notify(notify.Info, "Logged out")
		return nil
	},
}

func readToken(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func loginMessage(token string, now time.Time) string {
	if exp, ok := auth.Expiry(token); ok {
		return "Logged in, token expires " + humanize.RelTime(exp, now, "ago", "from now")
	}
	return "Logged in"
}
