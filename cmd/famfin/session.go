package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"famfin/internal/cli"
	"famfin/internal/credential"
	"famfin/internal/log"
	"famfin/internal/worker"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect the stored session credential",
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a credential is stored and when it expires",
	RunE: func(cmd *cobra.Command, _ []string) error {
		token, err := app.Credentials.Store.Load(cmd.Context())
		if err != nil {
			return err
		}
		return printSessionStatus(cmd.OutOrStdout(), token, time.Now())
	},
}

var sessionWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow sign-ins and sign-outs until interrupted",
	Long: `Follow changes to the credential slot until interrupted.

Changes made by other famfin processes are picked up from the shared slot
(SQLite polling or Redis Pub/Sub). When AMQP is configured, logouts
broadcast by other machines clear the local slot too.`,
	RunE: runSessionWatch,
}

func init() {
	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionWatchCmd)
}

func printSessionStatus(w io.Writer, token string, now time.Time) error {
	type status struct {
		SignedIn  bool      `json:"signedIn"`
		Subject   string    `json:"subject,omitempty"`
		ExpiresAt time.Time `json:"expiresAt,omitempty"`
		Expired   bool      `json:"expired"`
	}

	st := status{SignedIn: token != ""}
	if st.SignedIn {
		info, err := credential.Inspect(token)
		if err != nil && !errors.Is(err, credential.ErrNotJWT) {
			return err
		}
		st.Subject = info.Subject
		st.ExpiresAt = info.ExpiresAt
		st.Expired = info.Expired(now)
	}

	if jsonOutput {
		return printJSON(w, st)
	}
	switch {
	case !st.SignedIn:
		_, err := fmt.Fprintln(w, "Not signed in")
		return err
	case st.ExpiresAt.IsZero():
		_, err := fmt.Fprintln(w, "Signed in (expiry unknown)")
		return err
	case st.Expired:
		_, err := fmt.Fprintf(w, "Signed in as %s, credential expired at %s (renewed on next request)\n",
			st.Subject, st.ExpiresAt.Local().Format(time.RFC1123))
		return err
	default:
		_, err := fmt.Fprintf(w, "Signed in as %s, credential valid until %s\n",
			st.Subject, st.ExpiresAt.Local().Format(time.RFC1123))
		return err
	}
}

func describeChange(c credential.Change) string {
	origin := "this process"
	if c.External {
		origin = "another process"
	}
	if c.Cleared {
		return "signed out by " + origin
	}
	return "credential updated by " + origin
}

func runSessionWatch(cmd *cobra.Command, _ []string) error {
	logger := app.Logger
	ctx, done := cli.GracefulShutdown(logger, 5*time.Second, nil)

	out := cmd.OutOrStdout()
	unsubscribe := app.Credentials.Store.Subscribe(func(c credential.Change) {
		fmt.Fprintf(out, "%s  %s\n", time.Now().Format(time.TimeOnly), describeChange(c))
	})
	defer unsubscribe()

	if app.Credentials.Watch != nil {
		go func() {
			if err := app.Credentials.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Credential watch stopped", log.FieldError, err)
			}
		}()
	}

	if app.Broadcaster != nil {
		sessions := worker.NewSessionWorker(app.Credentials.Store, logger)
		go func() {
			if err := app.Broadcaster.ConsumeLogout(ctx, sessions.HandleLogoutMessage(ctx)); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Logout consumption failed", log.FieldError, err)
			}
		}()
	}

	fmt.Fprintln(out, "Watching session, press Ctrl+C to stop")
	cli.WaitForShutdown(ctx, done)
	return nil
}
