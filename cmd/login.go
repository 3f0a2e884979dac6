package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/resale-repricer/internal/session"
)

func newLoginCmd(g *globalFlags) *cobra.Command {
	var (
		force  bool
		headed bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log the account in and store its session",
		Long: `Log the account in and store the encrypted session where SESSION_STORE
points. Without --force a stored, unexpired session is reused. --headed opens
a visible browser so the login can be completed by hand.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.setup()
			if err != nil {
				return err
			}
			if headed {
				cfg.Headless = false
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, err := openStack(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer st.close()

			launcher, err := st.launcher()
			if err != nil {
				return err
			}
			defer launcher.Close()
			store := st.sessionStore()
			if force {
				store = writeOnly{store}
			}
			auth, err := st.authorityWith(launcher.Authenticator(), store)
			if err != nil {
				return err
			}
			if err := auth.Restore(ctx); err != nil {
				log.WithError(err).Warn("stored session unreadable")
			}
			cred, err := auth.Acquire(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			how := "restored"
			if auth.Logins() > 0 {
				how = "logged in"
			}
			fmt.Fprintf(out, "%s: account %s, issued %s\n", how, cred.AccountID, cred.IssuedAt.Format(time.RFC3339))
			if cred.ExpiresAt.IsZero() {
				fmt.Fprintln(out, "session has no expiry")
			} else {
				fmt.Fprintf(out, "expires %s (in %s)\n", cred.ExpiresAt.Format(time.RFC3339), time.Until(cred.ExpiresAt).Round(time.Minute))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "ignore a stored session and log in again")
	cmd.Flags().BoolVar(&headed, "headed", false, "show the browser window")
	return cmd
}

// writeOnly hides the stored session so a fresh login replaces it.
type writeOnly struct{ session.Store }

func (writeOnly) Load(context.Context, string) ([]byte, error) { return nil, session.ErrNotFound }
