package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	cl "yintrade/internal/cli"

	"github.com/spf13/cobra"
)

// newRemoteCmd talks to a yin-api server instead of the local store.
func newRemoteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "remote",
		Short:       "Play against a shared yin-api server",
		Annotations: map[string]string{skipStore: "true"},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "signup [name]",
			Short: "Create a profile on the server",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name, err := argOrPrompt(args, 0, "Profile name")
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				p, err := cl.NewClient(a.cfg.APIBaseURL).CreateProfile(ctx, name)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Created %s. Run `yin remote login %s`.", p.Name, p.Name))
				return nil
			},
		},
		&cobra.Command{
			Use:   "login [name]",
			Short: "Sign in on the server and save the session",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name, err := argOrPrompt(args, 0, "Profile name")
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
				defer cancel()
				client := cl.NewClient(a.cfg.APIBaseURL)
				sess, err := client.Login(ctx, name, "")
				var apiErr *cl.APIError
				if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
					password, perr := promptPassword("Password for " + name)
					if perr != nil {
						return perr
					}
					sess, err = client.Login(ctx, name, password)
					if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
						printError(apiErr.Message)
						return err
					}
				}
				if err != nil {
					return err
				}
				if err := cl.SaveSession(cl.Session{
					AccessToken: sess.AccessToken,
					ProfileID:   sess.Profile.ID,
					ProfileName: sess.Profile.Name,
					BaseURL:     client.BaseURL,
				}); err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Signed in to %s as %s.", client.BaseURL, sess.Profile.Name))
				return nil
			},
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Forget the saved session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := cl.ClearSession(); err != nil {
					return err
				}
				printSuccess("Logged out.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "market [SYMBOL]",
			Short: "Show the server's market",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				sess, client, err := remoteSession()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				if len(args) == 1 {
					symbol, err := symbolFromArgsOrPrompt(args)
					if err != nil {
						return err
					}
					st, err := client.Stock(ctx, sess.AccessToken, symbol)
					if err != nil {
						return err
					}
					renderStock(st)
					return nil
				}
				snap, err := client.Market(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				renderMarket(snap)
				return nil
			},
		},
		&cobra.Command{
			Use:   "portfolio",
			Short: "Show your portfolio on the server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				sess, client, err := remoteSession()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				view, err := client.State(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				snap, err := client.Market(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				prices := make(map[string]int64, len(snap.Stocks))
				for _, st := range snap.Stocks {
					prices[st.Symbol] = st.PriceMicros
				}
				renderPortfolio(sess.ProfileName, view.State, view.NetWorth, prices)
				renderOrders("Active Orders", view.State.ActiveOrders)
				fmt.Println()
				return nil
			},
		},
	)
	return cmd
}

func remoteSession() (cl.Session, *cl.Client, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, nil, err
	}
	return sess, cl.NewClient(sess.BaseURL), nil
}
