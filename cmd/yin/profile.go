package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"yintrade/internal/profile"

	"github.com/spf13/cobra"
)

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profile",
		Short:   "Manage local profiles",
		Aliases: []string{"profiles"},
	}
	cmd.AddCommand(
		newProfileListCmd(a),
		newProfileCreateCmd(a),
		newProfileLoginCmd(a),
		newProfileLogoutCmd(a),
		newProfileWhoamiCmd(a),
		newProfileSecureCmd(a),
		newProfileDeleteCmd(a),
	)
	return cmd
}

func newProfileListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			list, err := a.profiles.List(ctx)
			if err != nil {
				return err
			}
			active, err := a.profiles.Active(ctx)
			if err != nil {
				return err
			}
			accent.Println("\n== PROFILES ==")
			if len(list) == 0 {
				printInfo("No profiles yet. Run `yin profile create NAME`.")
				return nil
			}
			fmt.Printf("  %-24s %-8s %-16s\n", "NAME", "LOCKED", "TEAM")
			for _, p := range list {
				marker := " "
				if active != nil && active.ID == p.ID {
					marker = "*"
				}
				locked := "no"
				if p.HasPassword() {
					locked = "yes"
				}
				teamName := "-"
				if p.TeamID != "" {
					if t, err := a.teams.Get(ctx, p.TeamID); err == nil {
						teamName = t.Name
					}
				}
				fmt.Printf("%s %-24s %-8s %-16s\n", marker, truncate(p.Name, 24), locked, truncate(teamName, 16))
			}
			fmt.Println()
			return nil
		},
	}
}

func newProfileCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create [name]",
		Short: "Create a profile and sign in as it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := argOrPrompt(args, 0, "Profile name")
			if err != nil {
				return err
			}
			p, err := a.profiles.Create(cmd.Context(), name)
			if err != nil {
				return err
			}
			if err := a.profiles.SetActive(cmd.Context(), p); err != nil {
				return err
			}
			st, err := a.profiles.State(cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Welcome, %s! You start with %s.", p.Name, formatMicros(st.Portfolio.CashMicros)))
			return nil
		},
	}
}

func newProfileLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "use [name]",
		Short:   "Sign in as a profile",
		Aliases: []string{"login", "switch"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, err := argOrPrompt(args, 0, "Profile name")
			if err != nil {
				return err
			}
			p, err := a.profiles.FindByName(ctx, name)
			if err != nil {
				return err
			}
			password := ""
			if p.HasPassword() {
				password, err = promptPassword("Password for " + p.Name)
				if err != nil {
					return err
				}
				select {
				case <-time.After(a.cfg.LoginDelay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			p, err = a.profiles.Login(ctx, p.ID, password)
			if errors.Is(err, profile.ErrPasswordMismatch) {
				printError("Incorrect password. Please try again.")
				return err
			}
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Signed in as %s.", p.Name))
			return nil
		},
	}
}

func newProfileLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out of the active profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.profiles.ClearActive(cmd.Context()); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newProfileWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the active profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.profiles.Active(ctx)
			if err != nil {
				return err
			}
			if p == nil {
				printWarn("Nobody is signed in.")
				return nil
			}
			fmt.Printf("Name:     %s\n", p.Name)
			fmt.Printf("ID:       %s\n", p.ID)
			fmt.Printf("Password: %t\n", p.HasPassword())
			if p.TeamID != "" {
				role := "member"
				if p.IsTeamLeader {
					role = "leader"
				}
				t, err := a.teams.Get(ctx, p.TeamID)
				if err == nil {
					fmt.Printf("Team:     %s (%s)\n", t.Name, role)
				}
			}
			return nil
		},
	}
}

func newProfileSecureCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "secure",
		Short: "Protect the active profile with a password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.trader(ctx)
			if err != nil {
				return err
			}
			password, err := promptPassword("New password")
			if err != nil {
				return err
			}
			confirm, err := promptPassword("Confirm password")
			if err != nil {
				return err
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}
			if _, err := a.profiles.SetPassword(ctx, p.ID, password); err != nil {
				return err
			}
			printSuccess("Your profile is now password protected!")
			return nil
		},
	}
}

func newProfileDeleteCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a profile and its trading state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, err := argOrPrompt(args, 0, "Profile name")
			if err != nil {
				return err
			}
			p, err := a.profiles.FindByName(ctx, name)
			if err != nil {
				return err
			}
			if !yes {
				answer, err := promptRequired(fmt.Sprintf("Type %q to delete it", p.Name))
				if err != nil {
					return err
				}
				if answer != p.Name {
					printWarn("Nothing deleted.")
					return nil
				}
			}
			if err := a.profiles.Delete(ctx, p.ID); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Deleted %s.", p.Name))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func argOrPrompt(args []string, idx int, label string) (string, error) {
	if len(args) > idx && strings.TrimSpace(args[idx]) != "" {
		return strings.TrimSpace(args[idx]), nil
	}
	return promptRequired(label)
}
