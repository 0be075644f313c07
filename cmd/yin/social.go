package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"yintrade/internal/auth"
	"yintrade/internal/broadcast"
	cl "yintrade/internal/cli"
	"yintrade/internal/game"
	"yintrade/internal/prefs"
	"yintrade/internal/profile"
	"yintrade/internal/team"

	"github.com/spf13/cobra"
)

func newTeamCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Create, join or inspect a team",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create [name]",
			Short: "Create a team and become its leader",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				p, err := a.trader(ctx)
				if err != nil {
					return err
				}
				if p.TeamID != "" {
					printWarn("You are already on a team.")
					return nil
				}
				name, err := argOrPrompt(args, 0, "Team name")
				if err != nil {
					return err
				}
				t, inv, err := a.teams.Create(ctx, p.ID, name)
				if errors.Is(err, team.ErrAlreadyOnTeam) {
					printWarn("You are already on a team.")
					return nil
				}
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Team %q created successfully!", t.Name))
				fmt.Printf("Invite code: %s\n", accent.Sprint(inv.Code))
				return nil
			},
		},
		&cobra.Command{
			Use:   "join [code]",
			Short: "Join a team with an invite code",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				p, err := a.trader(ctx)
				if err != nil {
					return err
				}
				code, err := argOrPrompt(args, 0, "Invite code")
				if err != nil {
					return err
				}
				t, err := a.teams.Join(ctx, p.ID, code)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Joined %s.", t.Name))
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show your team",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				p, err := a.trader(ctx)
				if err != nil {
					return err
				}
				if p.TeamID == "" {
					printInfo("You are not on a team. Try `yin team create` or `yin team join CODE`.")
					return nil
				}
				t, err := a.teams.Get(ctx, p.TeamID)
				if err != nil {
					return err
				}
				return renderTeam(ctx, a, t)
			},
		},
	)
	return cmd
}

func renderTeam(ctx context.Context, a *app, t game.Team) error {
	accent.Printf("\n== TEAM %s ==\n", t.Name)
	if inv, err := a.teams.InviteFor(ctx, t.ID); err == nil {
		fmt.Printf("Invite code: %s\n", inv.Code)
	}
	fmt.Println()
	fmt.Printf("%-24s %-8s %16s\n", "MEMBER", "ROLE", "NET WORTH")
	for _, id := range t.MemberIDs {
		member, err := a.profiles.Get(ctx, id)
		if errors.Is(err, profile.ErrProfileNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		st, err := a.profiles.State(ctx, id)
		if err != nil {
			return err
		}
		role := "member"
		if id == t.LeaderID {
			role = "leader"
		}
		fmt.Printf("%-24s %-8s %16s\n", truncate(member.Name, 24), role, formatMicros(a.orders.NetWorth(st)))
	}
	fmt.Println()
	return nil
}

func newBroadcastCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Send or follow admin announcements",
	}

	var sendRemote bool
	send := &cobra.Command{
		Use:   "send MESSAGE",
		Short: "Send an announcement as Admin",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			text := strings.Join(args, " ")
			password, err := promptPassword("Admin password")
			if err != nil {
				return err
			}
			if sendRemote {
				client := cl.NewClient(a.cfg.APIBaseURL)
				sess, err := client.AdminLogin(ctx, password)
				if err != nil {
					return err
				}
				if _, err := client.SendBroadcast(ctx, sess.AccessToken, text); err != nil {
					return err
				}
				printSuccess("Broadcast sent.")
				return nil
			}
			if err := auth.VerifyAdmin(a.cfg.AdminPassword, password); err != nil {
				return err
			}
			// Admin lives only in this process; the persisted active profile is untouched.
			if err := a.profiles.SetActive(ctx, game.AdminProfile()); err != nil {
				return err
			}
			if _, err := sendAsAdmin(ctx, a.profiles, a.broadcast, text); err != nil {
				return err
			}
			printSuccess("Broadcast sent.")
			return nil
		},
	}
	send.Flags().BoolVar(&sendRemote, "remote", false, "send through the API at YIN_API_BASE_URL")

	var listenRemote bool
	listen := &cobra.Command{
		Use:   "listen",
		Short: "Print announcements as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			printInfo("Listening for broadcasts. Press Ctrl+C to stop.")
			if listenRemote {
				sess, err := cl.LoadSession()
				if err != nil {
					return err
				}
				return cl.NewClient(sess.BaseURL).ListenBroadcasts(ctx, sess.AccessToken, printBroadcast)
			}
			return a.broadcast.Listen(ctx, printBroadcast)
		},
	}
	listen.Flags().BoolVar(&listenRemote, "remote", false, "listen through the API using the saved remote session")

	cmd.AddCommand(send, listen)
	return cmd
}

// sendAsAdmin sends text only when the active profile is the Admin session.
func sendAsAdmin(ctx context.Context, profiles *profile.Store, ch *broadcast.Channel, text string) (broadcast.Message, error) {
	active, err := profiles.Active(ctx)
	if err != nil {
		return broadcast.Message{}, err
	}
	if !game.IsAdmin(active) {
		return broadcast.Message{}, errAdminOnly
	}
	return ch.Send(ctx, text)
}

func newThemeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "theme [toggle|dark|light]",
		Short:     "Show or change the colour theme",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"toggle", prefs.ThemeDark, prefs.ThemeLight},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 0 {
				theme, err := a.prefs.Theme(ctx)
				if err != nil {
					return err
				}
				printInfo("Theme: " + theme)
				return nil
			}
			var theme string
			switch arg := strings.ToLower(strings.TrimSpace(args[0])); arg {
			case "toggle":
				next, err := a.prefs.ToggleTheme(ctx)
				if err != nil {
					return err
				}
				theme = next
			case prefs.ThemeDark, prefs.ThemeLight:
				if err := a.prefs.SetTheme(ctx, arg); err != nil {
					return err
				}
				theme = arg
			default:
				return fmt.Errorf("unknown theme %q", arg)
			}
			applyTheme(theme)
			printSuccess("Theme: " + theme)
			return nil
		},
	}
}

func newOnboardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Walk through the basics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := []string{
				"Create a profile with `yin profile create NAME`; you start with " + formatMicros(game.DollarsToMicros(a.cfg.Game.StartingCash)) + ".",
				"Watch prices with `yin market` and move them with `yin market tick`.",
				"Trade with `yin buy SYMBOL SHARES` or `yin sell SYMBOL SHARES`. Add --limit PRICE to rest an order.",
				"Check `yin portfolio` and `yin orders` to see how you are doing.",
				"Team up with `yin team create NAME` and share the invite code.",
				"Lock your profile with `yin profile secure`.",
			}
			accent.Println("\n== WELCOME TO YIN TRADE ==")
			for i, s := range steps {
				fmt.Printf("%d. %s\n", i+1, s)
				time.Sleep(150 * time.Millisecond)
			}
			fmt.Println()
			if err := a.prefs.CompleteOnboarding(cmd.Context()); err != nil {
				return err
			}
			printSuccess("You're all set.")
			return nil
		},
	}
}
