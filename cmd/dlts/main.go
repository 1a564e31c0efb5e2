package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/dlts/internal/login"
	"github.com/jmerrifield20/dlts/internal/push"
	"github.com/jmerrifield20/dlts/internal/session"
	"github.com/jmerrifield20/dlts/pkg/client"
	"github.com/jmerrifield20/dlts/pkg/dssn"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	verbose bool

	cfg    *config
	logger *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dlts",
	Short: "Digital Liberia Transportation System CLI",
	Long: `dlts signs you in to the Digital Liberia Transportation System with your
DSSN. A verification request is sent to the Digital Liberia mobile app and the
login completes once you approve it there.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = loadConfig(viper.GetViper(), cfgFile); err != nil {
			return err
		}
		logger, err = newLogger(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.dlts/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("authority", "", "authority base URL (default "+client.DefaultBaseURL+")")
	_ = viper.BindPFlag("authority.base_url", rootCmd.PersistentFlags().Lookup("authority"))

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pushTokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	if opts.prompter == nil {
		opts.prompter = push.TerminalPrompter{In: os.Stdin, Out: os.Stderr}
	}
	return newApp(ctx, cfg, logger, opts)
}

// ── login ────────────────────────────────────────────────────────────────────

var (
	loginNoPush bool
	loginJSON   bool
)

var loginCmd = &cobra.Command{
	Use:   "login [dssn]",
	Short: "Log in with your DSSN and approve on your mobile device",
	Long: `Login sends a verification request for your DSSN to the Digital Liberia
mobile app and waits for you to approve or deny it.

  dlts login 123456789012345

Press Ctrl-C to cancel while waiting.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&loginNoPush, "no-push", false, "do not register for push notifications; rely on polling alone")
	loginCmd.Flags().BoolVar(&loginJSON, "json", false, "print the session as JSON")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	raw := ""
	if len(args) == 1 {
		raw = args[0]
	} else {
		fmt.Fprint(os.Stderr, "DSSN: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		raw = strings.TrimSpace(line)
	}

	opts := appOptions{noPush: loginNoPush}
	if loginNoPush {
		opts.prompter = push.StaticPrompter{Answer: push.PermissionDenied}
	}
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	a.flow.SetAdvisory(func(h *client.ChallengeHandle, advisory string) {
		fmt.Fprintf(os.Stderr, "Verification request sent (challenge %s).\n", h.ChallengeID)
		switch {
		case advisory != "":
			fmt.Fprintf(os.Stderr, "! %s\n", advisory)
		case h.PushNotification != nil && h.PushNotification.Sent:
			fmt.Fprintf(os.Stderr, "✓ %s\n", login.MsgPushSent)
		}
		fmt.Fprintln(os.Stderr, "Please check your mobile app to approve this transportation access request...")
	})

	s, err := a.flow.Login(ctx, raw)
	if err != nil {
		return errors.New(login.UserMessage(err))
	}
	return printSession(s, loginJSON)
}

// ── logout ───────────────────────────────────────────────────────────────────

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the local session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{noPush: true})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.flow.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

// ── whoami ───────────────────────────────────────────────────────────────────

var whoamiJSON bool

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{noPush: true})
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.flow.Current(cmd.Context())
		if errors.Is(err, session.ErrNoSession) {
			return errors.New("not logged in; run: dlts login")
		}
		if err != nil {
			return err
		}
		return printSession(s, whoamiJSON)
	},
}

func init() {
	whoamiCmd.Flags().BoolVar(&whoamiJSON, "json", false, "print the session as JSON")
}

// ── status ───────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status <challenge-id>",
	Short: "Check the status of a challenge once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{noPush: true})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.authority.ChallengeStatus(cmd.Context(), args[0])
		if err != nil {
			var se *client.StatusError
			if errors.As(err, &se) {
				return errors.New(se.Message)
			}
			return err
		}
		fmt.Printf("Challenge: %s\n", res.ChallengeID)
		fmt.Printf("Status:    %s\n", res.Status)
		return nil
	},
}

// ── push-token ───────────────────────────────────────────────────────────────

var pushTokenReset bool

var pushTokenCmd = &cobra.Command{
	Use:   "push-token",
	Short: "Register this device for push notifications and print the token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if pushTokenReset {
			if err := a.tokens.Invalidate(cmd.Context()); err != nil {
				return err
			}
		}
		token, ok := a.tokens.AcquireToken(cmd.Context())
		if !ok {
			return errors.New("push notifications are unavailable; logins will rely on polling")
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	pushTokenCmd.Flags().BoolVar(&pushTokenReset, "reset", false, "discard the cached token and request a new one")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dlts %s (Digital Liberia Transportation System)\n", version)
	},
}

// ── output ───────────────────────────────────────────────────────────────────

func printSession(s *session.Session, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Printf("✓ Logged in to %s\n\n", login.ServiceName)
	fmt.Printf("  DSSN:      %s\n", dssn.Mask(s.DSSN))
	fmt.Printf("  Challenge: %s\n", s.ChallengeID)
	fmt.Printf("  Since:     %s\n", s.EstablishedAt.Local().Format(time.RFC1123))
	if s.ExpiresAt != nil {
		fmt.Printf("  Expires:   %s\n", s.ExpiresAt.Local().Format(time.RFC1123))
	}
	if name := profileName(s.Profile); name != "" {
		fmt.Printf("  Name:      %s\n", name)
	}
	return nil
}

func profileName(profile map[string]any) string {
	first, _ := profile["firstName"].(string)
	last, _ := profile["lastName"].(string)
	return strings.TrimSpace(first + " " + last)
}
