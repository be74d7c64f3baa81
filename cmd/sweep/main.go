package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/partyhub/mention-lifecycle/internal/app"
	"github.com/partyhub/mention-lifecycle/internal/config"
	"github.com/partyhub/mention-lifecycle/internal/hashtags"
	"github.com/partyhub/mention-lifecycle/internal/lifecycle"
	"github.com/partyhub/mention-lifecycle/internal/partyselection"
	"github.com/partyhub/mention-lifecycle/internal/scheduler"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// sweepers is everything a one-shot run may invoke.
type sweepers interface {
	scheduler.SweepRunner
	scheduler.TimeoutSweeper
	scheduler.HashtagPoller
}

// opener builds the sweepers and returns a function releasing them.
type opener func(ctx context.Context) (sweepers, func(), error)

func newRootCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sweep",
		Short:         "Run mention lifecycle sweeps once",
		Long:          "Runs one sweep or hashtag poll and prints the result as JSON. Meant for external schedulers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	for _, sweepType := range []lifecycle.SweepType{lifecycle.SweepVerification, lifecycle.SweepExpiry, lifecycle.SweepBoth} {
		cmd.AddCommand(newLifecycleCmd(open, sweepType))
	}
	cmd.AddCommand(newTimeoutsCmd(open))
	cmd.AddCommand(newHashtagsCmd(open))
	return cmd
}

func newLifecycleCmd(open opener, sweepType lifecycle.SweepType) *cobra.Command {
	return &cobra.Command{
		Use:   string(sweepType),
		Short: fmt.Sprintf("Run the %s sweep", sweepType),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := s.Run(cmd.Context(), sweepType)
			if result != nil {
				if encErr := printJSON(cmd, result); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
}

func newTimeoutsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "timeouts",
		Short: "Time out unanswered party selection dialogs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := s.SweepTimeouts(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func newHashtagsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "hashtags",
		Short: "Poll followed hashtags for new posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := s.Poll(cmd.Context())
			if result != nil {
				if encErr := printJSON(cmd, result); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func openApp(ctx context.Context) (sweepers, func(), error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	services, err := app.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return &appSweepers{services}, services.Close, nil
}

type appSweepers struct {
	*app.App
}

func (a *appSweepers) Run(ctx context.Context, sweepType lifecycle.SweepType) (*lifecycle.SweepResult, error) {
	return a.Lifecycle.Run(ctx, sweepType)
}

func (a *appSweepers) SweepTimeouts(ctx context.Context) (*partyselection.TimeoutResult, error) {
	return a.Party.SweepTimeouts(ctx)
}

func (a *appSweepers) Poll(ctx context.Context) (*hashtags.PollResult, error) {
	return a.Hashtags.Poll(ctx)
}

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stderr)

	if err := newRootCmd(openApp).ExecuteContext(context.Background()); err != nil {
		logrus.Errorf("Sweep failed: %v", err)
		os.Exit(1)
	}
}
