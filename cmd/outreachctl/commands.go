package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/leadnexconnect/campaign-engine/internal/app"
	"github.com/leadnexconnect/campaign-engine/internal/config"
	"github.com/leadnexconnect/campaign-engine/internal/domain"
	"github.com/leadnexconnect/campaign-engine/internal/observability"
	"github.com/leadnexconnect/campaign-engine/internal/queue"
	"github.com/leadnexconnect/campaign-engine/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// operations is the slice of the service graph the CLI drives.
type operations interface {
	StartCampaign(ctx context.Context, campaignID string) (*service.ScheduleResult, error)
	PauseCampaign(ctx context.Context, campaignID string) (int, error)
	ResumeCampaign(ctx context.Context, campaignID string) (int, error)
	RetryFailed(ctx context.Context, campaignID string) (int, error)
	GetCampaignEmailStats(ctx context.Context, campaignID string) (*domain.ScheduledEmailStats, error)
	SendDueEmails(ctx context.Context) (service.SendDueResult, error)
}

// environment opens the backing services lazily so that --help and argument
// errors never touch the database.
type environment struct {
	out         io.Writer
	open        func(ctx context.Context) (operations, func() error, error)
	openConsume func(ctx context.Context) (queue.Consumer, error)
}

func defaultEnvironment() *environment {
	return &environment{
		out:         os.Stdout,
		open:        openApp,
		openConsume: openConsumer,
	}
}

func newRootCommand(env *environment) *cobra.Command {
	root := &cobra.Command{
		Use:          "outreachctl",
		Short:        "Operate campaign email scheduling and sending",
		SilenceUsage: true,
	}
	root.SetOut(env.out)

	root.AddCommand(
		campaignCommand(env, "start", "Move a draft campaign to running and schedule its emails",
			func(ctx context.Context, ops operations, id string) (any, error) {
				return ops.StartCampaign(ctx, id)
			}),
		campaignCommand(env, "pause", "Pause a running campaign and cancel its pending emails",
			func(ctx context.Context, ops operations, id string) (any, error) {
				n, err := ops.PauseCampaign(ctx, id)
				return map[string]any{"campaignId": id, "cancelledCount": n}, err
			}),
		campaignCommand(env, "resume", "Resume a paused campaign",
			func(ctx context.Context, ops operations, id string) (any, error) {
				n, err := ops.ResumeCampaign(ctx, id)
				return map[string]any{"campaignId": id, "resumedCount": n}, err
			}),
		campaignCommand(env, "retry", "Reset a campaign's failed emails to pending",
			func(ctx context.Context, ops operations, id string) (any, error) {
				n, err := ops.RetryFailed(ctx, id)
				return map[string]any{"campaignId": id, "retriedCount": n}, err
			}),
		campaignCommand(env, "stats", "Show per-status scheduled email counts",
			func(ctx context.Context, ops operations, id string) (any, error) {
				return ops.GetCampaignEmailStats(ctx, id)
			}),
		sendDueCommand(env),
		eventsCommand(env),
	)

	return root
}

func campaignCommand(
	env *environment,
	use string,
	short string,
	run func(ctx context.Context, ops operations, campaignID string) (any, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <campaign-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withOperations(cmd.Context(), func(ops operations) error {
				result, err := run(cmd.Context(), ops, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func sendDueCommand(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "send-due",
		Short: "Run one send cycle over all due emails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withOperations(cmd.Context(), func(ops operations) error {
				result, err := ops.SendDueEmails(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func eventsCommand(env *environment) *cobra.Command {
	events := &cobra.Command{
		Use:   "events",
		Short: "Inspect outcome events",
	}

	var kinds []string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Consume outcome events and print them as JSON lines",
		Long: "Consume outcome events and print them as JSON lines.\n" +
			"Events are acknowledged, so they are not delivered to other consumers.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queues, err := tailQueues(kinds)
			if err != nil {
				return err
			}

			consumer, err := env.openConsume(cmd.Context())
			if err != nil {
				return err
			}
			defer consumer.Close() //nolint:errcheck

			printer := &eventPrinter{out: cmd.OutOrStdout()}
			g, groupCtx := errgroup.WithContext(cmd.Context())
			for _, name := range queues {
				g.Go(func() error {
					return consumer.Consume(groupCtx, name, printer.handle)
				})
			}
			return g.Wait()
		},
	}
	tail.Flags().StringSliceVar(&kinds, "kind", nil, "Event kinds to follow (default all)")

	events.AddCommand(tail)
	return events
}

func tailQueues(kinds []string) ([]string, error) {
	if len(kinds) == 0 {
		return queue.EventQueueNames(), nil
	}

	queues := make([]string, 0, len(kinds))
	for _, raw := range kinds {
		kind, err := queue.ParseEventKind(raw)
		if err != nil {
			return nil, err
		}
		queues = append(queues, queue.QueueName(kind))
	}
	return queues, nil
}

func (env *environment) withOperations(ctx context.Context, fn func(ops operations) error) error {
	ops, closeFn, err := env.open(ctx)
	if err != nil {
		return err
	}

	err = fn(ops)
	if closeErr := closeFn(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func writeJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// cliOperations joins the lifecycle service and the sender behind one value.
type cliOperations struct {
	*service.CampaignService
	sender *service.EmailSender
}

func (o cliOperations) SendDueEmails(ctx context.Context) (service.SendDueResult, error) {
	return o.sender.SendDueEmails(ctx)
}

func openApp(ctx context.Context) (operations, func() error, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() error {
		_ = logger.Sync()
		return a.Close()
	}
	return cliOperations{CampaignService: a.Campaigns, sender: a.Sender}, closeFn, nil
}

func openConsumer(ctx context.Context) (queue.Consumer, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required to tail events")
	}

	broker, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
	if err != nil {
		return nil, err
	}
	return queue.NewRabbitMQConsumer(broker, 1, logger), nil
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
