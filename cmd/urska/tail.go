package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/urska/config"
	"github.com/mohammad-safakhou/urska/internal/progress"
	"github.com/mohammad-safakhou/urska/internal/queue/streams"
	"github.com/spf13/cobra"
)

func tailCMD(cfgPath *string) *cobra.Command {
	var group string
	var fromStart bool
	var reclaim time.Duration
	tail := &cobra.Command{
		Use:   "tail <run_id>",
		Short: "Follow a run's progress from Redis Streams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Storage.Redis.Validate(); err != nil {
				return fmt.Errorf("redis not configured: %w", err)
			}
			if group == "" {
				group = cfg.Streams.Group
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := newRedisClient(cfg.Storage.Redis)
			defer client.Close()
			registry, err := streams.NewBaseRegistry()
			if err != nil {
				return err
			}
			stream := streams.ProgressStream(cfg.Streams.Prefix, args[0])
			if fromStart {
				err = streams.EnsureGroupFrom(ctx, client, stream, group, "0")
			} else {
				err = streams.EnsureGroup(ctx, client, stream, group)
			}
			if err != nil {
				return err
			}
			if lag, err := streams.GroupLag(ctx, client, stream, group); err == nil {
				fmt.Fprintf(os.Stderr, ".. %s: lag=%d pending=%d\n", stream, lag.Lag, lag.Pending)
			}

			out := cmd.OutOrStdout()
			consumer := streams.NewConsumer(client, registry, group, "tail-"+uuid.NewString()[:8])
			handle := func(_ context.Context, msg streams.Message) (bool, error) {
				switch msg.Envelope.EventType {
				case streams.EventProgress:
					var p streams.ProgressPayload
					if err := msg.Envelope.Decode(&p); err != nil {
						return false, err
					}
					printEvent(out, p.Seq, p.Event())
				case streams.EventRunCompleted:
					var p streams.RunCompletedPayload
					if err := msg.Envelope.Decode(&p); err != nil {
						return false, err
					}
					fmt.Fprintf(out, "run %s %s after %d iteration(s) in %dms\n", p.RunID, p.Status, p.Iterations, p.DurationMS)
					return true, nil
				}
				return false, nil
			}
			if reclaim > 0 {
				done, err := consumer.Reclaim(ctx, stream, reclaim, handle)
				if err != nil {
					return err
				}
				if done {
					return nil
				}
			}
			err = consumer.Follow(ctx, stream, handle)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	tail.Flags().StringVar(&group, "group", "", "consumer group (default streams.group)")
	tail.Flags().BoolVar(&fromStart, "from-start", true, "replay events already in the stream")
	tail.Flags().DurationVar(&reclaim, "reclaim", 0, "first take over entries left unacked by another tail of the group for at least this long")
	return tail
}

func printEvent(w io.Writer, seq int64, ev progress.Event) {
	switch ev.Type {
	case progress.TypeQueuePosition:
		n, _ := ev.Position()
		fmt.Fprintf(w, "%4d queue position %d\n", seq, n)
	case progress.TypeError:
		f, _ := ev.Failure()
		fmt.Fprintf(w, "%4d error %s: %s\n", seq, f.Kind, f.Message)
	default:
		fmt.Fprintf(w, "%4d %s %s\n", seq, ev.Type, ev.Text())
	}
}
