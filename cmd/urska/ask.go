package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/urska/config"
	"github.com/mohammad-safakhou/urska/internal/progress"
	"github.com/mohammad-safakhou/urska/internal/service"
	"github.com/spf13/cobra"
)

func askCMD(cfgPath *string) *cobra.Command {
	var quiet bool
	ask := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question in-process; progress goes to stderr, the answer to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tel, err := setupRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()
			a, err := buildApp(ctx, cfg, tel.Registry)
			if err != nil {
				return err
			}
			defer a.Close()

			sink := progress.SinkFunc(func(_ context.Context, ev progress.Event) error {
				if quiet {
					return nil
				}
				switch ev.Type {
				case progress.TypeNotification:
					fmt.Fprintln(os.Stderr, "..", ev.Text())
				case progress.TypeQueuePosition:
					n, _ := ev.Position()
					fmt.Fprintf(os.Stderr, ".. queued at position %d\n", n)
				case progress.TypeError:
					f, _ := ev.Failure()
					fmt.Fprintf(os.Stderr, "!! %s: %s\n", f.Kind, f.Message)
				}
				return nil
			})
			res, err := a.service.Ask(ctx, service.Request{Objective: strings.Join(args, " ")}, sink)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, ".. run %s finished after %d iteration(s)\n", res.RunID, res.Iterations)
			fmt.Fprintln(cmd.OutOrStdout(), res.Answer)
			return nil
		},
	}
	ask.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return ask
}
