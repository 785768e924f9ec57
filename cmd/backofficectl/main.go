// Command backofficectl runs operational tasks against the back-office database
// and job queue.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/documents"
	"github.com/odyssey-erp/backoffice/jobs"
	"github.com/odyssey-erp/backoffice/migrations"
)

// numberPeeker previews the next document number without reserving it.
type numberPeeker interface {
	NextNumber(ctx context.Context, kind documents.Kind, year int) (string, error)
}

// env holds what subcommands need. Tests fill it with stubs; otherwise it is
// connected lazily from the environment configuration.
type env struct {
	verifier jobs.TotalsVerifier
	numbers  numberPeeker
	queue    jobQueue
	migrate  func(ctx context.Context) ([]string, error)
	close    func() error
}

func (e *env) connect(ctx context.Context) error {
	if e.verifier != nil || e.numbers != nil || e.queue != nil || e.migrate != nil {
		return nil
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt, err := app.NewRuntime(ctx, cfg, app.NewLogger(cfg))
	if err != nil {
		return err
	}
	q := NewJobsCLI(cfg.RedisAddr)
	e.verifier, e.numbers, e.queue = rt.Documents, rt.DocRepo, q
	e.migrate = func(ctx context.Context) ([]string, error) { return migrations.Apply(ctx, rt.Pool) }
	e.close = func() error {
		qErr := q.Close()
		if err := rt.Close(); err != nil {
			return err
		}
		return qErr
	}
	return nil
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "backofficectl",
		Short:         "Operational tooling for the back-office document core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.connect(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if e.close != nil {
				return e.close()
			}
			return nil
		},
	}
	root.AddCommand(newMigrateCmd(e), newTotalsCmd(e), newNumbersCmd(e), newJobsCmd(e))
	return root
}

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			applied, err := e.migrate(cmd.Context())
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			}
			return nil
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&env{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
