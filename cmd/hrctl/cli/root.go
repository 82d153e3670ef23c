package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-hr/internal/app"
	"github.com/odyssey-erp/odyssey-hr/internal/imports"
	"github.com/odyssey-erp/odyssey-hr/internal/platform/db"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
	"github.com/odyssey-erp/odyssey-hr/jobs"
)

// runtime holds lazily opened resources shared by subcommands.
type runtime struct {
	envFile string
	cfg     *app.Config
	logger  *slog.Logger
	pool    *pgxpool.Pool
}

func (rt *runtime) load() error {
	if rt.cfg != nil {
		return nil
	}
	if err := godotenv.Load(rt.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", rt.envFile, err)
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	rt.cfg = cfg
	rt.logger = app.NewLogger(cfg).With(slog.String("component", "hrctl"))
	return nil
}

func (rt *runtime) connect(ctx context.Context) (*pgxpool.Pool, error) {
	if err := rt.load(); err != nil {
		return nil, err
	}
	if rt.pool == nil {
		pool, err := db.New(ctx, rt.cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		rt.pool = pool
	}
	return rt.pool, nil
}

func (rt *runtime) services(ctx context.Context) (*app.Services, error) {
	pool, err := rt.connect(ctx)
	if err != nil {
		return nil, err
	}
	// No Redis client: the report cache version is bumped by the server on
	// its next write.
	return app.BuildServices(app.ServiceDeps{Config: rt.cfg, Logger: rt.logger, Pool: pool})
}

func (rt *runtime) redisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: rt.cfg.RedisAddr, Password: rt.cfg.RedisPassword, DB: rt.cfg.RedisDB}
}

func (rt *runtime) close() {
	if rt.pool != nil {
		rt.pool.Close()
	}
}

// NewRootCommand builds the hrctl command tree. The returned func releases
// connections opened by the executed command.
func NewRootCommand() (*cobra.Command, func()) {
	rt := &runtime{}
	root := &cobra.Command{
		Use:           "hrctl",
		Short:         "Administrative tooling for the Odyssey HR service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rt.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		newDBCommand(rt),
		newSeedCommand(rt),
		newImportCommand(rt),
		newCarryForwardCommand(rt),
		newJobsCommand(rt),
		newUsersCommand(rt),
	)
	return root, rt.close
}

func newDBCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{Use: "db", Short: "Database maintenance"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := rt.connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := db.ApplySchema(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	})
	return cmd
}

func newSeedCommand(rt *runtime) *cobra.Command {
	var fixturesPath string
	var year int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load markets, users and budgets fixtures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var src io.Reader
			if fixturesPath != "" {
				f, err := os.Open(fixturesPath)
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			fixtures, err := LoadFixtures(src)
			if err != nil {
				return err
			}
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			if year == 0 {
				year = time.Now().UTC().Year()
			}
			seeder := Seeder{Markets: svc.Markets, Users: svc.Users, Budgets: svc.Budget, Out: cmd.OutOrStdout()}
			return seeder.Seed(cmd.Context(), fixtures, year)
		},
	}
	cmd.Flags().StringVar(&fixturesPath, "fixtures", "", "fixtures JSON file (default: built-in fixtures)")
	cmd.Flags().IntVar(&year, "year", 0, "budget year (default: current year)")
	return cmd
}

func newImportCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{Use: "import", Short: "Bulk imports"}
	cmd.AddCommand(&cobra.Command{
		Use:   "budgets <file|->",
		Short: "Import budgets from CSV (username,year,entitlement_days,carry_over_days)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			importer := imports.NewBudgetImporter(svc.Users, svc.Budget, db.DefaultRetryPolicy, rt.logger)
			summary, err := importer.Import(cmd.Context(), 0, src)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	})
	return cmd
}

func newCarryForwardCommand(rt *runtime) *cobra.Command {
	var payload jobs.CarryForwardPayload
	var maxDays int
	var enqueue bool
	cmd := &cobra.Command{
		Use:   "carry-forward",
		Short: "Carry leftover days of every active user into the next year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("max-days") {
				payload.MaxDays = &maxDays
			}
			if err := rt.load(); err != nil {
				return err
			}
			if enqueue {
				client := jobs.NewClient(rt.redisOpts())
				defer client.Close()
				info, err := client.EnqueueCarryForward(cmd.Context(), payload)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s\n", info.Type, info.ID)
				return nil
			}
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			job := jobs.NewCarryForwardJob(svc.Budget, rt.logger, nil)
			summary, err := job.Run(cmd.Context(), payload)
			if werr := writeJSON(cmd.OutOrStdout(), summary); werr != nil && err == nil {
				err = werr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&payload.FromYear, "from", 0, "source year (default: last year)")
	cmd.Flags().IntVar(&payload.ToYear, "to", 0, "target year (default: from+1)")
	cmd.Flags().IntVar(&maxDays, "max-days", 0, "carry-over cap (default: VACATION_MAX_CARRY_OVER)")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "enqueue for the worker instead of running here")
	return cmd
}

func newJobsCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Background job helpers"}
	var payload jobs.CarryForwardPayload
	trigger := &cobra.Command{
		Use:   "trigger <name>",
		Short: "Enqueue a job (" + jobs.TaskBudgetCarryForward + ", " + jobs.TaskIdempotencyCleanup + ")",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.load(); err != nil {
				return err
			}
			jc := NewJobsCLI(rt.redisOpts())
			defer jc.Close()
			info, err := jc.Trigger(cmd.Context(), args[0], payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	trigger.Flags().IntVar(&payload.FromYear, "from", 0, "carry-forward source year")
	trigger.Flags().IntVar(&payload.ToYear, "to", 0, "carry-forward target year")
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.load(); err != nil {
				return err
			}
			jc := NewJobsCLI(rt.redisOpts())
			defer jc.Close()
			s, err := jc.InspectQueue()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), s)
		},
	}
	cmd.AddCommand(trigger, stats)
	return cmd
}

func newUsersCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "User administration"}
	var password string
	reset := &cobra.Command{
		Use:   "reset-password <login>",
		Short: "Set a new password; a password is generated unless --password is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			u, err := svc.Users.FindActiveByLogin(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			operator := shared.Principal{Role: shared.RoleAdmin}
			result, err := svc.Auth.ResetPassword(cmd.Context(), operator, u.ID, password)
			if err != nil {
				return err
			}
			if result.Generated != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "new password for %s: %s\n", u.Username, result.Generated)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", u.Username)
			return nil
		},
	}
	reset.Flags().StringVar(&password, "password", "", "custom password (8 to 72 characters)")
	cmd.AddCommand(reset)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
