package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/ordersync/internal/adapter/driving/http"
	"github.com/ericfisherdev/ordersync/internal/application"
	"github.com/ericfisherdev/ordersync/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ordersync",
		Short:         "Keeps sale orders in sync with the remote market API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newCycleCmd(),
		newQueueCmd(),
		newTokenCmd(),
		newSyncCmd(),
		newReportCmd(),
	)
	return root
}

// withApp opens the application for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a)
}

func newCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run the daily scheduling cycle once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.scheduler.RunDailyCycle(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("groups: %d  scheduled: %d  skipped: %d  failed: %d\n",
					report.Groups, report.Scheduled, report.Skipped, report.Failed)
				return nil
			})
		},
	}
}

func newQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the job queue",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				c, err := a.queue.Counts(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("waiting: %d\ndelayed: %d\nactive: %d\ncompleted: %d\nfailed: %d\n",
					c.Waiting, c.Delayed, c.Active, c.Completed, c.Failed)
				return nil
			})
		},
	}

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List all jobs with their remaining time to fire",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				listing, err := a.queue.ListAll(ctx)
				if err != nil {
					return err
				}
				printJobs(cmd, "waiting", listing.Waiting)
				printJobs(cmd, "delayed", listing.Delayed)
				printJobs(cmd, "active", listing.Active)
				printJobs(cmd, "completed", listing.Completed)
				printJobs(cmd, "failed", listing.Failed)
				return nil
			})
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge <hours>",
		Short: "Remove completed and failed jobs older than the given hours",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid hours %q: %w", args[0], err)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.queue.PurgeOlderThan(ctx, hours)
				if err != nil {
					return err
				}
				cmd.Printf("cleaned %d of %d finished jobs\n", result.Cleaned, result.Total)
				return nil
			})
		},
	}

	purgeAllCmd := &cobra.Command{
		Use:   "purge-all",
		Short: "Remove every job in every state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.queue.PurgeAll(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("removed %d jobs (waiting %d, delayed %d, active %d, completed %d, failed %d)\n",
					result.Total, result.Waiting, result.Delayed, result.Active, result.Completed, result.Failed)
				return nil
			})
		},
	}

	var delay time.Duration
	testJobCmd := &cobra.Command{
		Use:   "test-job <building-id>",
		Short: "Enqueue a one-off sync of a building",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buildingID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid building id %q: %w", args[0], err)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				job, err := a.queue.ScheduleTestJob(ctx, buildingID, delay)
				if err != nil {
					return err
				}
				cmd.Printf("scheduled job %s (%s) to run at %s\n", job.ID, job.DedupKey, job.RunAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	testJobCmd.Flags().DurationVar(&delay, "delay", application.DefaultTestJobDelay, "delay before the job runs")

	queueCmd.AddCommand(statsCmd, jobsCmd, purgeCmd, purgeAllCmd, testJobCmd)
	return queueCmd
}

func printJobs(cmd *cobra.Command, state string, jobs []application.JobView) {
	cmd.Printf("%s (%d)\n", state, len(jobs))
	for _, j := range jobs {
		line := fmt.Sprintf("  %s  %s  key=%s  attempts=%d/%d", j.ID, j.Name, j.DedupKey, j.Attempts, j.Retry.MaxAttempts)
		if j.Remaining > 0 {
			line += "  in " + j.Remaining.Round(time.Second).String()
		}
		if j.FailedReason != "" {
			line += "  reason=" + strconv.Quote(j.FailedReason)
		}
		cmd.Println(line)
	}
}

func newTokenCmd() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the session credential and admin tokens",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the expiry of the stored session credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				status, err := a.tokens.Status(ctx)
				if err != nil {
					return err
				}
				if status == nil {
					cmd.Println("no credential stored")
					return nil
				}
				cmd.Printf("expires at: %s\ndays remaining: %d\nhours remaining: %d\nexpired: %t\n",
					status.ExpiresAt.Format(time.RFC3339), status.DaysRemaining, status.HoursRemaining, status.IsExpired)
				return nil
			})
		},
	}

	renewCmd := &cobra.Command{
		Use:   "ensure",
		Short: "Renew the session credential if it is missing or about to expire",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				valid, err := a.tokens.EnsureValid(ctx)
				if err != nil {
					return err
				}
				if valid.Renewed {
					cmd.Println("credential renewed")
				} else {
					cmd.Println("credential still valid")
				}
				return nil
			})
		},
	}

	var keep int
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				removed, err := a.credentials.Prune(ctx, keep)
				if err != nil {
					return err
				}
				cmd.Printf("removed %d credentials\n", removed)
				return nil
			})
		},
	}
	pruneCmd.Flags().IntVar(&keep, "keep", 5, "number of newest credentials to keep")

	var (
		subject string
		ttl     time.Duration
	)
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Issue a bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AdminJWTSecret == "" {
				return errors.New("ORDERSYNC_ADMIN_JWT_SECRET is not set")
			}
			token, err := httphandler.TokenSigner{Key: []byte(cfg.AdminJWTSecret), TTL: ttl}.Issue(subject)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			cmd.Println(token)
			return nil
		},
	}
	adminCmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	adminCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	tokenCmd.AddCommand(statusCmd, renewCmd, pruneCmd, adminCmd)
	return tokenCmd
}

func newSyncCmd() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull data from the remote market API immediately",
	}

	buildingsCmd := &cobra.Command{
		Use:   "buildings",
		Short: "Refresh the list of sales buildings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.orders.SyncBuildings(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("created %d, updated %d sales buildings\n", len(result.Created), len(result.Updated))
				return nil
			})
		},
	}

	ordersCmd := &cobra.Command{
		Use:   "orders [building-id]",
		Short: "Sync sale orders of one building, or of every sales building",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					id, err := strconv.ParseInt(args[0], 10, 64)
					if err != nil {
						return fmt.Errorf("invalid building id %q: %w", args[0], err)
					}
					result, err := a.orders.SyncBuilding(ctx, id)
					if err != nil {
						return err
					}
					cmd.Printf("building %d: %d sale orders\n", result.BuildingID, result.Count)
					return nil
				}

				all, err := a.orders.SyncAll(ctx)
				if err != nil {
					return err
				}
				for _, r := range all.Results {
					status := "ok"
					if !r.Success {
						status = "failed"
					}
					cmd.Printf("building %d: %s, %d sale orders\n", r.BuildingID, status, r.Count)
				}
				cmd.Printf("total: %d sale orders\n", all.TotalCount)
				return nil
			})
		},
	}

	syncCmd.AddCommand(buildingsCmd, ordersCmd)
	return syncCmd
}

func newReportCmd() *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize stored sale orders",
	}

	var (
		to         string
		buildingID int64
	)
	statsCmd := &cobra.Command{
		Use:   "stats <from-date>",
		Short: "Order and resource totals for orders resolving between two days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := time.Parse(time.DateOnly, args[0])
			if err != nil {
				return fmt.Errorf("invalid date %q: %w", args[0], err)
			}
			var until time.Time
			if to != "" {
				if until, err = time.Parse(time.DateOnly, to); err != nil {
					return fmt.Errorf("invalid date %q: %w", to, err)
				}
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				stats, err := a.stats.StatsByDate(ctx, from, until, buildingID)
				if err != nil {
					return err
				}
				cmd.Printf("%s to %s: %d orders (%d resolved), search cost %d total, %.2f average\n",
					stats.From.Format(time.DateOnly), stats.To.Format(time.DateOnly),
					stats.TotalOrders, stats.ResolvedOrders, stats.TotalSearchCost, stats.AverageSearchCost)
				for _, r := range stats.Resources {
					cmd.Printf("kind %d: %d orders, amount %.2f, price avg %.2f min %.2f max %.2f\n",
						r.Kind, r.TotalOrders, r.TotalAmount, r.AveragePrice, r.MinPrice, r.MaxPrice)
				}
				return nil
			})
		},
	}
	statsCmd.Flags().StringVar(&to, "to", "", "last day, inclusive (YYYY-MM-DD); defaults to the first day")
	statsCmd.Flags().Int64Var(&buildingID, "building", 0, "restrict to one building")

	pricesCmd := &cobra.Command{
		Use:   "prices <date>",
		Short: "Average resource prices of orders resolving on a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := time.Parse(time.DateOnly, args[0])
			if err != nil {
				return fmt.Errorf("invalid date %q: %w", args[0], err)
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				prices, err := a.stats.AveragePricesByDate(ctx, day)
				if err != nil {
					return err
				}
				cmd.Printf("%s: %d orders analyzed\n", prices.Date.Format(time.DateOnly), prices.OrdersAnalyzed)
				for _, r := range prices.Resources {
					cmd.Printf("kind %d: price avg %.2f min %.2f max %.2f, quality bonus %.4f over %d lines\n",
						r.Kind, r.AveragePrice, r.MinPrice, r.MaxPrice, r.AverageQualityBonus, r.TotalOrders)
				}
				return nil
			})
		},
	}

	reportCmd.AddCommand(statsCmd, pricesCmd)
	return reportCmd
}
