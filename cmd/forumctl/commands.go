package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ForumFox/app/models"
	"github.com/ManuelReschke/ForumFox/app/repository"
	"github.com/ManuelReschke/ForumFox/internal/pkg/billing"
	"github.com/ManuelReschke/ForumFox/internal/pkg/cache"
	"github.com/ManuelReschke/ForumFox/internal/pkg/database"
	"github.com/ManuelReschke/ForumFox/internal/pkg/env"
	"github.com/ManuelReschke/ForumFox/internal/pkg/logger"
)

// cliApp holds the connections the commands share. Tests fill db and
// reconciler directly.
type cliApp struct {
	out        io.Writer
	db         *gorm.DB
	reconciler *billing.Reconciler
	billingCfg billing.Config
}

// connect opens the database and builds the reconciler on first use.
func (a *cliApp) connect() error {
	if a.db != nil && a.reconciler != nil {
		return nil
	}
	env.SetupEnvFile()
	log := logger.Setup()
	database.SetupDatabase()
	a.db = database.GetDB()
	if a.db == nil {
		return errors.New("database unavailable")
	}

	a.billingCfg = billing.LoadConfig()
	entCache := cache.NewEntitlementCache(cache.GetClient())
	a.reconciler = billing.NewReconciler(
		billing.NewStore(a.db),
		billing.NewStripeClient(a.billingCfg),
		log.Named("billing"),
		billing.WithConfig(a.billingCfg),
		billing.WithChangeHook(entCache.Invalidate),
	)
	return nil
}

func newRootCommand(app *cliApp) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "forumctl",
		Short:        "ForumFox maintenance commands",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.connect()
		},
	}
	rootCmd.SetOut(app.out)

	rootCmd.AddCommand(newUserCommand(app))
	rootCmd.AddCommand(newReconcileCommand(app))
	rootCmd.AddCommand(newSweepCommand(app))
	return rootCmd
}

func newUserCommand(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User management",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an active user",
		Long: `Create an active user with a hashed password.

Example:
  forumctl user create --name alice --email alice@example.com --password secret123 --admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			admin, _ := cmd.Flags().GetBool("admin")

			u, err := models.CreateUser(strings.TrimSpace(name), email, password, admin)
			if err != nil {
				return fmt.Errorf("invalid user: %w", err)
			}
			if err := repository.NewUserRepository(app.db).Create(u); err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("email %s is already registered", u.Email)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s, admin=%t)\n", u.ID, u.Email, u.IsAdmin)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "display name (required)")
	createCmd.Flags().String("email", "", "login email (required)")
	createCmd.Flags().String("password", "", "password, at least 6 characters (required)")
	createCmd.Flags().Bool("admin", false, "grant admin rights")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("password")

	cmd.AddCommand(createCmd)
	return cmd
}

func newReconcileCommand(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-sync a user's subscriptions and prune duplicates",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetUint("user")
			if userID == 0 {
				return errors.New("--user is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			records, err := app.reconciler.Records(ctx, userID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if app.billingCfg.Enabled() {
				seen := map[string]bool{}
				for _, rec := range records {
					ref := models.StringValue(rec.ExternalSubscriptionRef)
					if ref == "" || seen[ref] {
						continue
					}
					seen[ref] = true
					if _, err := app.reconciler.SyncSubscription(ctx, ref); err != nil {
						fmt.Fprintf(out, "sync %s failed: %v\n", ref, err)
					}
				}
			}

			ent, err := app.reconciler.EvaluateEntitlement(ctx, userID)
			if err != nil {
				return err
			}
			if ent.Record != nil {
				fmt.Fprintf(out, "user %d entitled=%t record=%s status=%s period_end=%s\n",
					userID, ent.IsEntitled, ent.Record.ID, ent.Record.Status, ent.Record.PeriodEnd.Format(time.RFC3339))
			} else {
				fmt.Fprintf(out, "user %d entitled=%t\n", userID, ent.IsEntitled)
			}
			return nil
		},
	}
	cmd.Flags().Uint("user", 0, "user id (required)")
	return cmd
}

func newSweepCommand(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate every user holding more than one subscription record",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			res, err := app.reconciler.SweepUsers(ctx, limit)
			if err != nil {
				return err
			}
			logger.Get().Info("sweep finished", zap.Int("users", res.Users), zap.Int("pruned", res.Pruned))
			fmt.Fprintf(cmd.OutOrStdout(), "users=%d pruned=%d failed=%d\n", res.Users, res.Pruned, res.Failed)
			return nil
		},
	}
	cmd.Flags().Int("limit", 500, "maximum number of users per run")
	return cmd
}
