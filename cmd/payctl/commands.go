package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/venue-booking-payments/internal/config"
	"github.com/iliyamo/venue-booking-payments/internal/database"
	"github.com/iliyamo/venue-booking-payments/internal/reconcile"
	"github.com/iliyamo/venue-booking-payments/internal/repository"
	"github.com/iliyamo/venue-booking-payments/internal/service"
	"github.com/iliyamo/venue-booking-payments/internal/utils"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "payctl",
		Short:         "Operate the payment reconciliation engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(sweepCmd(), retryCmd(), snapshotCmd(), tokenCmd())
	return root
}

// engine opens the database and builds a coordinator configured like the
// server.  close releases the connection and flushes pending events.
func engine() (coord *reconcile.Coordinator, closeFn func(), err error) {
	cfg := config.Load()
	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	notifier := service.NewRabbitNotifier(cfg.RabbitURL, log.Named("notifier"))
	coord = reconcile.New(repository.NewStore(db), reconcile.Options{
		Window:     cfg.Payment.OpenWindow,
		MaxRetries: cfg.Payment.MaxRetries,
		Notifier:   notifier,
		Logger:     log,
	})
	return coord, func() {
		notifier.Wait()
		_ = db.Close()
		_ = log.Sync()
	}, nil
}

func sweepCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Cancel stale PENDING payments once",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, done, err := engine()
			if err != nil {
				return err
			}
			defer done()
			n, err := coord.SweepExpired(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d payment(s)\n", n)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum payments to cancel")
	return cmd
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [entry-id]",
		Short: "Re-attempt a failed webhook ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			coord, done, err := engine()
			if err != nil {
				return err
			}
			defer done()
			snap, err := coord.RetryEntry(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, snap)
		},
	}
}

func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot [payment-id]",
		Short: "Print a payment with its booking, seat and ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			coord, done, err := engine()
			if err != nil {
				return err
			}
			defer done()
			snap, err := coord.Snapshot(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, snap)
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		user   uint64
		role   string
		ttl    time.Duration
		secret string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for the payment API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			if user == 0 {
				return errors.New("--user is required")
			}
			tok, err := utils.NewAccessToken(secret, user, role, int(ttl/time.Minute))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			return nil
		},
	}
	cmd.Flags().Uint64VarP(&user, "user", "u", 0, "Subject user id")
	cmd.Flags().StringVarP(&role, "role", "r", "OWNER", "Role claim (OWNER, CUSTOMER)")
	cmd.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "Token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (default $JWT_SECRET)")
	return cmd
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
