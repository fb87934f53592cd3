package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/config"
	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/ingest"
	"github.com/nhle/mailsync/internal/match"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
	"github.com/nhle/mailsync/internal/store"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	configPath string
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mailsync",
		Short: "Mail thread ingestion and account matching",
		Long: `Mailsync pulls conversation threads from the mail provider,
stores them locally, and associates each thread with a known CRM
account using a cascade of matching heuristics.`,
	}

	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", config.DefaultConfigPath(), "Path to config file",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&jsonOutput, "json", "j", false, "Output as JSON",
	)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("mailsync %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	})

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(matchCmd())
	rootCmd.AddCommand(accountsCmd())
	rootCmd.AddCommand(authCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config and constructs the logger and store shared by all
// commands.
func setup() (*config.Config, *logrus.Logger, *store.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("creating data directory: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, err
	}

	return cfg, logger, st, nil
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass against the mail provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, st, err := setup()
			if err != nil {
				return err
			}
			defer st.Close()

			token, err := cfg.ResolveToken()
			if err != nil {
				return err
			}

			client := provider.NewClient(provider.Options{
				BaseURL:           cfg.Provider.BaseURL,
				Token:             token,
				PageSize:          cfg.Provider.PageSize,
				MaxAttempts:       cfg.Provider.MaxAttempts,
				RetryBaseDelay:    time.Duration(cfg.Provider.RetryBaseDelayMs) * time.Millisecond,
				Timeout:           time.Duration(cfg.Provider.TimeoutSec) * time.Second,
				RequestsPerSecond: cfg.Provider.RequestsPerSecond,
				Burst:             cfg.Provider.Burst,
			}, logger)

			matcher := match.New(st, st, cfg.Match.FreeDomains, logger)
			coordinator := ingest.New(
				client, st, matcher, cfg.Ingest.OperatorDomains, logger,
			)

			summary, err := coordinator.Run(cmd.Context())
			if err != nil {
				if errors.Is(err, ingest.ErrProviderUnavailable) {
					return fmt.Errorf("ingest run failed: %w", err)
				}
				return err
			}

			if jsonOutput {
				printJSON(summary)
				return nil
			}

			fmt.Printf(
				"threads: %d (%d new, %d updated), matched: %d, unmatched: %d, errors: %d\n",
				summary.TotalThreads, summary.NewThreads, summary.UpdatedThreads,
				summary.MatchedThreads, summary.UnmatchedThreads, summary.Errors,
			)
			for _, entry := range summary.ErrorLog {
				fmt.Printf("  %s\n", entry)
			}
			return nil
		},
	}
}

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent ingest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, st, err := setup()
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(runs)
				return nil
			}

			for _, r := range runs {
				duration := "running"
				if r.FinishedAt != nil {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Printf(
					"%s  %s  %-9s  threads=%d matched=%d errors=%d  %s\n",
					r.ID[:8], r.StartedAt.Format(time.RFC3339), r.Status,
					r.TotalThreads, r.MatchedThreads, r.ErrorCount, duration,
				)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func matchCmd() *cobra.Command {
	var threadID, accountID string

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Manually match a thread to an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, st, err := setup()
			if err != nil {
				return err
			}
			defer st.Close()

			thread, err := st.ThreadByProviderID(cmd.Context(), threadID)
			if err != nil {
				return err
			}
			if thread == nil {
				return fmt.Errorf("no thread with provider id %q", threadID)
			}

			// Manual matches carry full confidence and may overwrite an
			// earlier automatic match.
			err = st.ApplyMatch(cmd.Context(),
				thread.ID, accountID, model.StrategyManual, model.ConfidenceManual,
			)
			if err != nil {
				return err
			}

			fmt.Printf("thread %s matched to account %s\n", threadID, accountID)
			return nil
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "Provider thread ID")
	cmd.Flags().StringVar(&accountID, "account", "", "Account ID")
	_ = cmd.MarkFlagRequired("thread")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the local account projections",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import account projections from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, st, err := setup()
			if err != nil {
				return err
			}
			defer st.Close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			var accounts []model.Account
			if err := json.Unmarshal(data, &accounts); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			for _, a := range accounts {
				if err := st.UpsertAccount(cmd.Context(), a); err != nil {
					return err
				}
			}

			fmt.Printf("imported %d accounts\n", len(accounts))
			return nil
		},
	})

	return cmd
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider credentials",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set-token <token>",
		Short: "Store the provider API token in the system keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := credential.Set("provider_token", args[0]); err != nil {
				return err
			}
			fmt.Println("token stored")
			return nil
		},
	})

	return cmd
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
