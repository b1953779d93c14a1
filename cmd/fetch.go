// File: cmd/fetch.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aviatools/unipix-etl/internal/auth"
	"github.com/aviatools/unipix-etl/internal/browser"
	"github.com/aviatools/unipix-etl/internal/codechannel"
	"github.com/aviatools/unipix-etl/internal/etl"
	"github.com/aviatools/unipix-etl/internal/observability"
	"github.com/aviatools/unipix-etl/internal/report"
	"github.com/aviatools/unipix-etl/internal/store"
)

// stdinPrompter asks the operator for the 2FA code on the terminal.
type stdinPrompter struct{}

func (stdinPrompter) PromptCode(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	fmt.Print("Enter the verification code: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// newFetchCmd creates and configures the `fetch` command.
func newFetchCmd() *cobra.Command {
	var period string

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Logs into the portal and downloads the analytic report",
		Long: `Performs the full retrieval: browser login with 2FA, bearer token
extraction, paginated report download and CSV export into the input folder.
When a database URL is configured the run and its records are persisted too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			rng, err := resolveRange(period)
			if err != nil {
				return err
			}
			logger.Info("Report window",
				zap.String("start", rng.StartISO),
				zap.String("end", rng.EndISO))

			if cfg.Login.Username == "" || cfg.Login.Password == "" {
				return fmt.Errorf("credentials missing: set UNIPIX_LOGIN_USERNAME and UNIPIX_LOGIN_PASSWORD")
			}

			session, err := establishSession(ctx, logger)
			if err != nil {
				return err
			}

			fetcher := report.NewFetcher(cfg.Report, logger)
			result, fetchErr := fetcher.Fetch(ctx, session, rng)
			if result == nil {
				return fetchErr
			}
			if fetchErr != nil {
				logger.Error("Report fetch did not complete", zap.Error(fetchErr))
			}

			if len(result.Records) > 0 {
				fs := afero.NewOsFs()
				if err := fs.MkdirAll(cfg.Folders.Input, 0o755); err != nil {
					return err
				}
				path, err := etl.ExportCSV(fs, cfg.Folders.Input, result.Records, time.Now())
				if err != nil {
					return err
				}
				logger.Info("Report exported", zap.String("file", path))
			} else {
				logger.Warn("No records returned for the window")
			}

			if cfg.Database.URL != "" {
				if err := persistRun(ctx, logger, rng, result); err != nil {
					return err
				}
			}
			return fetchErr
		},
	}

	fetchCmd.Flags().StringVarP(&period, "period", "p", "",
		`report window as "DD/MM/YYYY - DD/MM/YYYY" (defaults to the current month)`)
	return fetchCmd
}

func resolveRange(period string) (report.DateRange, error) {
	if strings.TrimSpace(period) == "" {
		return report.CurrentMonthRange(time.Now()), nil
	}
	return report.ParseRange(period)
}

// establishSession drives the browser login and decorates the session with
// the extracted bearer token. The browser is closed before returning; the
// report API only needs the captured credentials.
func establishSession(ctx context.Context, logger *zap.Logger) (*auth.Session, error) {
	agent, err := browser.NewAgent(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	defer agent.Close()

	var channel auth.CodeSource
	if cfg.Channel.Path != "" {
		channel = codechannel.New(cfg.Channel, logger)
	} else {
		logger.Warn("No code channel configured, 2FA codes must be entered manually")
	}

	authenticator := auth.NewAuthenticator(agent, channel, stdinPrompter{}, cfg.Login, cfg.Channel, logger)
	session, snapshot, err := authenticator.Authenticate(ctx, auth.Credentials{
		Identity: cfg.Login.Username,
		Secret:   cfg.Login.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	token, err := auth.NewTokenExtractor(logger).Extract(snapshot)
	switch {
	case err == nil:
		session.Token = token
	case errors.Is(err, auth.ErrNoToken):
		logger.Warn("No bearer token in web storage, relying on cookies")
	default:
		return nil, err
	}
	return session, nil
}

func persistRun(ctx context.Context, logger *zap.Logger, rng report.DateRange, result *report.Result) error {
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		return err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	return st.SaveRun(ctx, store.NewRun(rng, result), result.Records)
}
