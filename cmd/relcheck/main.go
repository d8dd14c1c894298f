// Command relcheck scans a church's member graph for one-sided relationship
// edges and optionally repairs them.
//
// Usage:
//
//	relcheck --church church-1
//	relcheck --church church-1 --repair
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/faithconnect/member-service/config"
	"github.com/faithconnect/member-service/shared/utils"
	v1 "github.com/faithconnect/member-service/v1"
	"github.com/faithconnect/member-service/v1/models"
	"github.com/faithconnect/member-service/v1/services"
	"github.com/faithconnect/member-service/v1/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// errIssuesFound makes the command exit non-zero for CI use
var errIssuesFound = errors.New("relationship issues found")

type options struct {
	configPath   string
	churchID     string
	repair       bool
	jsonOutput   bool
	failOnIssues bool
	timeout      time.Duration
}

// openStore is replaced in tests
var openStore = func(ctx context.Context, cfg *config.Config) (store.Store, error) {
	return v1.OpenStore(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "relcheck",
		Short:         "Check relationship symmetry for a church",
		Long:          `Scans every member of a church for relationship edges whose partner is missing or does not carry the reciprocal edge. With --repair the issues are fixed in one transaction.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelcheck(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", utils.GetEnvOrDefault("CONFIG_PATH", config.DefaultPath), "path to the YAML config file")
	flags.StringVar(&opts.churchID, "church", "", "church id to scan (required)")
	flags.BoolVar(&opts.repair, "repair", false, "repair the issues found")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print the report as JSON")
	flags.BoolVar(&opts.failOnIssues, "fail-on-issues", false, "exit non-zero when unrepaired issues remain")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall time limit")
	_ = cmd.MarkFlagRequired("church")
	return cmd
}

func runRelcheck(ctx context.Context, out io.Writer, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	utils.SetupLogging("text", cfg.Logging.Level)
	if err := cfg.ValidateStore(); err != nil {
		return err
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open member store: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("Failed to close member store", "error", err)
		}
	}()

	return checkChurch(ctx, out, s, opts)
}

func checkChurch(ctx context.Context, out io.Writer, s store.Store, opts *options) error {
	integrity := services.NewIntegrityService(s)
	session := models.SystemSession(opts.churchID)

	var (
		report *models.IntegrityReport
		err    error
	)
	if opts.repair {
		report, err = integrity.Repair(ctx, session)
	} else {
		report, err = integrity.Check(ctx, session)
	}
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report, opts.repair)
	}

	if opts.failOnIssues && !opts.repair && len(report.Issues) > 0 {
		return errIssuesFound
	}
	return nil
}

func printReport(out io.Writer, report *models.IntegrityReport, repaired bool) {
	fmt.Fprintf(out, "church %s: %d members, %d edges, %d issues\n",
		report.ChurchID, report.MembersScanned, report.EdgesScanned, len(report.Issues))
	if len(report.Issues) > 0 {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tMEMBER\tPARTNER\tTYPE\tEXPECTED\tACTUAL")
		for _, issue := range report.Issues {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				issue.Kind, issue.MemberID, issue.PartnerID, issue.Type, issue.ExpectedType, issue.ActualType)
		}
		_ = tw.Flush()
	}
	if repaired {
		fmt.Fprintf(out, "repaired %d issues\n", report.Repaired)
	}
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "relcheck:", err)
		os.Exit(1)
	}
}
