// Package main provides the edgectl entry point.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yourorg/edge-orchestrator/internal/version"
	"github.com/yourorg/edge-orchestrator/pkg/auth"
	"github.com/yourorg/edge-orchestrator/pkg/config"
	"github.com/yourorg/edge-orchestrator/pkg/history"
	"github.com/yourorg/edge-orchestrator/pkg/lifecycle"
	"github.com/yourorg/edge-orchestrator/pkg/orchestrator"
)

const tokenIssuer = "edgectl"

var (
	cfgFile string
	cfg     *config.Config
	cfgErr  error

	rootCmd = &cobra.Command{
		Use:   "edgectl",
		Short: "SD-WAN edge device lifecycle orchestrator",
		Long: `Commissions, decommissions, replaces and reclassifies branch edge routers
managed by a vManage controller, and rolls template changes out to them.`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./edgectl.yaml)")

	rootCmd.AddCommand(menuCmd)
	rootCmd.AddCommand(phasedCommand("commission", "Commission new branch edge routers", orchestrator.WorkflowCommission))
	rootCmd.AddCommand(phasedCommand("reclassify", "Move store routers to new templates", orchestrator.WorkflowReclassification))
	rootCmd.AddCommand(decommissionCmd)
	rootCmd.AddCommand(replaceCmd)
	rootCmd.AddCommand(reconfigureCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader.SetConfigPath(cfgFile)
	}
	cfg, cfgErr = loader.Load()
}

// loadedConfig returns the configuration or the reason it could not be read.
func loadedConfig() (*config.Config, error) {
	if cfgErr != nil {
		return nil, cfgErr
	}
	return cfg, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the run history tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrations()
	},
}

var (
	tokenOperator string
	tokenScopes   []string
	tokenExpiry   time.Duration

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueToken(cmd)
		},
	}
)

func init() {
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "name of the operator the token is issued to")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scopes", []string{auth.ScopeRunsRead, auth.ScopeActionsRead}, "granted scopes")
	tokenCmd.Flags().DurationVar(&tokenExpiry, "expiry", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("operator")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.GetInfo().String())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrations() error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}
	if err := config.ValidateForMigration(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := createLogger(c.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	conn, err := history.NewConnection(c.Database(), logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.AutoMigrate()
}

func issueToken(cmd *cobra.Command) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}
	if err := config.ValidateForToken(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	manager := auth.NewJWTManager(c.Status.JWTSecret, tokenIssuer, tokenExpiry)
	token, err := manager.GenerateOperatorToken(tokenOperator, tokenScopes, tokenExpiry)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func createLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()

	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		var zapLevel zapcore.Level
		if err := zapLevel.UnmarshalText([]byte(cfg.Level)); err == nil {
			zc.Level.SetLevel(zapLevel)
		}
	}

	return zc.Build()
}

// printReport writes the per-row outcome of a run for the operator.
func printReport(cmd *cobra.Command, report *lifecycle.Report) {
	if report == nil {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s run %s: %d succeeded, %d failed\n",
		report.Workflow, report.RunID, report.Succeeded(), report.Failed())
	for _, row := range report.Rows {
		if row.Err == nil {
			continue
		}
		label := row.Subject
		if row.Row > 0 {
			label = fmt.Sprintf("row %d (%s)", row.Row, row.Subject)
		}
		fmt.Fprintf(out, "  %s: %s\n", label, strings.TrimSpace(row.Err.Error()))
	}
}

// errRunFailed marks a run that finished with failed rows already reported.
var errRunFailed = errors.New("one or more rows failed")
