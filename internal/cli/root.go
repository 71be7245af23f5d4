package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nexqa/config"
	"nexqa/internal/adapter/logging"
)

var (
	cfgFile  string
	envFiles []string
	cfg      *config.Config
	rootDir  string
	userID   string
	verbose  bool
	logger   *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nexqa",
	Short: "nexqa - answer questions and draft QA artifacts from your documents",
	Long: `nexqa ingests documents into per-user vector collections and answers typed
questions (qa, summary, test_case, testcase_excel, test_strategy, risk,
validate, automation) by combining retrieved context with a local or cloud
language model.

Example usage:
  nexqa ingest ./docs                          # Ingest a directory
  nexqa query "how is login rate limited?"     # Ask a question
  nexqa query --type test_case "login form"    # Draft test cases
  nexqa serve                                  # Expose MCP tools over stdio`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.ApplyEnv(os.LookupEnv)
		if verbose {
			cfg.Logging = logging.Verbose(cfg.Logging)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./nexqa.yaml or ./nexqa.toml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "directory holding the config file (default is current directory)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default is ./.env)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "default", "user id scoping the collections")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

func GetConfig() *config.Config {
	return cfg
}

func GetLogger() *zap.Logger {
	return logging.OrNop(logger)
}
