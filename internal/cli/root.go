package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kingrea/tally/internal/config"
	"github.com/kingrea/tally/internal/logging"
	"github.com/kingrea/tally/internal/symbols"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

var (
	projectDir string
	logLevel   string
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Tally - guided entity extraction and symbol reconciliation demo",
	Long: `Tally walks a document through five phases: input, entity extraction,
a tally of entities against your symbol list, logic translation and a
simulated validation pass.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (TALLY_*)
3. Project config (.tally/config.yaml)
4. Defaults`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tally %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&projectDir, "project", "", "project directory holding .tally/ (default: current directory)")
	flags.StringVar(&logLevel, "log-level", "info", "diagnostic log level (debug, info, warn, error)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	flags.String("endpoint", "", "extraction service URL")
	flags.Duration("timeout", 0, "extraction request timeout")
	flags.Float64("rate-limit", 0, "extraction requests per second (0 = unlimited)")
	flags.Duration("cache-ttl", 0, "reuse extraction results for identical documents")
	flags.Duration("stagger", 0, "delay between revealed tally records")
	flags.Duration("reveal-rate", 0, "delay between revealed code characters")
	flags.String("definition", "", "phase definition YAML")
	flags.String("templates", "", "logic snippet YAML")
	flags.String("symbols-file", "", "symbol list file (JSON or YAML)")

	for _, name := range []string{
		"verbose", "endpoint", "timeout", "rate-limit", "cache-ttl", "stagger",
		"reveal-rate", "definition", "templates", "symbols-file",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads ENV variables
func initConfig() {
	// TALLY_ENDPOINT, TALLY_STUB_UNAVAILABLE, ...
	viper.SetEnvPrefix("TALLY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func resolveProjectDir() (string, error) {
	if strings.TrimSpace(projectDir) != "" {
		return projectDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("cli: working directory: %w", err)
	}
	return cwd, nil
}

// loadConfig reads the project config and layers flags and env on top. With
// create set, the .tally directory is initialised first.
func loadConfig(create bool) (*config.Config, error) {
	dir, err := resolveProjectDir()
	if err != nil {
		return nil, err
	}
	if create {
		if err := config.InitTallyDir(dir); err != nil {
			return nil, fmt.Errorf("cli: initialise %s: %w", config.TallyDir, err)
		}
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyOverrides(viper.GetViper()); err != nil {
		return nil, err
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Using project config: %s\n", cfg.ProjectConfigPath())
	}
	return cfg, nil
}

func openLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("cli: --log-level: %w", err)
	}
	logger, err := logging.New(cfg.ProjectDir, level)
	if err != nil {
		return nil, err
	}
	logger.Info("tally started", zap.String("version", Version), zap.String("project", cfg.ProjectDir))
	return logger, nil
}

// symbolsText picks the symbol list: inline JSON wins over the configured file.
func symbolsText(cfg *config.Config, inline string) (string, error) {
	if strings.TrimSpace(inline) != "" {
		return inline, nil
	}
	path := cfg.SymbolsPath()
	if path == "" {
		return "", nil
	}
	table, err := symbols.LoadFile(path)
	if err != nil {
		return "", err
	}
	raw, err := table.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
