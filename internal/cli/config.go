package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/tally/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage tally configuration",
	Long: `Manage the project configuration in .tally/config.yaml.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (TALLY_*)
3. Project config (.tally/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", cfg.ProjectConfigPath(), data)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .tally/config.yaml with documented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveProjectDir()
		if err != nil {
			return err
		}
		if err := config.InitTallyDir(dir); err != nil {
			return err
		}
		cfg, err := config.NewConfig(dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Config ready: %s\n", cfg.ProjectConfigPath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
