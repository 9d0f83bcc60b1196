package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/tally/internal/tui"
)

var (
	runDocument string
	runSymbols  string
)

// runCmd launches the terminal UI.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the interactive guided run",
	Long: `Run opens the terminal UI on phase 1. Pick a document and a symbol list,
press ctrl+s to extract entities, then step through the phases with the
arrow keys.

Example:
  tally run --document narrative.pdf --symbols '{"SUSV": "V-110"}'`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runDocument, "document", "", "document to pre-fill")
	runCmd.Flags().StringVar(&runSymbols, "symbols", "", "symbol list JSON to pre-fill")
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	logger, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	app, err := tui.NewApp(cfg,
		tui.WithLogger(logger.Logger),
		tui.WithDocumentPath(runDocument),
		tui.WithSymbolsText(runSymbols),
	)
	if err != nil {
		return err
	}
	defer app.Close()

	// Use alternate screen buffer (like vim does)
	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}
