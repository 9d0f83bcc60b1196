package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kingrea/tally/internal/entity"
	"github.com/kingrea/tally/internal/orchestrator"
	"github.com/kingrea/tally/internal/symbols"
	"github.com/kingrea/tally/internal/tally"
)

var (
	reconcileEntities string
	reconcileSymbols  string
	reconcileJSON     bool
)

// reconcileCmd tallies a saved extraction response against a symbol list.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Tally saved entities against a symbol list",
	Long: `Reconcile reads an extraction response (the JSON array the service
returns) and prints one record per entity.

Example:
  tally reconcile --entities response.json --symbols '{"SUSV": "V-110"}'
  tally reconcile --entities response.json --symbols-file symbols.yaml --json`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().StringVar(&reconcileEntities, "entities", "", "extraction response JSON file (required)")
	reconcileCmd.Flags().StringVar(&reconcileSymbols, "symbols", "", "symbol list JSON (overrides --symbols-file)")
	reconcileCmd.Flags().BoolVar(&reconcileJSON, "json", false, "print records as JSON")
	_ = reconcileCmd.MarkFlagRequired("entities")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(reconcileEntities)
	if err != nil {
		return fmt.Errorf("read entities: %w", err)
	}
	items, err := entity.DecodeItems(data)
	if err != nil {
		return fmt.Errorf("%s: %w", reconcileEntities, err)
	}
	entities, err := entity.Normalize(items)
	if err != nil {
		return fmt.Errorf("%s: %w", reconcileEntities, err)
	}
	text, err := symbolsText(cfg, reconcileSymbols)
	if err != nil {
		return err
	}
	table, err := symbols.Parse(text)
	if err != nil {
		return errors.New(orchestrator.Describe(err))
	}

	records := tally.NewEngine(cfg.Project.Rules).Reconcile(entities, table)
	out := cmd.OutOrStdout()
	if reconcileJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	sink := orchestrator.NewTextSink(out)
	if err := sink.Render(orchestrator.ClearBoard{Total: len(records)}); err != nil {
		return err
	}
	for i, rec := range records {
		if err := sink.Render(orchestrator.RecordRevealed{Index: i, Total: len(records), Record: rec}); err != nil {
			return err
		}
	}
	return sink.Render(orchestrator.TallyComplete{Summary: tally.Summarize(records)})
}
