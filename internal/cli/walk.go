package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kingrea/tally/internal/extract"
	"github.com/kingrea/tally/internal/logbook"
	"github.com/kingrea/tally/internal/orchestrator"
	"github.com/kingrea/tally/internal/workflow"
)

var (
	walkDocument string
	walkSymbols  string
	walkNoDelay  bool
)

// walkCmd runs every phase headlessly.
var walkCmd = &cobra.Command{
	Use:   "walk",
	Short: "Run every phase without the UI, printing effects as they fire",
	Long: `Walk extracts the document, then enters each phase in turn and prints
its effects on the original schedule (or immediately with --no-delay).

Example:
  tally walk --document narrative.txt --symbols-file symbols.json --no-delay`,
	Args: cobra.NoArgs,
	RunE: runWalk,
}

func init() {
	rootCmd.AddCommand(walkCmd)
	walkCmd.Flags().StringVar(&walkDocument, "document", "", "document to extract (required)")
	walkCmd.Flags().StringVar(&walkSymbols, "symbols", "", "symbol list JSON (overrides --symbols-file)")
	walkCmd.Flags().BoolVar(&walkNoDelay, "no-delay", false, "fire effects immediately")
	_ = walkCmd.MarkFlagRequired("document")
}

func runWalk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	logger, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	parts, err := orchestrator.Assemble(cfg, logger.Logger)
	if err != nil {
		return err
	}
	book, err := logbook.New(filepath.Join(cfg.LogsDir(), logbook.FileName))
	if err != nil {
		return err
	}
	session, err := parts.NewSession(nil, book, logger.Logger)
	if err != nil {
		return err
	}

	doc, err := extract.LoadDocument(walkDocument)
	if err != nil {
		return err
	}
	text, err := symbolsText(cfg, walkSymbols)
	if err != nil {
		return err
	}
	req, err := orchestrator.Prepare(doc, text)
	if err != nil {
		return errors.New(orchestrator.Describe(err))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	opts := []orchestrator.PlayerOption{orchestrator.WithPlayerLogger(logger.Logger)}
	if walkNoDelay {
		opts = append(opts, orchestrator.WithoutDelay())
	}
	out := cmd.OutOrStdout()
	w := walker{
		out:     out,
		session: session,
		player:  orchestrator.NewPlayer(orchestrator.NewTextSink(out), opts...),
	}
	return w.walk(ctx, req)
}

type walker struct {
	out     io.Writer
	session *orchestrator.Session
	player  *orchestrator.Player
}

func (w walker) walk(ctx context.Context, req orchestrator.Request) error {
	if err := w.play(ctx, w.session.Start()); err != nil {
		return err
	}
	entry, err := w.session.Submit(ctx, req)
	if err != nil {
		return errors.New(orchestrator.Describe(err))
	}
	if err := w.play(ctx, entry); err != nil {
		return err
	}
	for w.session.Machine().CanAdvance() {
		entry, err := w.session.Advance()
		if err != nil {
			return errors.New(orchestrator.Describe(err))
		}
		if err := w.play(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (w walker) play(ctx context.Context, entry workflow.Entry) error {
	m := w.session.Machine()
	fmt.Fprintf(w.out, "\n== %s (%d/%d) ==\n", entry.Spec.Title, entry.Phase, m.Total())
	if entry.Err != nil {
		fmt.Fprintf(w.out, "  ! %s\n", orchestrator.Describe(entry.Err))
		return nil
	}
	_, err := w.player.Play(ctx, m, entry)
	return err
}
