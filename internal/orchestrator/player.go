package orchestrator

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/tally/internal/workflow"
)

// Epochs reports whether an effect's epoch is still live. *workflow.Machine
// satisfies it.
type Epochs interface {
	IsCurrent(epoch uint64) bool
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithSleep replaces the wait between effects.
func WithSleep(sleep func(context.Context, time.Duration) error) PlayerOption {
	return func(p *Player) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithoutDelay fires every effect immediately, in schedule order.
func WithoutDelay() PlayerOption {
	return func(p *Player) {
		p.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	}
}

// WithPlayerLogger sets the diagnostic logger.
func WithPlayerLogger(logger *zap.Logger) PlayerOption {
	return func(p *Player) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Player schedules the effects of a phase entry for headless drivers.
type Player struct {
	sink   Sink
	sleep  func(context.Context, time.Duration) error
	logger *zap.Logger
}

// NewPlayer renders into sink.
func NewPlayer(sink Sink, opts ...PlayerOption) *Player {
	p := &Player{sink: sink, sleep: sleepContext, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Play fires the entry's effects in delay order, dropping any whose epoch
// has gone stale. It returns the first sink or context error.
func (p *Player) Play(ctx context.Context, epochs Epochs, entry workflow.Entry) (int, error) {
	effects := append([]workflow.Effect(nil), entry.Effects...)
	sort.SliceStable(effects, func(i, j int) bool { return effects[i].After < effects[j].After })

	fired := 0
	var elapsed time.Duration
	for _, effect := range effects {
		if wait := effect.After - elapsed; wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				return fired, err
			}
			elapsed = effect.After
		}
		if !epochs.IsCurrent(effect.Epoch) {
			p.logger.Debug("dropped stale effect", zap.Uint64("epoch", effect.Epoch))
			continue
		}
		if err := p.sink.Render(effect.Event); err != nil {
			return fired, err
		}
		fired++
	}
	return fired, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
