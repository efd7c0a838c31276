package ambient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zhouzirui/tavern-chatter/backend/internal/logger"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/persona"
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/tavern"
)

// Conversor runs one exchange; *tavern.Service satisfies it.
type Conversor interface {
	Converse(ctx context.Context, in tavern.ConverseInput) (tavern.ConverseOutput, error)
}

// Roster lists the personas eligible for background chatter.
type Roster interface {
	List() []persona.Persona
}

// Config for the worker. Interval <= 0 disables it.
type Config struct {
	Interval    time.Duration
	Scene       dialogue.Scene
	MaxInFlight int
	Logger      *slog.Logger
}

// Worker produces background NPC chatter on a timer, so the tavern is never
// silent while the player reads.
type Worker struct {
	conv     Conversor
	roster   Roster
	interval time.Duration
	scene    dialogue.Scene
	slots    chan struct{}
	log      *slog.Logger

	mu   sync.Mutex
	next int
	wg   sync.WaitGroup
}

func NewWorker(conv Conversor, roster Roster, cfg Config) *Worker {
	inFlight := cfg.MaxInFlight
	if inFlight < 1 {
		inFlight = 1
	}
	return &Worker{
		conv:     conv,
		roster:   roster,
		interval: cfg.Interval,
		scene:    cfg.Scene,
		slots:    make(chan struct{}, inFlight),
		log:      logger.Component(cfg.Logger, "ambient"),
	}
}

// Run ticks until ctx is done, then waits for in-flight exchanges.
func (w *Worker) Run(ctx context.Context) {
	if w.interval <= 0 {
		w.log.Info("ambient chatter disabled")
		return
	}
	w.log.Info("ambient chatter started", "interval", w.interval, "scene", w.scene.Name)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer w.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("ambient chatter stopped")
			return
		case <-ticker.C:
			select {
			case w.slots <- struct{}{}:
			default:
				w.log.Debug("skipping tick, exchanges still running")
				continue
			}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				defer func() { <-w.slots }()
				_ = w.Tick(ctx)
			}()
		}
	}
}

// Tick runs one exchange between the next pair in rotation.
func (w *Worker) Tick(ctx context.Context) error {
	pair, ok := w.nextPair()
	if !ok {
		w.log.Debug("not enough personas for ambient chatter")
		return nil
	}

	out, err := w.conv.Converse(ctx, tavern.ConverseInput{
		ParticipantIDs: pair,
		Scene:          w.scene,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		logger.WithError(w.log, err).Warn("ambient exchange failed", "participants", pair)
		return err
	}
	w.log.Debug("ambient exchange", "scene", out.SceneID, "turns", len(out.Turns), "fallback", out.Fallback)
	return nil
}

// nextPair walks every unordered pair of the roster in catalogue order.
func (w *Worker) nextPair() ([]string, bool) {
	list := w.roster.List()
	n := len(list)
	if n < 2 {
		return nil, false
	}
	total := n * (n - 1) / 2

	w.mu.Lock()
	step := w.next % total
	w.next = step + 1
	w.mu.Unlock()

	for i := 0; i < n-1; i++ {
		row := n - 1 - i
		if step < row {
			return []string{list[i].ID, list[i+1+step].ID}, true
		}
		step -= row
	}
	return nil, false
}
