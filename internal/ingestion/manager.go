package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
	"github.com/mr1hm/go-emergency-alerts/internal/notify"
	"github.com/mr1hm/go-emergency-alerts/internal/repository"
	"github.com/mr1hm/go-emergency-alerts/internal/worker"
)

// streamRetryDelay is how long a stream loop waits after a read error.
const streamRetryDelay = time.Second

type job struct {
	source string
	event  *models.CorrelationEvent
	ack    func(context.Context) error
}

type scheduledPoller struct {
	poller   Poller
	interval time.Duration
}

// Manager runs correlation sources and stores what they produce. Every event
// goes through a worker pool that upserts it and, while it is unresolved,
// announces it to subscribers.
type Manager struct {
	repo     repository.CorrelationRepository
	notifier notify.Notifier
	clock    clock.Clock

	workers    int
	bufferSize int
	pollers    []scheduledPoller
	streams    []Stream

	pool *worker.Pool[job]
	wg   sync.WaitGroup
}

func NewManager(repo repository.CorrelationRepository, notifier notify.Notifier, clk clock.Clock, workers, bufferSize int) *Manager {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Manager{
		repo:       repo,
		notifier:   notifier,
		clock:      clk,
		workers:    workers,
		bufferSize: bufferSize,
	}
}

// AddPoller registers a source fetched once at start and then every interval.
// It must be called before Start.
func (m *Manager) AddPoller(p Poller, interval time.Duration) {
	m.pollers = append(m.pollers, scheduledPoller{poller: p, interval: interval})
}

// AddStream registers a source read continuously. The manager closes it on
// Stop. It must be called before Start.
func (m *Manager) AddStream(s Stream) {
	m.streams = append(m.streams, s)
}

func (m *Manager) Start(ctx context.Context) {
	m.pool = worker.NewPool("correlation", m.workers, m.bufferSize, m.process)
	m.pool.Start(ctx)

	for _, sp := range m.pollers {
		m.wg.Add(1)
		go m.runPoller(ctx, sp)
	}
	for _, s := range m.streams {
		m.wg.Add(1)
		go m.runStream(ctx, s)
	}
}

func (m *Manager) process(ctx context.Context, j job) error {
	e := j.event
	if err := e.Validate(); err != nil {
		// Invalid events will never become valid; acknowledge so they are not redelivered.
		slog.Warn("dropping invalid correlation event", "source", j.source, "id", e.ID, "error", err)
		m.ack(ctx, j)
		return err
	}

	if err := m.repo.UpsertCorrelationEvent(ctx, e); err != nil {
		return fmt.Errorf("error storing correlation event %s: %w", e.ID, err)
	}

	if e.IsActive() {
		m.notifier.Notify(ctx, notify.Event{
			Type: notify.EventCorrelation,
			At:   m.clock.Now().UTC(),
			Data: map[string]any{
				"id":        e.ID,
				"type":      e.Type,
				"severity":  e.Severity,
				"alert_ids": e.AlertIDs,
			},
		})
	}

	m.ack(ctx, j)
	slog.Debug("stored correlation event", "source", j.source, "id", e.ID, "type", e.Type)
	return nil
}

func (m *Manager) ack(ctx context.Context, j job) {
	if j.ack == nil {
		return
	}
	if err := j.ack(ctx); err != nil {
		slog.Error("failed to acknowledge correlation event", "source", j.source, "id", j.event.ID, "error", err)
	}
}

func (m *Manager) runPoller(ctx context.Context, sp scheduledPoller) {
	defer m.wg.Done()
	name := sp.poller.Name()
	slog.Info("starting poller", "source", name, "interval", sp.interval)

	ticker := m.clock.Ticker(sp.interval)
	defer ticker.Stop()

	m.poll(ctx, sp.poller)

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller shutting down", "source", name)
			return
		case <-ticker.C:
			m.poll(ctx, sp.poller)
		}
	}
}

func (m *Manager) poll(ctx context.Context, p Poller) {
	events, err := p.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("poll failed", "source", p.Name(), "error", err)
		}
		return
	}

	for _, e := range events {
		if err := m.pool.Submit(ctx, job{source: p.Name(), event: e}); err != nil {
			return
		}
	}

	slog.Debug("poll complete", "source", p.Name(), "count", len(events))
}

func (m *Manager) runStream(ctx context.Context, s Stream) {
	defer m.wg.Done()
	slog.Info("starting stream", "source", s.Name())

	for {
		e, ack, err := s.Next(ctx)
		if err != nil {
			if isClosed(err) || ctx.Err() != nil {
				slog.Info("stream shutting down", "source", s.Name())
				return
			}
			slog.Error("stream read failed", "source", s.Name(), "error", err)
			select {
			case <-ctx.Done():
				return
			case <-m.clock.After(streamRetryDelay):
			}
			continue
		}

		if err := m.pool.Submit(ctx, job{source: s.Name(), event: e, ack: ack}); err != nil {
			return
		}
	}
}

// Stop waits for sources to return, drains the pool and closes streams. The
// context passed to Start must be cancelled first.
func (m *Manager) Stop() {
	m.wg.Wait()
	if m.pool != nil {
		m.pool.Stop()
	}
	for _, s := range m.streams {
		if err := s.Close(); err != nil {
			slog.Warn("error closing stream", "source", s.Name(), "error", err)
		}
	}
	slog.Info("ingestion manager stopped")
}
