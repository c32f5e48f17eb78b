// Package worker finalizes recordings: it is the single consumer of the
// lifecycle bus and persists, packages and uploads each session in order.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/getrec/recorder/internal/lifecycle"
	"github.com/getrec/recorder/internal/models"
	"github.com/getrec/recorder/internal/recordings"
)

// Store persists recording state. *recordings.Repository implements it.
type Store interface {
	Upsert(ctx context.Context, u recordings.Update) error
}

// Packager turns a session's raw files into an uploaded MP4. *publisher.Publisher implements it.
type Packager interface {
	Mux(ctx context.Context, p recordings.Paths, audioOffset time.Duration) error
	Probe(ctx context.Context, path string) (time.Duration, error)
	Upload(ctx context.Context, p recordings.Paths) error
	Cleanup(p recordings.Paths) error
}

// Notifier is told about every state the processor persists.
type Notifier interface {
	Notify(ctx context.Context, rec models.Recording) error
}

// RecordingProcessor applies lifecycle events one at a time.
type RecordingProcessor struct {
	events   <-chan lifecycle.Event
	store    Store
	packager Packager
	notifier Notifier
	tmpDir   string
	logger   *zap.Logger
}

// NewRecordingProcessor creates the finalization worker. notifier may be nil.
func NewRecordingProcessor(events <-chan lifecycle.Event, store Store, packager Packager, notifier Notifier, tmpDir string, logger *zap.Logger) *RecordingProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingProcessor{
		events:   events,
		store:    store,
		packager: packager,
		notifier: notifier,
		tmpDir:   tmpDir,
		logger:   logger,
	}
}

// Run consumes events until ctx is done or the event channel is closed.
func (p *RecordingProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("recording worker stopping")
			return
		case e, ok := <-p.events:
			if !ok {
				p.logger.Info("lifecycle bus closed")
				return
			}
			if err := p.Process(ctx, e); err != nil {
				p.logger.Error("finalization step failed",
					zap.String("recording_id", e.RecordingID.String()),
					zap.Stringer("event", e.Kind),
					zap.Error(err),
				)
			}
		}
	}
}

// Process applies one event. Persistence, mux and upload failures are logged
// and do not stop the step; a probe failure aborts it and is returned.
func (p *RecordingProcessor) Process(ctx context.Context, e lifecycle.Event) error {
	switch e.Kind {
	case lifecycle.Created:
		ts := e.Timestamp
		p.persist(ctx, e, models.RecordingStateCreated, recordings.Update{CreatedAt: &ts})
		return nil
	case lifecycle.Recording:
		ts := e.Timestamp
		p.persist(ctx, e, models.RecordingStateRecording, recordings.Update{StartedAt: &ts})
		return nil
	case lifecycle.Completed:
		return p.finalize(ctx, e)
	default:
		return fmt.Errorf("unknown lifecycle event %d", e.Kind)
	}
}

func (p *RecordingProcessor) finalize(ctx context.Context, e lifecycle.Event) error {
	log := p.logger.With(zap.String("recording_id", e.RecordingID.String()))
	start := e.Timestamp
	p.persist(ctx, e, models.RecordingStateProcessing, recordings.Update{StartedAt: &start})

	paths := recordings.PathsFor(p.tmpDir, e.RecordingID)
	if err := p.packager.Mux(ctx, paths, e.AudioOffset); err != nil {
		log.Error("mux recording", zap.Error(err))
	}
	duration, err := p.packager.Probe(ctx, paths.MP4)
	if err != nil {
		return fmt.Errorf("finalize %s: %w", e.RecordingID, err)
	}
	if err := p.packager.Upload(ctx, paths); err != nil {
		log.Error("upload recording", zap.Error(err))
	} else {
		log.Info("recording uploaded", zap.String("key", paths.ObjectKey), zap.Duration("duration", duration))
	}

	end := e.Timestamp.Add(duration)
	p.persist(ctx, e, models.RecordingStateCompleted, recordings.Update{EndedAt: &end})

	if err := p.packager.Cleanup(paths); err != nil {
		log.Warn("cleanup recording files", zap.Error(err))
	}
	return nil
}

// persist upserts state with the timestamps set in u and notifies on success.
func (p *RecordingProcessor) persist(ctx context.Context, e lifecycle.Event, state models.RecordingState, u recordings.Update) {
	u.RecordingID = e.RecordingID
	u.PlayerID = e.PlayerID
	u.AccountID = e.AccountID
	u.State = state

	log := p.logger.With(
		zap.String("recording_id", e.RecordingID.String()),
		zap.String("player_id", e.PlayerID),
		zap.String("account_id", e.AccountID),
	)
	if err := p.store.Upsert(ctx, u); err != nil {
		log.Error("persist recording state", zap.String("state", string(state)), zap.Error(err))
		return
	}
	log.Info(string(state))

	if p.notifier == nil {
		return
	}
	rec := models.Recording{
		ID:        u.RecordingID,
		PlayerID:  u.PlayerID,
		AccountID: u.AccountID,
		CreatedAt: u.CreatedAt,
		StartedAt: u.StartedAt,
		EndedAt:   u.EndedAt,
		State:     state,
	}
	if err := p.notifier.Notify(ctx, rec); err != nil {
		log.Warn("notify recording state", zap.Error(err))
	}
}
