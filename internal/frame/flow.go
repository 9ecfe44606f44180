package frame

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/photoframe-go/internal/display"
	"github.com/tonimelisma/photoframe-go/internal/ledger"
	"github.com/tonimelisma/photoframe-go/internal/mediacache"
	"github.com/tonimelisma/photoframe-go/internal/picker"
	"github.com/tonimelisma/photoframe-go/internal/session"
)

// launchFlow runs fn in the background unless a picker flow is already in
// progress. Reports whether fn was started.
func (s *Service) launchFlow(ctx context.Context, fn func(ctx context.Context)) bool {
	if !s.pickerBusy.CompareAndSwap(false, true) {
		s.logger.Info("picker flow already running, ignoring request")
		s.deps.Hub.Publish(display.StatusEvent("Photo selection is already in progress."))

		return false
	}

	s.flows.Add(1)

	go func() {
		defer s.flows.Done()
		defer s.pickerBusy.Store(false)

		fn(ctx)
	}()

	return true
}

// pickerFlow creates a session (or continues sess), announces the picker
// URI and polls until the user finishes picking.
func (s *Service) pickerFlow(ctx context.Context, sess *picker.Session) {
	if sess == nil {
		s.logger.Info("starting picker flow")
		s.deps.Hub.Publish(display.StatusEvent("Creating photo picker session..."))

		created, err := s.deps.Sessions.Create(ctx)
		if err != nil {
			s.flowFailed(ctx, "creating picker session failed", "Failed to start photo picker. Check logs.", err)
			return
		}

		sess = created
	}

	log := s.logger.With(slog.String("session_id", sess.ID))
	log.Info("open the picker URI on a phone or laptop to select photos")

	s.deps.Hub.Publish(display.Event{
		Type: display.EventSessionCreated,
		Payload: display.SessionCreatedPayload{
			PickerURI: sess.PickerURI,
			QRPayload: sess.PickerURI,
		},
	})

	outcome, err := s.deps.Sessions.Poll(ctx, sess.ID, func(msg string) {
		s.deps.Hub.Publish(display.StatusEvent(msg))
	})
	if err != nil {
		log.Debug("picker flow stopped", slog.String("error", err.Error()))
		return
	}

	switch outcome {
	case session.PollReady:
		log.Info("user finished selecting photos")
		s.processSelection(ctx, sess.ID)
	case session.PollExpired:
		log.Warn("picker session expired before photos were selected")
		s.deps.Hub.Publish(display.StatusEvent("Picker session expired. Open the picker to try again."))
		s.deps.Sessions.Delete(ctx, sess.ID)
	default:
		log.Warn("stopped waiting for photo selection", slog.String("outcome", outcome.String()))
		s.deps.Hub.Publish(display.StatusEvent("Picker session timed out. Open the picker to try again."))
		s.deps.Sessions.Delete(ctx, sess.ID)
	}
}

// processSelection downloads the session's photos, replaces the cache
// contents and restarts the rotation with them.
func (s *Service) processSelection(ctx context.Context, sessionID string) {
	log := s.logger.With(slog.String("session_id", sessionID))
	s.deps.Hub.Publish(display.StatusEvent("Downloading selected photos..."))

	items, err := s.deps.Cache.ListSelected(ctx, sessionID)
	if err != nil {
		s.flowFailed(ctx, "listing picked photos failed", "Failed to process picked photos. Check logs.", err)
		return
	}

	log.Info("user picked photos", slog.Int("count", len(items)))

	if len(items) == 0 {
		s.deps.Hub.Publish(display.StatusEvent("No photos selected. Open the picker to try again."))
		return
	}

	photos, ok := s.cacheItems(ctx, sessionID, items, true)
	if !ok {
		return
	}

	if len(photos) == 0 {
		s.deps.Hub.Publish(display.ErrorEvent("None of the selected photos could be downloaded. Check logs."))
		return
	}

	if n, err := s.deps.Cache.Prune(photos); err != nil {
		log.Warn("pruning stale cache files failed", slog.String("error", err.Error()))
	} else if n > 0 {
		log.Info("pruned photos no longer selected", slog.Int("removed", n))
	}

	s.showPhotos(photos)

	if !s.opts.RetainSession {
		s.deps.Sessions.Consume(ctx)
	}
}

// cacheItems downloads items, persists the index and records the batch.
// It reports false only when ctx was canceled mid-batch.
func (s *Service) cacheItems(
	ctx context.Context, sessionID string, items []picker.MediaItem, announce bool,
) ([]mediacache.CachedPhoto, bool) {
	started := s.nowFunc()

	var progress func(done, total int)
	if announce {
		progress = func(done, total int) {
			if done%progressEvery == 0 && done < total {
				s.deps.Hub.Publish(display.StatusEvent(fmt.Sprintf("Downloaded %d/%d photos...", done, total)))
			}
		}
	}

	res, err := s.deps.Cache.DownloadBatch(ctx, items, progress)
	if err != nil {
		s.logger.Debug("download batch interrupted", slog.String("error", err.Error()))
		return nil, false
	}

	s.logger.Info("download batch finished",
		slog.String("session_id", sessionID),
		slog.Int("cached", len(res.Photos)),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
	)

	if err := s.deps.Cache.PersistMetadata(res.Photos); err != nil {
		s.logger.Warn("saving cache index failed", slog.String("error", err.Error()))
	}

	stats := ledger.BatchStats{
		SessionID: sessionID,
		Listed:    len(items),
		Cached:    len(res.Photos),
		Skipped:   res.Skipped,
		Failed:    res.Failed,
		StartedAt: started,
		Duration:  s.nowFunc().Sub(started),
	}

	if err := s.deps.Ledger.RecordBatch(ctx, stats); err != nil {
		s.logger.Warn("recording download batch failed", slog.String("error", err.Error()))
	}

	return res.Photos, true
}

// onRefreshed receives freshly listed items from the refresh scheduler and
// downloads any whose files are missing. New photos join the rotation
// without moving its read pointer.
func (s *Service) onRefreshed(ctx context.Context, items []picker.MediaItem) {
	if _, err := s.deps.Ledger.Prune(ctx, s.nowFunc().Add(-ledgerRetention)); err != nil {
		s.logger.Warn("pruning ledger failed", slog.String("error", err.Error()))
	}

	missing := s.deps.Cache.Missing(items)
	if len(missing) == 0 {
		return
	}

	active := s.deps.Sessions.Active()
	if active == nil {
		return
	}

	s.logger.Info("refresh found uncached photos", slog.Int("missing", len(missing)))

	photos, ok := s.cacheItems(ctx, active.ID, items, false)
	if !ok || len(photos) == 0 {
		return
	}

	if added := s.buffer.Merge(photos); added > 0 {
		s.logger.Info("added refreshed photos to rotation", slog.Int("added", added))
	}
}

// onRestart starts a new picker flow after the refresh scheduler found the
// old session unusable. Cached photos keep rotating meanwhile.
func (s *Service) onRestart(ctx context.Context) {
	s.launchFlow(ctx, func(ctx context.Context) { s.pickerFlow(ctx, nil) })
}

// flowFailed reports a picker flow failure. Fatal auth errors surface
// verbatim so the user knows to rerun login.
func (s *Service) flowFailed(ctx context.Context, logMsg, displayMsg string, err error) {
	if ctx.Err() != nil {
		return
	}

	s.logger.Error(logMsg, slog.String("error", err.Error()))

	if isFatal(err) {
		displayMsg = err.Error()
	}

	s.deps.Hub.Publish(display.ErrorEvent(displayMsg))
}
