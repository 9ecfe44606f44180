package frame

import (
	"context"
	"log/slog"

	"github.com/tonimelisma/photoframe-go/internal/display"
)

// requestLoop serves display requests one at a time until ctx is done.
func (s *Service) requestLoop(ctx context.Context) error {
	requests := s.deps.Hub.Requests()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-requests:
			s.handleRequest(ctx, req)
		}
	}
}

func (s *Service) handleRequest(ctx context.Context, req display.Request) {
	log := s.logger.With(slog.String("request", req.Type), slog.String("client_id", req.ClientID))

	switch req.Type {
	case display.RequestInit:
		s.handleInit(log)

	case display.RequestMorePhotos:
		var p display.MorePhotosPayload
		if err := req.Decode(&p); err != nil {
			log.Warn("bad request payload", slog.String("error", err.Error()))
		}

		n := s.refillChunk()
		if p.Count > 0 {
			n = p.Count
		}

		log.Debug("display used its last photo")
		s.sendChunk(n)

	case display.RequestImageLoaded:
		var p display.ImageLoadedPayload
		if err := req.Decode(&p); err != nil || p.ID == "" {
			log.Warn("bad request payload")
			return
		}

		log.Debug("image loaded", slog.String("photo_id", p.ID), slog.Int("index", p.Index))

		if err := s.deps.Ledger.RecordLoad(ctx, p.ID, ""); err != nil {
			log.Warn("recording image load failed", slog.String("error", err.Error()))
		}

	case display.RequestImageLoadFailed:
		var p display.ImageLoadFailedPayload
		if err := req.Decode(&p); err != nil {
			log.Warn("bad request payload", slog.String("error", err.Error()))
		}

		log.Error("display could not load image",
			slog.String("photo_id", p.ID),
			slog.String("error", p.Error),
		)

		if p.ID != "" {
			s.recordLoadFailure(ctx, log, p.ID, p.Error)
		}

		s.sendChunk(s.refillChunk())

	case display.RequestStartPicker:
		s.launchFlow(ctx, func(ctx context.Context) { s.pickerFlow(ctx, nil) })

	default:
		log.Warn("unknown display request")
	}
}

// handleInit brings a newly connected display up to date.
func (s *Service) handleInit(log *slog.Logger) {
	switch {
	case s.buffer.Len() > 0:
		s.deps.Hub.Publish(display.Event{
			Type:    display.EventInitialized,
			Payload: display.InitializedPayload{Count: s.buffer.Len()},
		})
		s.sendChunk(firstChunk)
	case s.initialized.Load():
		s.deps.Hub.Publish(display.Event{Type: display.EventNoPhotosCached})
	default:
		log.Debug("display connected before initialization finished")
		s.deps.Hub.Publish(display.StatusEvent("Starting up..."))
	}
}

// recordLoadFailure logs the failure and evicts the photo once it keeps
// failing, so the next refresh downloads it again.
func (s *Service) recordLoadFailure(ctx context.Context, log *slog.Logger, id, msg string) {
	if msg == "" {
		msg = "load failed"
	}

	if err := s.deps.Ledger.RecordLoad(ctx, id, msg); err != nil {
		log.Warn("recording image load failure failed", slog.String("error", err.Error()))
		return
	}

	evict, err := s.deps.Ledger.ShouldEvict(ctx, id)
	if err != nil {
		log.Warn("checking load failures failed", slog.String("error", err.Error()))
		return
	}

	if !evict {
		return
	}

	if err := s.deps.Cache.Evict(id); err != nil {
		log.Warn("evicting photo failed", slog.String("photo_id", id), slog.String("error", err.Error()))
	}

	if s.buffer.Remove(id) {
		log.Info("evicted repeatedly failing photo", slog.String("photo_id", id))
	}
}
