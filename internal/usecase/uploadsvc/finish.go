package uploadsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sir_venger/docupload/internal/models"
	"github.com/sir_venger/docupload/internal/transport"
)

// Finish commits a complete session or discards it. Either way a finished
// session is gone; only an incomplete commit keeps it for resumption.
func (s *Uploads) Finish(ctx context.Context, in FinishInput) (FinishResult, error) {
	const op = "finish"

	key := strings.TrimSpace(in.SessionKey)
	if key == "" {
		return FinishResult{}, models.NewOpError(op, "", models.ErrValidation, errors.New("sessionKey is required"))
	}

	var (
		res     FinishResult
		meta    models.FileMeta
		obj     transport.ObjectHandle
		outcome string
	)
	log := s.Logger.With().Str("session_key", key).Bool("commit", in.Commit).Logger()

	err := s.Store.Update(ctx, key, func(sess *models.UploadSession) (bool, error) {
		if !in.Commit {
			s.abort(ctx, sess.RemoteToken, log)
			sess.Status = models.StatusAbandoned
			outcome = string(models.StatusAbandoned)
			return true, nil
		}

		if !sess.Complete() {
			return false, models.NewOpError(op, key, models.ErrIncomplete,
				fmt.Errorf("%d of %d chunks uploaded", sess.UploadedChunks, sess.TotalChunks))
		}
		if sess.RemoteToken == "" {
			return false, models.NewOpError(op, key, models.ErrState, errors.New("session has no remote token"))
		}

		committed, err := s.Adapter.Close(ctx, sess.RemoteToken, sess.UploadedBytes, sess.DestinationPath, s.commitOptions())
		if err != nil {
			s.abort(ctx, sess.RemoteToken, log)
			sess.Status = models.StatusFailed
			outcome = string(models.StatusFailed)
			return true, models.NewOpError(op, key, models.ErrBackend, err)
		}

		sess.Status = models.StatusCommitted
		outcome = string(models.StatusCommitted)
		meta = sess.FileMeta
		obj = committed
		res = FinishResult{Committed: true, Path: committed.Path, Size: committed.Size}
		return true, nil
	})

	if outcome != "" {
		s.Metrics.SessionsFinished.WithLabelValues(outcome).Inc()
		s.Metrics.SessionsActive.Dec()
	}
	if err != nil {
		if errors.Is(err, models.ErrBackend) {
			log.Error().Err(err).Msg("commit failed")
		}
		return FinishResult{}, storeErr(op, key, err)
	}

	if res.Committed {
		log.Info().Str("path", obj.Path).Int64("size", obj.Size).Msg("upload committed")
		s.replicate(meta, obj)
	} else {
		log.Info().Msg("upload discarded")
	}
	return res, nil
}

// abort releases a remote session best-effort.
func (s *Uploads) abort(ctx context.Context, token string, log zerolog.Logger) {
	if token == "" {
		return
	}
	if err := s.Adapter.Abort(ctx, token); err != nil {
		log.Warn().Err(err).Msg("remote abort failed")
	}
}
