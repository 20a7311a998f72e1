package uploadsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sir_venger/docupload/internal/models"
)

// Append writes one chunk at the session's current offset. Only the next
// expected index is accepted; a replay of the previous chunk is acknowledged
// without touching the backend.
func (s *Uploads) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	const op = "append"

	key := strings.TrimSpace(in.SessionKey)
	if key == "" {
		return AppendResult{}, models.NewOpError(op, "", models.ErrValidation, errors.New("sessionKey is required"))
	}
	if in.ChunkIndex < 0 {
		return AppendResult{}, models.NewOpError(op, key, models.ErrValidation, fmt.Errorf("negative chunkIndex %d", in.ChunkIndex))
	}
	if len(in.Data) == 0 {
		return AppendResult{}, models.NewOpError(op, key, models.ErrValidation, errors.New("chunkData is empty"))
	}

	var (
		res        AppendResult
		backendErr error
		replayed   bool
	)
	log := s.Logger.With().Str("session_key", key).Int("chunk_index", in.ChunkIndex).Logger()

	err := s.Store.Update(ctx, key, func(sess *models.UploadSession) (bool, error) {
		if sess.RemoteToken == "" {
			return false, models.NewOpError(op, key, models.ErrState, errors.New("session has no remote token"))
		}

		if in.ChunkIndex >= sess.TotalChunks {
			return false, models.NewOpError(op, key, models.ErrValidation,
				fmt.Errorf("chunk %d is past the last chunk %d", in.ChunkIndex, sess.TotalChunks-1))
		}

		size := int64(len(in.Data))
		if in.ChunkIndex == sess.UploadedChunks-1 && size == sess.LastChunkSize {
			replayed = true
			res = appendResult(*sess)
			return false, nil
		}
		if in.ChunkIndex != sess.UploadedChunks {
			return false, models.NewOpError(op, key, models.ErrOutOfOrder,
				fmt.Errorf("got chunk %d, expected %d", in.ChunkIndex, sess.UploadedChunks))
		}
		if want := sess.Plan().Size(in.ChunkIndex); size != want {
			return false, models.NewOpError(op, key, models.ErrValidation,
				fmt.Errorf("chunk %d has %d bytes, expected %d", in.ChunkIndex, size, want))
		}

		now := s.now()
		if err := s.Adapter.Append(ctx, sess.RemoteToken, sess.UploadedBytes, in.Data); err != nil {
			// counters stay put so the same chunk can be sent again
			backendErr = err
			sess.Status = models.StatusFailed
			sess.UpdatedAt = now
			res = appendResult(*sess)
			return false, nil
		}

		sess.UploadedChunks++
		sess.UploadedBytes += size
		sess.LastChunkSize = size
		sess.Status = models.StatusUploading
		sess.UpdatedAt = now
		sess.ExpiresAt = now.Add(s.Limits.SessionTTL)
		res = appendResult(*sess)
		return false, nil
	})
	if err != nil {
		return AppendResult{}, storeErr(op, key, err)
	}

	if backendErr != nil {
		s.Metrics.AppendErrors.Inc()
		log.Warn().Err(backendErr).Int64("offset", res.UploadedBytes).Msg("backend append failed")
		return AppendResult{}, models.NewOpError(op, key, models.ErrBackend, backendErr)
	}
	if replayed {
		log.Debug().Msg("duplicate chunk acknowledged")
		return res, nil
	}

	s.Metrics.ChunksAppended.Inc()
	s.Metrics.BytesAppended.Add(float64(len(in.Data)))
	log.Debug().Int64("uploaded_bytes", res.UploadedBytes).Msg("chunk appended")
	return res, nil
}

func appendResult(sess models.UploadSession) AppendResult {
	return AppendResult{
		UploadedChunks: sess.UploadedChunks,
		TotalChunks:    sess.TotalChunks,
		UploadedBytes:  sess.UploadedBytes,
	}
}
