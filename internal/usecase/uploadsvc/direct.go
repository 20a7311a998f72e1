package uploadsvc

import (
	"context"
	"fmt"

	"github.com/sir_venger/docupload/internal/models"
)

// Direct stores a small file in one round trip without keeping a session.
func (s *Uploads) Direct(ctx context.Context, in DirectInput) (FinishResult, error) {
	const op = "direct"

	if err := validateMeta(in.FileMeta); err != nil {
		return FinishResult{}, models.NewOpError(op, "", models.ErrValidation, err)
	}
	size := int64(len(in.Data))
	if size == 0 {
		return FinishResult{}, models.NewOpError(op, "", models.ErrValidation, fmt.Errorf("data is empty"))
	}
	if size > s.Limits.MaxChunkSize {
		return FinishResult{}, models.NewOpError(op, "", models.ErrValidation,
			fmt.Errorf("%d bytes exceed the direct upload limit %d, use a chunked session", size, s.Limits.MaxChunkSize))
	}

	log := s.Logger.With().Str("office", in.Office).Str("file_name", in.FileName).Logger()
	fail := func(err error) (FinishResult, error) {
		s.Metrics.DirectUploads.WithLabelValues(string(models.StatusFailed)).Inc()
		log.Error().Err(err).Msg("direct upload failed")
		return FinishResult{}, models.NewOpError(op, "", models.ErrBackend, err)
	}

	token, err := s.Adapter.OpenSession(ctx)
	if err != nil {
		return fail(err)
	}
	if token == "" {
		return fail(fmt.Errorf("backend returned no session token"))
	}

	if err := s.Adapter.Append(ctx, token, 0, in.Data); err != nil {
		s.abort(ctx, token, log)
		return fail(err)
	}

	obj, err := s.Adapter.Close(ctx, token, size, DestinationPath(s.Limits.DestinationRoot, in.FileMeta), s.commitOptions())
	if err != nil {
		s.abort(ctx, token, log)
		return fail(err)
	}

	s.Metrics.DirectUploads.WithLabelValues(string(models.StatusCommitted)).Inc()
	log.Info().Str("path", obj.Path).Int64("size", obj.Size).Msg("direct upload committed")
	s.replicate(in.FileMeta, obj)

	return FinishResult{Committed: true, Path: obj.Path, Size: obj.Size}, nil
}
