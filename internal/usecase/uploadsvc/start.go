package uploadsvc

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sir_venger/docupload/internal/models"
)

// Start opens a remote session and registers its bookkeeping under a fresh key.
func (s *Uploads) Start(ctx context.Context, in StartInput) (StartResult, error) {
	const op = "start"

	if err := validateMeta(in.FileMeta); err != nil {
		return StartResult{}, models.NewOpError(op, "", models.ErrValidation, err)
	}
	if in.FileSize <= 0 {
		return StartResult{}, models.NewOpError(op, "", models.ErrValidation, fmt.Errorf("fileSize must be positive"))
	}
	if s.Limits.MaxFileSize > 0 && in.FileSize > s.Limits.MaxFileSize {
		return StartResult{}, models.NewOpError(op, "", models.ErrValidation,
			fmt.Errorf("fileSize %d exceeds limit %d", in.FileSize, s.Limits.MaxFileSize))
	}

	chunkSize := in.ChunkSize
	switch {
	case chunkSize == 0:
		chunkSize = s.Limits.ChunkSize
	case chunkSize < 0 || chunkSize > s.Limits.MaxChunkSize:
		return StartResult{}, models.NewOpError(op, "", models.ErrValidation,
			fmt.Errorf("chunkSize must be in (0, %d]", s.Limits.MaxChunkSize))
	}

	dest := DestinationPath(s.Limits.DestinationRoot, in.FileMeta)

	token, err := s.Adapter.OpenSession(ctx)
	if err != nil {
		return StartResult{}, models.NewOpError(op, "", models.ErrBackend, err)
	}
	if token == "" {
		return StartResult{}, models.NewOpError(op, "", models.ErrBackend, errors.New("backend returned no session token"))
	}

	plan := models.NewChunkPlan(in.FileSize, chunkSize)
	now := s.now()
	sess := models.UploadSession{
		Key:             uuid.NewString(),
		RemoteToken:     token,
		FileMeta:        in.FileMeta,
		FileSize:        in.FileSize,
		ChunkSize:       chunkSize,
		TotalChunks:     plan.Total,
		DestinationPath: dest,
		Status:          models.StatusUploading,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(s.Limits.SessionTTL),
	}

	if err := s.Store.Create(ctx, sess); err != nil {
		if abortErr := s.Adapter.Abort(ctx, token); abortErr != nil {
			s.Logger.Warn().Err(abortErr).Str("remote_token", token).Msg("abort after failed create")
		}
		return StartResult{}, fmt.Errorf("%s: store session: %w", op, err)
	}

	s.Metrics.SessionsStarted.Inc()
	s.Metrics.SessionsActive.Inc()
	s.Logger.Info().
		Str("session_key", sess.Key).
		Str("office", sess.Office).
		Int64("file_size", sess.FileSize).
		Int("total_chunks", sess.TotalChunks).
		Str("destination", dest).
		Msg("upload session started")

	return StartResult{
		SessionKey:         sess.Key,
		RemoteSessionToken: token,
		TotalChunks:        plan.Total,
		ChunkSize:          chunkSize,
	}, nil
}

// storeErr maps store failures onto the protocol taxonomy.
func storeErr(op, key string, err error) error {
	var opErr *models.OpError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &opErr):
		return err
	case errors.Is(err, models.ErrNotFound):
		return models.NewOpError(op, key, models.ErrNotFound, nil)
	default:
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
}
