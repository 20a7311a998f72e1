package resthttp

import (
	"net/http"

	"github.com/sir_venger/docupload/internal/models"
	"github.com/sir_venger/docupload/internal/usecase/uploadsvc"
	"github.com/sir_venger/docupload/pkg/httperrors"
	"github.com/sir_venger/docupload/pkg/uploadproto"
)

// postUpload dispatches start, append and finish by the action field.
func (s *Server) postUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadproto.Request
	if err := s.decode(w, r, &req); err != nil {
		httperrors.Write(w, err)
		return
	}

	ctx := r.Context()
	switch req.Action {
	case uploadproto.ActionStart:
		res, err := s.Uploads.Start(ctx, uploadsvc.StartInput{
			FileMeta:  fileMeta(req.Metadata),
			FileSize:  req.FileSize,
			ChunkSize: req.ChunkSize,
		})
		if err != nil {
			httperrors.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, uploadproto.StartResponse{
			SessionKey:         res.SessionKey,
			RemoteSessionToken: res.RemoteSessionToken,
			TotalChunks:        res.TotalChunks,
			ChunkSize:          res.ChunkSize,
		})

	case uploadproto.ActionAppend:
		res, err := s.Uploads.Append(ctx, uploadsvc.AppendInput{
			SessionKey: req.SessionKey,
			ChunkIndex: req.ChunkIndex,
			Data:       req.ChunkData,
		})
		if err != nil {
			httperrors.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, uploadproto.AppendResponse{
			UploadedChunks: res.UploadedChunks,
			TotalChunks:    res.TotalChunks,
			UploadedBytes:  res.UploadedBytes,
		})

	case uploadproto.ActionFinish:
		res, err := s.Uploads.Finish(ctx, uploadsvc.FinishInput{SessionKey: req.SessionKey, Commit: req.Commit})
		if err != nil {
			httperrors.Write(w, err)
			return
		}
		writeJSON(w, http.StatusOK, finishResponse(res))

	default:
		httperrors.Write(w, models.Validationf("unknown action %q", req.Action))
	}
}

// postDirect uploads a small file without a session.
func (s *Server) postDirect(w http.ResponseWriter, r *http.Request) {
	var req uploadproto.DirectRequest
	if err := s.decode(w, r, &req); err != nil {
		httperrors.Write(w, err)
		return
	}

	res, err := s.Uploads.Direct(r.Context(), uploadsvc.DirectInput{FileMeta: fileMeta(req.Metadata), Data: req.Data})
	if err != nil {
		httperrors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, finishResponse(res))
}

func fileMeta(m uploadproto.Metadata) models.FileMeta {
	return models.FileMeta{
		Office:      m.Office,
		LogicalID:   m.LogicalID,
		DisplayName: m.DisplayName,
		SubmittedAt: m.SubmittedAt,
		FileName:    m.FileName,
	}
}

func finishResponse(res uploadsvc.FinishResult) uploadproto.FinishResponse {
	return uploadproto.FinishResponse{Committed: res.Committed, Path: res.Path, Size: res.Size}
}
