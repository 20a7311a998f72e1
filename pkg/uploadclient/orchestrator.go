package uploadclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sir_venger/docupload/internal/models"
	"github.com/sir_venger/docupload/pkg/uploadproto"
)

const (
	sniffLen       = 3072
	discardTimeout = 10 * time.Second
)

// ErrCancelled is the outcome error of a file stopped by its Canceler or context.
var ErrCancelled = errors.New("upload cancelled")

// Job is one file to upload.
type Job struct {
	// Name labels progress and outcomes, Meta.FileName is used when empty.
	Name   string
	Meta   uploadproto.Metadata
	Source io.ReaderAt
	Size   int64
	Cancel *Canceler
}

func (j Job) name() string {
	if j.Name != "" {
		return j.Name
	}
	return j.Meta.FileName
}

type Outcome struct {
	File           string
	Status         Status
	Path           string
	UploadedChunks int
	TotalChunks    int
	Err            error
}

// Summary aggregates the outcomes of a batch.
type Summary struct {
	Outcomes  []Outcome
	Succeeded int
	Failed    int
	Cancelled int
}

// Orchestrator splits files into chunks and drives them through the protocol one chunk at a time.
type Orchestrator struct {
	proto Protocol
	opts  Options
	log   zerolog.Logger
}

func New(proto Protocol, opts Options, log zerolog.Logger) (*Orchestrator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Orchestrator{proto: proto, opts: opts, log: log}, nil
}

// UploadBatch uploads jobs concurrently; one failed file never fails the others.
func (o *Orchestrator) UploadBatch(ctx context.Context, jobs []Job) Summary {
	outcomes := make([]Outcome, len(jobs))

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = o.Upload(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	s := Summary{Outcomes: outcomes}
	for _, out := range outcomes {
		switch out.Status {
		case StatusSuccess:
			s.Succeeded++
		case StatusCancelled:
			s.Cancelled++
		default:
			s.Failed++
		}
	}
	return s
}

// Upload sends one file. Files up to ChunkSize, and within the server's
// direct limit, go through a single direct call.
func (o *Orchestrator) Upload(ctx context.Context, job Job) Outcome {
	out := Outcome{File: job.name(), Status: StatusPending}
	log := o.log.With().Str("file", out.File).Int64("size", job.Size).Logger()
	o.report(out)

	if err := o.preflight(job); err != nil {
		return o.fail(out, err, log)
	}
	if job.Size <= o.opts.directLimit() {
		return o.direct(ctx, job, out, log)
	}

	plan := models.NewChunkPlan(job.Size, o.opts.ChunkSize)
	out.TotalChunks = plan.Total
	if o.stopped(ctx, job) {
		return o.cancel(ctx, out, "", log)
	}

	started, err := withRetry(ctx, o.opts.Retry, transient, func() (uploadproto.StartResponse, error) {
		return o.proto.Start(ctx, job.Meta, job.Size, plan.ChunkSize)
	})
	if err != nil {
		return o.fail(out, fmt.Errorf("start: %w", err), log)
	}
	key := started.SessionKey
	log = log.With().Str("session_key", key).Logger()
	if started.TotalChunks != plan.Total {
		o.discard(ctx, key, log)
		return o.fail(out, models.Validationf("server planned %d chunks, expected %d", started.TotalChunks, plan.Total), log)
	}

	out.Status = StatusUploading
	o.report(out)

	buf := make([]byte, plan.ChunkSize)
	for i := 0; i < plan.Total; i++ {
		if o.stopped(ctx, job) {
			return o.cancel(ctx, out, key, log)
		}

		off, n := plan.Bounds(i)
		chunk := buf[:n]
		if _, err := io.ReadFull(io.NewSectionReader(job.Source, off, n), chunk); err != nil {
			return o.fail(out, fmt.Errorf("read chunk %d: %w", i, err), log)
		}

		ack, err := withRetry(ctx, o.opts.Retry, transient, func() (uploadproto.AppendResponse, error) {
			return o.proto.Append(ctx, key, i, chunk)
		})
		if err != nil {
			if ctx.Err() != nil {
				return o.cancel(ctx, out, key, log)
			}
			return o.fail(out, fmt.Errorf("append chunk %d: %w", i, err), log)
		}

		out.UploadedChunks = ack.UploadedChunks
		o.report(out)
	}

	if o.stopped(ctx, job) {
		return o.cancel(ctx, out, key, log)
	}

	// commit is not idempotent, a second attempt would only see a removed session
	fin, err := o.proto.Finish(ctx, key, true)
	if err != nil {
		return o.fail(out, fmt.Errorf("finish: %w", err), log)
	}

	out.Status = StatusSuccess
	out.Path = fin.Path
	o.report(out)
	log.Info().Str("path", fin.Path).Int("chunks", plan.Total).Msg("file uploaded")
	return out
}

func (o *Orchestrator) direct(ctx context.Context, job Job, out Outcome, log zerolog.Logger) Outcome {
	out.TotalChunks = 1
	if o.stopped(ctx, job) {
		return o.cancel(ctx, out, "", log)
	}

	data := make([]byte, job.Size)
	if _, err := io.ReadFull(io.NewSectionReader(job.Source, 0, job.Size), data); err != nil {
		return o.fail(out, fmt.Errorf("read file: %w", err), log)
	}

	out.Status = StatusUploading
	o.report(out)

	// direct commits are sent once, like finish(commit)
	fin, err := o.proto.Direct(ctx, job.Meta, data)
	if err != nil {
		return o.fail(out, fmt.Errorf("direct: %w", err), log)
	}

	out.Status = StatusSuccess
	out.UploadedChunks = 1
	out.Path = fin.Path
	o.report(out)
	log.Info().Str("path", fin.Path).Msg("file uploaded directly")
	return out
}

func (o *Orchestrator) preflight(job Job) error {
	if job.Source == nil {
		return models.Validationf("no source for %q", job.name())
	}
	if job.Size <= 0 {
		return models.Validationf("file %q is empty", job.name())
	}
	if job.Size > o.opts.MaxFileSize {
		return models.Validationf("file %q has %d bytes, limit is %d", job.name(), job.Size, o.opts.MaxFileSize)
	}
	if len(o.opts.AllowedContentTypes) == 0 {
		return nil
	}

	head := make([]byte, min(job.Size, sniffLen))
	n, err := job.Source.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("sniff %q: %w", job.name(), err)
	}
	mt := mimetype.Detect(head[:n])
	for _, allowed := range o.opts.AllowedContentTypes {
		if mt.Is(allowed) {
			return nil
		}
	}
	return models.Validationf("file %q has type %s, not allowed", job.name(), mt.String())
}

func (o *Orchestrator) stopped(ctx context.Context, job Job) bool {
	return job.Cancel.Cancelled() || ctx.Err() != nil
}

// cancel stops the file; no commit is issued, only an optional discard.
func (o *Orchestrator) cancel(ctx context.Context, out Outcome, key string, log zerolog.Logger) Outcome {
	out.Status = StatusCancelled
	out.Err = ErrCancelled
	if o.opts.DiscardOnCancel && key != "" {
		o.discard(ctx, key, log)
	}
	o.report(out)
	log.Info().Int("uploaded_chunks", out.UploadedChunks).Msg("upload cancelled")
	return out
}

// discard drops the server session best-effort, even when ctx is already cancelled.
func (o *Orchestrator) discard(ctx context.Context, key string, log zerolog.Logger) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()
	if _, err := o.proto.Finish(dctx, key, false); err != nil {
		log.Warn().Err(err).Msg("discard failed")
	}
}

func (o *Orchestrator) fail(out Outcome, err error, log zerolog.Logger) Outcome {
	out.Status = StatusFailed
	out.Err = err
	o.report(out)
	log.Error().Err(err).Msg("upload failed")
	return out
}

func (o *Orchestrator) report(out Outcome) {
	if o.opts.OnProgress == nil {
		return
	}
	p := Progress{
		File:           out.File,
		UploadedChunks: out.UploadedChunks,
		TotalChunks:    out.TotalChunks,
		Status:         out.Status,
	}
	if out.TotalChunks > 0 {
		p.Percent = out.UploadedChunks * 100 / out.TotalChunks
	}
	o.opts.OnProgress(p)
}

func withRetry[T any](ctx context.Context, r RetryOptions, retryable func(error) bool, call func() (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		eb.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		eb.MaxInterval = r.MaxInterval
	}
	eb.MaxElapsedTime = 0

	attempts := max(r.MaxAttempts, 1)
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	return backoff.RetryWithData(func() (T, error) {
		v, err := call()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, b)
}
