package uploadsvc

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/sir_venger/docupload/internal/models"
)

const reapBatch = 500

var errStillActive = errors.New("session touched since listing")

// Reap aborts and removes sessions whose TTL elapsed at now.
func (s *Uploads) Reap(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.Store.Expired(ctx, now, reapBatch)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, candidate := range expired {
		log := s.Logger.With().Str("session_key", candidate.Key).Logger()

		err := s.Store.Update(ctx, candidate.Key, func(sess *models.UploadSession) (bool, error) {
			if !sess.Expired(now) {
				return false, errStillActive
			}
			s.abort(ctx, sess.RemoteToken, log)
			sess.Status = models.StatusAbandoned
			return true, nil
		})
		switch {
		case err == nil:
			reaped++
			log.Info().Time("expired_at", candidate.ExpiresAt).Msg("expired session reaped")
		case errors.Is(err, errStillActive), errors.Is(err, models.ErrNotFound):
		case ctx.Err() != nil:
			return reaped, ctx.Err()
		default:
			log.Warn().Err(err).Msg("reap failed")
		}
	}

	if reaped > 0 {
		s.Metrics.SessionsReaped.Add(float64(reaped))
		s.Metrics.SessionsActive.Sub(float64(reaped))
	}
	return reaped, nil
}

// Reaper periodically runs Reap on a cron schedule.
type Reaper struct {
	svc      Service
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
	cron     *cron.Cron
}

func NewReaper(svc Service, interval time.Duration, log zerolog.Logger) *Reaper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Reaper{
		svc:      svc,
		interval: interval,
		timeout:  interval,
		log:      log,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start schedules the reaper every interval.
func (r *Reaper) Start() {
	r.cron.Schedule(cron.Every(r.interval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.RunOnce(ctx)
	}))
	r.cron.Start()
	r.log.Info().Dur("interval", r.interval).Msg("session reaper started")
}

// RunOnce reaps expired sessions immediately.
func (r *Reaper) RunOnce(ctx context.Context) int {
	n, err := r.svc.Reap(ctx, time.Now())
	if err != nil {
		r.log.Error().Err(err).Msg("reap run failed")
	}
	return n
}

// Stop stops scheduling and waits for a running reap to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}
