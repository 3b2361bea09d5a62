package scheduler

import (
	"context"
	"fmt"
	"time"

	"silence-trimmer/internal/interval"
	"silence-trimmer/internal/media"
	"silence-trimmer/internal/models"
	"silence-trimmer/internal/telemetry"
)

// Progress checkpoints reported while a run is in flight.
const (
	progressDetecting = 10
	progressReduced   = 50
)

// pipeline runs detection and reduction, then transformation, for one run.
func (s *Scheduler) pipeline(ctx context.Context, r *run) (*models.Result, error) {
	id := r.job.ID
	if !s.locator.PathExists(r.input) {
		return nil, fmt.Errorf("%w: %s", ErrInputMissing, r.input)
	}

	s.setProgress(r, progressDetecting)
	var info media.Info
	err := s.phase(ctx, "probe", func(ctx context.Context) error {
		var err error
		info, err = s.engine.Probe(ctx, r.input)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := media.ValidateInput(info); err != nil {
		return nil, fmt.Errorf("probe %s: %w", r.input, err)
	}

	// A file without an audio stream has nothing to detect; it is copied unchanged.
	var diagnostic string
	if info.HasAudio {
		err = s.phase(ctx, "detect", func(ctx context.Context) error {
			var err error
			diagnostic, err = s.engine.Detect(ctx, r.input, s.cfg.detect)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	silences, err := Reduce(media.ParseSilenceLog(diagnostic), s.cfg.mergeGap, s.cfg.maxSilences)
	if err != nil {
		return nil, err
	}
	s.setProgress(r, progressReduced)

	keep, err := interval.KeepSegments(silences, info.DurationSeconds)
	if err != nil {
		return nil, err
	}
	passThrough := len(silences) == 0 || len(keep) == 0
	if passThrough {
		err = s.phase(ctx, "copy", func(ctx context.Context) error {
			return s.engine.Copy(ctx, r.input, r.output)
		})
	} else {
		err = s.phase(ctx, "transform", func(ctx context.Context) error {
			return s.engine.Transform(ctx, r.input, keep, info.HasAudio, r.output)
		})
	}
	if err != nil {
		return nil, err
	}

	var out media.Info
	err = s.phase(ctx, "probe_output", func(ctx context.Context) error {
		var err error
		out, err = s.engine.Probe(ctx, r.output)
		return err
	})
	if err != nil {
		return nil, err
	}

	res := buildResult(info, out, len(silences), passThrough)
	if s.publisher != nil {
		err = s.phase(ctx, "publish", func(ctx context.Context) error {
			url, err := s.publisher.Publish(ctx, id, r.output)
			res.RemoteURL = url
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Reduce validates parsed silences, merges those closer than mergeGap
// seconds and keeps at most limit of them.
func Reduce(silences []interval.Interval, mergeGap float64, limit int) ([]interval.Interval, error) {
	if err := interval.ValidateList(silences); err != nil {
		return nil, err
	}
	merged, err := interval.Merge(silences, mergeGap)
	if err != nil {
		return nil, err
	}
	return interval.Cap(merged, limit)
}

func buildResult(in, out media.Info, removed int, passThrough bool) *models.Result {
	res := &models.Result{
		OriginalDuration: in.DurationSeconds,
		FinalDuration:    out.DurationSeconds,
		SilencesRemoved:  removed,
		PassThrough:      passThrough,
		Codec:            out.Codec,
		Resolution:       out.Resolution(),
		BitRate:          out.BitRate,
		SizeBytes:        out.SizeBytes,
	}
	if passThrough {
		res.SilencesRemoved = 0
		return res
	}
	res.TimeSaved = in.DurationSeconds - out.DurationSeconds
	if in.DurationSeconds > 0 {
		res.PercentageSaved = res.TimeSaved / in.DurationSeconds * 100
	}
	return res
}

// phase runs fn under the per-phase timeout and records its duration.
func (s *Scheduler) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	if s.cfg.phaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.phaseTimeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	telemetry.PhaseDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
