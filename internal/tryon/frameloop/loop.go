// Package frameloop drives a pipeline frame by frame: pull a frame, submit
// it to the landmark source, await the result, then resolve, smooth and
// render. Frames are never processed concurrently; a frame that arrives
// while the previous one is still in the landmark source is skipped by the
// source rather than queued.
package frameloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/glasster/glasster/internal/core/observability/log"
	"github.com/glasster/glasster/internal/tryon/compositor"
	"github.com/glasster/glasster/internal/tryon/pipeline"
)

// Source failures other than ErrStopped are retried with exponential
// backoff between these bounds.
const (
	minSourceBackoff = 10 * time.Millisecond
	maxSourceBackoff = time.Second
)

type Config struct {
	// MaxFPS caps the processing rate. Zero means as fast as the source
	// delivers.
	MaxFPS float64 `yaml:"max_fps" env:"MAX_FPS" validate:"gte=0"`
	// Render composites the overlay layer on every frame.
	Render bool `yaml:"render" env:"RENDER"`
}

type Deps struct {
	Source    FrameSource
	Detector  LandmarkSource
	Assets    AssetProvider
	Viewport  ViewportProvider
	Presenter Presenter
}

type Stats struct {
	Frames         uint64
	Tracked        uint64
	NoFace         uint64
	DetectorErrors uint64
	SourceErrors   uint64
	Discarded      uint64
}

type Loop struct {
	pipeline *pipeline.Pipeline
	deps     Deps
	surface  *compositor.Surface
	limiter  *rate.Limiter
	logger   log.Log

	running atomic.Bool
	stopped atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc

	frames         atomic.Uint64
	tracked        atomic.Uint64
	noFace         atomic.Uint64
	detectorErrors atomic.Uint64
	sourceErrors   atomic.Uint64
	discarded      atomic.Uint64
}

func New(p *pipeline.Pipeline, deps Deps, cfg Config, logger log.Log) *Loop {
	if logger == nil {
		logger = log.NewNop()
	}
	l := &Loop{
		pipeline: p,
		deps:     deps,
		logger:   logger.With(log.String("component", "frameloop")),
	}
	if cfg.MaxFPS > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.MaxFPS), 1)
	}
	if cfg.Render {
		l.surface = compositor.NewSurface(p.Viewport())
	}
	return l
}

// Run processes frames until the source stops, Stop is called or ctx is
// done. Stop and a dead source end Run with a nil error. Landmark requests
// already in flight are not cancelled by Stop; their results are discarded.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)

	pullCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	defer cancel()

	l.logger.Debug("Frame loop started")
	defer l.logger.Debug("Frame loop stopped", log.Uint64("frames", l.frames.Load()))

	var backoff time.Duration
	for {
		if l.stopped.Load() || !l.deps.Source.Live() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if l.limiter != nil {
			if err := l.limiter.Wait(pullCtx); err != nil {
				return l.endErr(ctx)
			}
		}

		frame, err := l.deps.Source.Next(pullCtx)
		if err != nil {
			if errors.Is(err, ErrStopped) || l.stopped.Load() {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.sourceErrors.Add(1)
			backoff = min(max(2*backoff, minSourceBackoff), maxSourceBackoff)
			l.logger.Warn("Frame source failed", log.Duration("retry_in", backoff), log.Error(err))
			if !sleep(pullCtx, backoff) {
				return l.endErr(ctx)
			}
			continue
		}
		backoff = 0

		if err := l.step(ctx, frame); err != nil {
			return nil
		}
	}
}

// step runs one frame. It returns ErrStopped when the loop should end.
func (l *Loop) step(ctx context.Context, frame Frame) error {
	result, err := l.deps.Detector.Detect(ctx, frame)
	if err != nil {
		l.detectorErrors.Add(1)
		l.logger.Warn("Landmark source failed, treating frame as no face",
			log.Uint64("seq", frame.Seq),
			log.Error(err))
		result.Faces = nil
	}

	if l.stopped.Load() || !l.deps.Source.Live() {
		l.discarded.Add(1)
		return ErrStopped
	}

	overlay := l.deps.Assets.Current()
	placement, drawn := l.pipeline.ProcessLandmarks(result, overlay, l.deps.Viewport.Viewport())

	out := Output{
		Frame:     frame,
		State:     l.pipeline.State(),
		Placement: placement,
		Drawn:     drawn,
	}
	if l.surface != nil {
		l.pipeline.Render(l.surface, overlay)
		out.Surface = l.surface
	}

	l.frames.Add(1)
	if drawn {
		l.tracked.Add(1)
	} else {
		l.noFace.Add(1)
	}

	if err := l.deps.Presenter.Present(ctx, out); err != nil {
		if errors.Is(err, ErrStopped) {
			return ErrStopped
		}
		l.logger.Warn("Presenter failed", log.Uint64("seq", frame.Seq), log.Error(err))
	}
	return nil
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Loop) endErr(ctx context.Context) error {
	if l.stopped.Load() {
		return nil
	}
	return ctx.Err()
}

// Stop ends Run after the current frame. Safe to call more than once.
func (l *Loop) Stop() {
	if !l.stopped.CompareAndSwap(false, true) {
		return
	}
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()
}

func (l *Loop) Stats() Stats {
	return Stats{
		Frames:         l.frames.Load(),
		Tracked:        l.tracked.Load(),
		NoFace:         l.noFace.Load(),
		DetectorErrors: l.detectorErrors.Load(),
		SourceErrors:   l.sourceErrors.Load(),
		Discarded:      l.discarded.Load(),
	}
}
