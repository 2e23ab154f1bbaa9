// Package pipeline ties the resolver, the tracking machine, the smoother and
// the compositor into the per-session overlay pipeline. One Pipeline is built
// per try-on session; it is driven from a single goroutine.
package pipeline

import (
	"fmt"
	"image"

	"github.com/glasster/glasster/internal/core/events/bus"
	"github.com/glasster/glasster/internal/core/observability/log"
	"github.com/glasster/glasster/internal/tryon/asset"
	"github.com/glasster/glasster/internal/tryon/compositor"
	"github.com/glasster/glasster/internal/tryon/geometry"
	"github.com/glasster/glasster/internal/tryon/landmark"
	"github.com/glasster/glasster/internal/tryon/smoothing"
	"github.com/glasster/glasster/internal/tryon/tracking"
)

const (
	EventTrackingAcquired = "tracking.acquired"
	EventTrackingLost     = "tracking.lost"
)

// TrackingEvent is the payload of tracking transition events.
type TrackingEvent struct {
	From  tracking.State
	To    tracking.State
	Frame uint64
}

type Config struct {
	Geometry geometry.Config  `yaml:"geometry" envPrefix:"GEOMETRY_"`
	Indices  landmark.Indices `yaml:"indices" envPrefix:"INDICES_"`

	// Alpha is the smoothing factor in (0, 1].
	Alpha      float64 `yaml:"alpha" env:"ALPHA" validate:"gt=0,lte=1"`
	WrapAngles bool    `yaml:"wrap_angles" env:"WRAP_ANGLES"`

	// ResolveWhileLoading keeps tracking (with the fallback aspect) while the
	// selected overlay is loading, so smoothing does not restart once it is
	// ready. Nothing is drawn in the meantime.
	ResolveWhileLoading bool `yaml:"resolve_while_loading" env:"RESOLVE_WHILE_LOADING"`
}

func DefaultConfig() Config {
	return Config{
		Geometry: geometry.DefaultConfig(),
		Indices:  landmark.DefaultIndices(),
		Alpha:    smoothing.DefaultAlpha,
	}
}

type Option func(*Pipeline)

// WithEventBus publishes tracking transitions to topic.
func WithEventBus(b bus.EventBus, topic string) Option {
	return func(p *Pipeline) {
		p.bus = b
		p.topic = topic
	}
}

func WithLogger(l log.Log) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

func WithCompositor(c *compositor.Compositor) Option {
	return func(p *Pipeline) {
		p.compositor = c
	}
}

type Pipeline struct {
	cfg        Config
	resolver   *geometry.Resolver
	machine    *tracking.Machine
	compositor *compositor.Compositor

	viewport geometry.Viewport
	last     *geometry.Placement
	frame    uint64

	bus    bus.EventBus
	topic  string
	logger log.Log
}

func New(cfg Config, opts ...Option) (*Pipeline, error) {
	resolver, err := geometry.NewResolver(cfg.Geometry)
	if err != nil {
		return nil, err
	}

	var smoothOpts []smoothing.Option
	if cfg.WrapAngles {
		smoothOpts = append(smoothOpts, smoothing.WithAngleWrap(true))
	}
	smoother, err := smoothing.New(cfg.Alpha, smoothOpts...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		cfg:      cfg,
		resolver: resolver,
		machine:  tracking.NewMachine(smoother),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.NewNop()
	}
	if p.compositor == nil {
		p.compositor = compositor.New()
	}
	p.machine.OnTransition(p.onTransition)
	return p, nil
}

func (p *Pipeline) Config() Config {
	return p.cfg
}

// Reset returns the pipeline to NoFace and forgets the smoothed placement.
func (p *Pipeline) Reset() {
	p.machine.Reset()
	p.last = nil
}

// Resize records the render surface size used for the next frames.
func (p *Pipeline) Resize(vp geometry.Viewport) {
	if vp == p.viewport {
		return
	}
	p.logger.Debug("Viewport resized",
		log.Int("width", vp.Width),
		log.Int("height", vp.Height))
	p.viewport = vp
}

func (p *Pipeline) Viewport() geometry.Viewport {
	return p.viewport
}

func (p *Pipeline) State() tracking.State {
	return p.machine.State()
}

// Last returns the placement drawn by the most recent frame.
func (p *Pipeline) Last() (geometry.Placement, bool) {
	if p.last == nil {
		return geometry.Placement{}, false
	}
	return *p.last, true
}

// ProcessFrame runs one frame. anchors is nil when the landmark source found
// no face. The returned placement is drawable only when ok is true.
func (p *Pipeline) ProcessFrame(anchors *geometry.AnchorSet, overlay *asset.Overlay, vp geometry.Viewport) (geometry.Placement, bool) {
	p.frame++
	p.Resize(vp)
	p.last = nil

	if anchors == nil || vp.Empty() {
		p.machine.Observe(nil)
		return geometry.Placement{}, false
	}

	ready := overlay.Ready()
	if !ready && !p.cfg.ResolveWhileLoading {
		p.machine.Observe(nil)
		return geometry.Placement{}, false
	}

	var sizing geometry.Sizing
	if overlay != nil {
		sizing = overlay.Sizing
	}
	raw, err := p.resolver.Resolve(*anchors, overlay.AspectRatio(p.cfg.Geometry.FallbackAspect), sizing)
	if err != nil {
		p.logger.Debug("No placement for frame", log.Uint64("frame", p.frame), log.Error(err))
		p.machine.Observe(nil)
		return geometry.Placement{}, false
	}

	smoothed, _ := p.machine.Observe(&raw)
	if !ready {
		return geometry.Placement{}, false
	}
	p.last = &smoothed
	return smoothed, true
}

// ProcessLandmarks extracts the anchors of the primary face and runs
// ProcessFrame.
func (p *Pipeline) ProcessLandmarks(result landmark.Result, overlay *asset.Overlay, vp geometry.Viewport) (geometry.Placement, bool) {
	face, ok := result.Primary()
	if !ok {
		return p.ProcessFrame(nil, overlay, vp)
	}
	anchors, ok := landmark.Anchors(face, p.cfg.Indices, vp)
	if !ok {
		return p.ProcessFrame(nil, overlay, vp)
	}
	return p.ProcessFrame(&anchors, overlay, vp)
}

// Render draws the last placement onto surface, clearing it first. The
// surface follows the pipeline viewport.
func (p *Pipeline) Render(surface *compositor.Surface, overlay *asset.Overlay) {
	if surface.Viewport() != p.viewport {
		surface.Resize(p.viewport)
	}
	var img image.Image
	if overlay.Ready() {
		img = overlay.Image
	}
	p.compositor.Render(surface, img, p.last)
}

// Snapshot renders the current overlay over a still photo.
func (p *Pipeline) Snapshot(background image.Image, overlay *asset.Overlay) *image.RGBA {
	surface := compositor.NewSurface(p.viewport)
	p.Render(surface, overlay)
	return p.compositor.Snapshot(background, surface)
}

func (p *Pipeline) onTransition(from, to tracking.State) {
	p.logger.Debug("Tracking state changed",
		log.String("from", from.String()),
		log.String("to", to.String()),
		log.Uint64("frame", p.frame))

	if p.bus == nil {
		return
	}
	eventType := EventTrackingLost
	if to == tracking.Tracking {
		eventType = EventTrackingAcquired
	}
	evt := bus.NewEvent(eventType, p.topic, TrackingEvent{From: from, To: to, Frame: p.frame})
	if err := p.bus.PublishToTopic(p.topic, evt); err != nil {
		p.logger.Warn("Tracking event handler failed", log.Error(err))
	}
}
