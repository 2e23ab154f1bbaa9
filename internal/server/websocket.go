package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/glasster/glasster/internal/core/observability/log"
	"github.com/glasster/glasster/internal/tryon/asset"
	"github.com/glasster/glasster/internal/tryon/frameloop"
	"github.com/glasster/glasster/internal/tryon/geometry"
	"github.com/glasster/glasster/internal/tryon/landmark"
	"github.com/glasster/glasster/internal/tryon/pipeline"
	"github.com/glasster/glasster/internal/tryon/tracking"
	"github.com/glasster/glasster/pkg/generic"
)

// Message types of the try-on protocol.
const (
	MessageFrame     = "frame"
	MessageResize    = "resize"
	MessageSelect    = "select"
	MessageReset     = "reset"
	MessageSession   = "session"
	MessagePlacement = "placement"
	MessageError     = "error"
)

// ClientMessage is any message a browser sends on /ws/tryon.
type ClientMessage struct {
	Type string `json:"type"`

	// frame
	Seq       uint64             `json:"seq,omitempty"`
	Landmarks [][]landmark.Point `json:"landmarks,omitempty"`
	Error     string             `json:"error,omitempty"`

	// frame, resize
	Viewport *geometry.Viewport `json:"viewport,omitempty"`

	// select
	Product string `json:"product,omitempty"`
}

// PlacementMessage answers every processed frame. Placement is null while
// nothing is drawn.
type PlacementMessage struct {
	Type      string              `json:"type"`
	Seq       uint64              `json:"seq"`
	State     tracking.State      `json:"state"`
	Placement *geometry.Placement `json:"placement"`
}

// SessionMessage is sent once after the upgrade.
type SessionMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Product string `json:"product"`
	Render  bool   `json:"render"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// maxPooledFrameBuffer bounds the buffers frameBuffers keeps.
const maxPooledFrameBuffer = 4 << 20

// frameBuffers holds encoded frames until they are written.
var frameBuffers = generic.NewBoundedPool(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	(*bytes.Buffer).Reset,
	func(b *bytes.Buffer) bool { return b.Cap() <= maxPooledFrameBuffer },
)

// frameInput is the mailbox payload of one frame message.
type frameInput struct {
	seq    uint64
	result landmark.Result
	err    string
}

// Session is one websocket try-on session. The read goroutine feeds the
// mailbox and applies control messages; the frame loop goroutine owns the
// pipeline.
type Session struct {
	ID          string
	ConnectedAt time.Time

	server   *Server
	conn     *websocket.Conn
	logger   log.Log
	pipeline *pipeline.Pipeline
	mailbox  *frameloop.Mailbox
	loop     *frameloop.Loop
	render   bool

	mu        sync.Mutex
	selection *asset.Selection
	viewport  geometry.Viewport

	resetPending atomic.Bool
	lastSeen     atomic.Int64
	closed       atomic.Bool

	writeMu sync.Mutex
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(s.config.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	return slices.Contains(s.config.AllowedOrigins, origin)
}

func (s *Server) handleTryOn(w http.ResponseWriter, r *http.Request) {
	if err := s.admitSession(); err != nil {
		if errors.Is(err, ErrMaxSessionsReached) {
			s.logger.Warn("Maximum sessions reached, rejecting connection",
				log.String("remote_addr", r.RemoteAddr))
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.releaseSession()

	vp, err := viewportFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed",
			log.String("remote_addr", r.RemoteAddr),
			log.Error(err))
		return
	}

	session, err := s.newSession(conn, r.URL.Query().Get("render") == "png", vp)
	if err != nil {
		s.logger.Error("Failed to create session", log.Error(err))
		_ = conn.Close()
		return
	}

	if !s.registerSession(session) {
		s.logger.Debug("Server stopping, session dropped", log.String("session_id", session.ID))
		return
	}
	defer s.sessions.Delete(session.ID)

	s.logger.Info("Session connected",
		log.String("session_id", session.ID),
		log.String("remote_addr", r.RemoteAddr),
		log.Int64("total_sessions", atomic.LoadInt64(&s.sessionCount)))

	session.serve(r.Context())

	s.logger.Info("Session disconnected",
		log.String("session_id", session.ID),
		log.Duration("duration", time.Since(session.ConnectedAt)))
}

func viewportFromQuery(r *http.Request) (geometry.Viewport, error) {
	q := r.URL.Query()
	var vp geometry.Viewport
	for _, f := range []struct {
		key string
		dst *int
	}{{"width", &vp.Width}, {"height", &vp.Height}} {
		raw := q.Get(f.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return geometry.Viewport{}, fmt.Errorf("%w: %s=%q", ErrInvalidMessage, f.key, raw)
		}
		*f.dst = n
	}
	return vp, nil
}

func (s *Server) newSession(conn *websocket.Conn, render bool, vp geometry.Viewport) (*Session, error) {
	id := uuid.NewString()
	logger := s.logger.With(log.String("session_id", id))

	p, err := pipeline.New(s.config.Pipeline,
		pipeline.WithEventBus(s.events, id),
		pipeline.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:          id,
		ConnectedAt: time.Now(),
		server:      s,
		conn:        conn,
		logger:      logger,
		pipeline:    p,
		mailbox:     frameloop.NewMailbox(),
		render:      render || s.config.Loop.Render,
		selection:   asset.NewSelection(s.catalog),
		viewport:    vp,
	}
	session.touch()

	loopCfg := s.config.Loop
	loopCfg.Render = session.render
	session.loop = frameloop.New(p, frameloop.Deps{
		Source:    session.mailbox,
		Detector:  session,
		Assets:    session,
		Viewport:  session,
		Presenter: session,
	}, loopCfg, logger)

	return session, nil
}

// serve runs the session until the connection ends.
func (ss *Session) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan error, 1)
	go func() { loopDone <- ss.loop.Run(ctx) }()

	if err := ss.send(SessionMessage{
		Type:    MessageSession,
		ID:      ss.ID,
		Product: ss.Selected(),
		Render:  ss.render,
	}); err == nil {
		ss.readLoop()
	}

	ss.Close()
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		ss.logger.Warn("Frame loop ended with error", log.Error(err))
	}
	ss.server.events.DropTopic(ss.ID)

	st := ss.loop.Stats()
	ss.logger.Debug("Session stats",
		log.Uint64("frames", st.Frames),
		log.Uint64("tracked", st.Tracked),
		log.Uint64("no_face", st.NoFace),
		log.Uint64("detector_errors", st.DetectorErrors),
		log.Uint64("skipped", ss.mailbox.Skipped()))
}

func (ss *Session) readLoop() {
	ss.conn.SetReadLimit(ss.server.config.MaxMessageSize)
	for {
		mt, data, err := ss.conn.ReadMessage()
		if err != nil {
			if !ss.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ss.logger.Warn("Failed to read message", log.Error(err))
			}
			return
		}
		ss.touch()

		if mt != websocket.TextMessage {
			err = fmt.Errorf("%w: binary message", ErrInvalidMessage)
		} else {
			err = ss.handleMessage(data)
		}
		if err != nil {
			ss.logger.Debug("Rejected message", log.Error(err))
			if sendErr := ss.send(ErrorMessage{Type: MessageError, Message: err.Error()}); sendErr != nil {
				return
			}
		}
	}
}

func (ss *Session) handleMessage(data []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch msg.Type {
	case MessageFrame:
		if msg.Viewport != nil {
			if err := ss.Resize(*msg.Viewport); err != nil {
				return err
			}
		}
		ss.mailbox.Offer(frameInput{
			seq:    msg.Seq,
			result: landmark.Result{Faces: msg.Landmarks},
			err:    msg.Error,
		})
	case MessageResize:
		if msg.Viewport == nil {
			return fmt.Errorf("%w: resize without viewport", ErrInvalidMessage)
		}
		return ss.Resize(*msg.Viewport)
	case MessageSelect:
		return ss.Select(msg.Product)
	case MessageReset:
		ss.resetPending.Store(true)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}
	return nil
}

func (ss *Session) Resize(vp geometry.Viewport) error {
	if vp.Width < 0 || vp.Height < 0 {
		return fmt.Errorf("%w: viewport %dx%d", ErrInvalidMessage, vp.Width, vp.Height)
	}
	ss.mu.Lock()
	ss.viewport = vp
	ss.mu.Unlock()
	return nil
}

// Select switches the product. The previous overlay stays on screen until
// the new one is ready.
func (ss *Session) Select(id string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if err := ss.selection.Select(id); err != nil {
		return err
	}
	ss.logger.Debug("Product selected", log.String("product", id))
	return nil
}

func (ss *Session) Selected() string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.selection.Selected()
}

// Viewport implements frameloop.ViewportProvider.
func (ss *Session) Viewport() geometry.Viewport {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.viewport
}

// Current implements frameloop.AssetProvider.
func (ss *Session) Current() *asset.Overlay {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.selection.Current()
}

// Detect implements frameloop.LandmarkSource. The landmarks were computed by
// the client; Detect hands them over on the loop goroutine, which is also
// where pending resets are applied.
func (ss *Session) Detect(_ context.Context, f frameloop.Frame) (landmark.Result, error) {
	if ss.resetPending.CompareAndSwap(true, false) {
		ss.pipeline.Reset()
	}
	in, ok := f.Payload.(frameInput)
	if !ok {
		return landmark.Result{}, fmt.Errorf("%w: payload %T", ErrInvalidMessage, f.Payload)
	}
	if in.err != "" {
		return landmark.Result{}, errors.New(in.err)
	}
	return in.result, nil
}

// Present implements frameloop.Presenter.
func (ss *Session) Present(_ context.Context, out frameloop.Output) error {
	in, _ := out.Frame.Payload.(frameInput)
	msg := PlacementMessage{Type: MessagePlacement, Seq: in.seq, State: out.State}
	if out.Drawn {
		placement := out.Placement
		msg.Placement = &placement
	}
	data, err := json.Marshal(msg)
	if err != nil {
		// the loop logs this and moves on to the next frame
		return fmt.Errorf("encode placement: %w", err)
	}
	if err := ss.write(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", frameloop.ErrStopped, err)
	}

	if !ss.render || out.Surface == nil {
		return nil
	}
	buf := frameBuffers.Get()
	defer frameBuffers.Put(buf)
	if err := out.Surface.EncodePNG(buf); err != nil {
		return err
	}
	if err := ss.write(websocket.BinaryMessage, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", frameloop.ErrStopped, err)
	}
	return nil
}

func (ss *Session) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ss.write(websocket.TextMessage, data)
}

func (ss *Session) write(messageType int, data []byte) error {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	if timeout := ss.server.config.WriteTimeout; timeout > 0 {
		_ = ss.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return ss.conn.WriteMessage(messageType, data)
}

func (ss *Session) touch() {
	ss.lastSeen.Store(time.Now().UnixNano())
}

func (ss *Session) LastSeen() time.Time {
	return time.Unix(0, ss.lastSeen.Load())
}

// Close ends the session. Safe to call more than once and from any
// goroutine.
func (ss *Session) Close() {
	if !ss.closed.CompareAndSwap(false, true) {
		return
	}
	ss.mailbox.Close()
	ss.loop.Stop()
	_ = ss.conn.Close()
}
