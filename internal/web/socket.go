package web

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/locial/locial/internal/discovery"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/logging"
	"github.com/locial/locial/internal/metrics"
	"github.com/locial/locial/internal/ops"
	"github.com/locial/locial/internal/speech"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024

	// ackGrace is added to the estimated reading time before an unacknowledged
	// utterance is given up on.
	ackGrace = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  4096,
	HandshakeTimeout: 10 * time.Second,
}

// Message types exchanged on /ws/discover.
const (
	msgLocation      = "location"
	msgLocationError = "location_error"
	msgCategory      = "category"
	msgThreshold     = "threshold"
	msgRefresh       = "refresh"
	msgSpoken        = "spoken"

	msgEvent  = "event"
	msgSpeak  = "speak"
	msgCancel = "cancel"
	msgError  = "error"
)

// clientMessage is a message from the browser.
type clientMessage struct {
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Code      string  `json:"code,omitempty"`
	Message   string  `json:"message,omitempty"`
	Category  string  `json:"category,omitempty"`
	Meters    float64 `json:"meters,omitempty"`
	ID        string  `json:"id,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// serverMessage is a message to the browser.
type serverMessage struct {
	Type  string           `json:"type"`
	Event *discovery.Event `json:"event,omitempty"`
	ID    string           `json:"id,omitempty"`
	Text  string           `json:"text,omitempty"`
	Error map[string]any   `json:"error,omitempty"`
}

// HandleDiscoverSocket handles GET /ws/discover. The browser pushes its
// location and controls; the server runs the discovery session and asks the
// browser to speak, acknowledging each utterance when playback ends.
func (h *Handlers) HandleDiscoverSocket(w http.ResponseWriter, r *http.Request) {
	threshold := parseFloatParam(r, "threshold", h.cfg.Discovery.ThresholdMeters)
	if threshold <= 0 {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("threshold must be positive"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	metrics.TrackWebSocket(true)
	defer metrics.TrackWebSocket(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sock := newSocket(conn, h.cfg.Speech.WordsPerMinute)
	src := discovery.NewChannelSource(8)
	sess, err := discovery.Start(ctx, discovery.Options{
		Posts:           ops.NewDBSource(h.db, h.cfg),
		Location:        src,
		Speaker:         sock,
		ThresholdMeters: threshold,
		RefreshMeters:   h.cfg.Catalog.RadiusMeters / 2,
		Category:        r.URL.Query().Get("category"),
	})
	if err != nil {
		sock.writeError(err)
		_ = conn.Close()
		return
	}
	sock.log = sock.log.With().Str("session_id", sess.ID()).Logger()
	sock.log.Info().Str("remote", r.RemoteAddr).Msg("discovery socket opened")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sock.writePump(gctx, sess.Events()) })
	g.Go(func() error { return sock.readPump(sess, src) })
	g.Go(func() error {
		<-gctx.Done()
		sock.close()
		return nil
	})

	err = g.Wait()
	sess.Close()
	<-sess.Done()
	sock.log.Info().AnErr("reason", err).Msg("discovery socket closed")
}

// socket is one browser connection. It implements discovery.Speaker by
// asking the browser to speak and waiting for its acknowledgement.
type socket struct {
	conn   *websocket.Conn
	send   chan serverMessage
	closed chan struct{}
	once   sync.Once
	wpm    int
	log    zerolog.Logger

	nextID  atomic.Uint64
	mu      sync.Mutex
	pending map[string]chan error
}

func newSocket(conn *websocket.Conn, wordsPerMinute int) *socket {
	return &socket{
		conn:    conn,
		send:    make(chan serverMessage, 64),
		closed:  make(chan struct{}),
		wpm:     wordsPerMinute,
		log:     logging.With().Str("component", "socket").Logger(),
		pending: make(map[string]chan error),
	}
}

func (s *socket) close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// enqueue queues m for the write pump. It reports false once the socket is closed.
func (s *socket) enqueue(m serverMessage) bool {
	select {
	case s.send <- m:
		return true
	case <-s.closed:
		return false
	}
}

func (s *socket) writeError(err error) {
	lErr := errors.As(err)
	if lErr == nil {
		lErr = errors.NewInternal(err)
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteJSON(serverMessage{Type: msgError, Error: apiError(lErr)})
}

// Speak implements discovery.Speaker.
func (s *socket) Speak(ctx context.Context, text string) error {
	id := strconv.FormatUint(s.nextID.Add(1), 10)
	done := make(chan error, 1)

	s.mu.Lock()
	s.pending[id] = done
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if !s.enqueue(serverMessage{Type: msgSpeak, ID: id, Text: text}) {
		return errors.NewUnavailable("socket closed")
	}

	timeout := speech.EstimateDuration(text, s.wpm) + ackGrace
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The next utterance is queued behind this cancel, so the browser
		// always stops the old one first.
		s.enqueue(serverMessage{Type: msgCancel, ID: id})
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("utterance %s not acknowledged within %s", id, timeout)
	case <-s.closed:
		return errors.NewUnavailable("socket closed")
	}
}

// acknowledge completes a pending utterance.
func (s *socket) acknowledge(id, errMsg string) {
	s.mu.Lock()
	done, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	var err error
	if errMsg != "" {
		err = stderrors.New(errMsg)
	}
	select {
	case done <- err:
	default:
	}
}

// readPump applies browser messages to the session until the connection ends.
func (s *socket) readPump(sess *discovery.Session, src *discovery.ChannelSource) error {
	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var m clientMessage
		if err := s.conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return err
		}
		if err := s.apply(m, sess, src); err != nil {
			if stderrors.Is(err, discovery.ErrClosed) {
				return err
			}
			lErr := errors.As(err)
			if lErr == nil {
				lErr = errors.NewInvalidRequest(err.Error())
			}
			if !s.enqueue(serverMessage{Type: msgError, Error: apiError(lErr)}) {
				return nil
			}
		}
	}
}

func (s *socket) apply(m clientMessage, sess *discovery.Session, src *discovery.ChannelSource) error {
	switch m.Type {
	case msgLocation:
		src.Push(geo.Coordinate{Latitude: m.Latitude, Longitude: m.Longitude})
	case msgLocationError:
		msg := strings.TrimSpace(m.Message)
		if m.Code == "denied" {
			if msg == "" {
				msg = "location permission denied"
			}
			src.Fail(errors.NewPermissionDenied(msg))
		} else {
			if msg == "" {
				msg = "location unavailable"
			}
			src.Fail(errors.NewUnavailable(msg))
		}
	case msgCategory:
		return sess.SetCategory(m.Category)
	case msgThreshold:
		return sess.SetThreshold(m.Meters)
	case msgRefresh:
		return sess.Refresh()
	case msgSpoken:
		s.acknowledge(m.ID, m.Error)
	default:
		return errors.NewInvalidRequest(fmt.Sprintf("unknown message type %q", m.Type))
	}
	return nil
}

// writePump forwards session events and queued messages to the browser and
// keeps the connection alive with pings.
func (s *socket) writePump(ctx context.Context, events <-chan discovery.Event) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(m serverMessage) error {
		if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return s.conn.WriteJSON(m)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return discovery.ErrClosed
			}
			if err := write(serverMessage{Type: msgEvent, Event: &ev}); err != nil {
				return err
			}
		case m := <-s.send:
			if err := write(m); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
