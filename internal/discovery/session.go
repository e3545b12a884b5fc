// Package discovery is the walking-discovery engine: it follows the walker's
// location, keeps the posts of the vicinity cached, picks the nearest unspoken
// post of the active category within the audio threshold and narrates it.
//
// A Session runs one goroutine that owns all session state. Location updates,
// fetch results, playback completions and caller commands reach it as events
// and are applied in order.
package discovery

import (
	"context"
	stderrors "errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/logging"
	"github.com/locial/locial/internal/metrics"
	"github.com/locial/locial/internal/post"
)

// ErrClosed is returned by Session methods after Close.
var ErrClosed = stderrors.New("discovery session closed")

// Defaults for Options.
const (
	DefaultThresholdMeters = 25.0
	DefaultFetchTimeout    = 10 * time.Second
	DefaultEventBuffer     = 32
)

// State is the walker-facing state of a session.
type State struct {
	CurrentLocation *geo.Coordinate `json:"current_location,omitempty"`
	ActiveCategory  string          `json:"active_category"`
	ThresholdMeters float64         `json:"threshold_meters"`
}

// Options configures a Session.
type Options struct {
	// Posts serves the catalog fetches. Required.
	Posts PostSource

	// Location delivers the walker's position. Required.
	Location LocationSource

	// Speaker narrates posts. Nil means narration completes instantly.
	Speaker Speaker

	// ThresholdMeters is the initial audio distance threshold.
	ThresholdMeters float64

	// RefreshMeters re-fetches the catalog once the walker is this far from
	// where it was last fetched. 0 disables movement refreshes.
	RefreshMeters float64

	// Category is the initially active category, empty for none.
	Category string

	FetchTimeout time.Duration
	EventBuffer  int
}

// Session is one walker's discovery session.
type Session struct {
	id     string
	opts   Options
	cmds   chan func(context.Context)
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	log    zerolog.Logger

	// Owned by the loop goroutine.
	state        State
	tracker      *Tracker
	catalog      *Catalog
	sequencer    *Sequencer
	candidates   []Candidate
	fetchResults chan FetchResult
	fetchCancel  context.CancelFunc
	fetchWG      sync.WaitGroup
	fetchCenter  *geo.Coordinate
	locationErr  string
	fetchErr     string
	playbackErr  string
}

// Start validates opts, subscribes to the location source and starts the
// session loop. The session ends when ctx is done or Close is called.
func Start(ctx context.Context, opts Options) (*Session, error) {
	if opts.Posts == nil {
		return nil, errors.NewInvalidRequest("post source is required")
	}
	if opts.Location == nil {
		return nil, errors.NewInvalidRequest("location source is required")
	}
	if opts.ThresholdMeters == 0 {
		opts.ThresholdMeters = DefaultThresholdMeters
	}
	if err := validThreshold(opts.ThresholdMeters); err != nil {
		return nil, err
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.Speaker == nil {
		opts.Speaker = SpeakerFunc(func(context.Context, string) error { return nil })
	}

	id := uuid.NewString()
	s := &Session{
		id:           id,
		opts:         opts,
		cmds:         make(chan func(context.Context)),
		events:       make(chan Event, opts.EventBuffer),
		done:         make(chan struct{}),
		log:          logging.With().Str("component", "discovery").Str("session_id", id).Logger(),
		tracker:      NewTracker(opts.Location),
		catalog:      &Catalog{},
		sequencer:    NewSequencer(opts.Speaker),
		fetchResults: make(chan FetchResult),
		state: State{
			ActiveCategory:  strings.TrimSpace(opts.Category),
			ThresholdMeters: opts.ThresholdMeters,
		},
	}

	ctx, s.cancel = context.WithCancel(ctx)
	updates, err := s.tracker.Start(ctx)
	if err != nil {
		s.cancel()
		s.sequencer.Close()
		return nil, err
	}

	metrics.TrackSession(true)
	s.log.Info().
		Str("category", s.state.ActiveCategory).
		Float64("threshold_m", s.state.ThresholdMeters).
		Msg("discovery session started")

	go s.run(ctx, updates)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Events delivers state changes. When the consumer falls behind the oldest
// events are dropped. The channel is closed when the session ends.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once the session has fully stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close ends the session, releasing the location subscription and waiting
// for every fetch and playback goroutine.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// SetCategory selects the active category. A different category starts a
// new category session: the spoken set is cleared and playback stops. The
// catalog is re-fetched for the category either way.
func (s *Session) SetCategory(category string) error {
	category = strings.TrimSpace(category)
	return s.do(func(ctx context.Context) {
		if !post.SameCategory(category, s.state.ActiveCategory) {
			s.sequencer.Reset()
			s.playbackErr = ""
			s.log.Info().Str("category", category).Msg("category selected")
		}
		s.state.ActiveCategory = category
		s.startFetch(ctx)
		s.evaluate()
		s.emit(EventCategory, "")
	})
}

// SetThreshold changes the audio distance threshold.
func (s *Session) SetThreshold(meters float64) error {
	if err := validThreshold(meters); err != nil {
		return err
	}
	return s.do(func(context.Context) {
		s.state.ThresholdMeters = meters
		s.evaluate()
		s.emit(EventState, "")
	})
}

// SetInterval changes the observation interval of a polling location source.
func (s *Session) SetInterval(d time.Duration) error {
	src, ok := s.opts.Location.(interface{ SetInterval(time.Duration) error })
	if !ok {
		return errors.NewInvalidRequest("location source is push-based and has no interval")
	}
	if err := src.SetInterval(d); err != nil {
		return errors.NewInvalidRequest(err.Error())
	}
	return nil
}

// Refresh re-fetches the catalog around the current location.
func (s *Session) Refresh() error {
	return s.do(func(ctx context.Context) {
		s.startFetch(ctx)
		s.emit(EventState, "")
	})
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := s.do(func(context.Context) { reply <- s.snapshot() }); err != nil {
		return Snapshot{}, err
	}
	return <-reply, nil
}

// do runs fn on the loop goroutine.
func (s *Session) do(fn func(context.Context)) error {
	select {
	case s.cmds <- fn:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) run(ctx context.Context, updates <-chan LocationUpdate) {
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				updates = nil
				s.locationErr = "location updates stopped"
				s.emit(EventStatus, "")
				continue
			}
			s.onLocation(ctx, u)
		case r := <-s.fetchResults:
			s.onFetch(r)
		case pb := <-s.sequencer.Results():
			s.onPlayback(pb)
		case fn := <-s.cmds:
			fn(ctx)
		}
	}
}

func (s *Session) shutdown() {
	if s.fetchCancel != nil {
		s.fetchCancel()
	}
	s.fetchWG.Wait()
	s.sequencer.Close()
	s.tracker.Stop()

	metrics.TrackSession(false)
	s.log.Info().Int("spoken", s.sequencer.Spoken().Len()).Msg("discovery session closed")

	close(s.events)
	close(s.done)
}

func (s *Session) onLocation(ctx context.Context, u LocationUpdate) {
	metrics.RecordLocation(u.Err)

	if !s.tracker.Apply(u) {
		err := errors.As(s.tracker.Err())
		s.locationErr = err.Message
		s.log.Warn().Str("code", string(err.Code)).Msg(err.Message)
		s.emit(EventStatus, "")
		return
	}

	cur, _ := s.tracker.Current()
	s.state.CurrentLocation = &cur
	s.locationErr = ""

	if s.needsFetch(cur) {
		s.startFetch(ctx)
	}
	s.evaluate()
	s.emit(EventLocation, "")
}

// needsFetch reports whether the catalog should be (re)loaded for c.
func (s *Session) needsFetch(c geo.Coordinate) bool {
	if s.fetchCenter == nil {
		return true
	}
	if !s.catalog.Valid() && !s.catalog.Pending() {
		return true
	}
	return s.opts.RefreshMeters > 0 && geo.Haversine(*s.fetchCenter, c) > s.opts.RefreshMeters
}

// startFetch requests the catalog for the current location and active
// category. Any fetch still in flight is cancelled; its result is stale.
func (s *Session) startFetch(ctx context.Context) {
	cur := s.state.CurrentLocation
	if cur == nil {
		// Fetch on the first fix.
		s.fetchCenter = nil
		return
	}

	req := s.catalog.Request(*cur, s.state.ActiveCategory)
	center := *cur
	s.fetchCenter = &center

	if s.fetchCancel != nil {
		s.fetchCancel()
	}
	fctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	s.fetchCancel = cancel

	s.fetchWG.Add(1)
	go func() {
		defer s.fetchWG.Done()
		defer cancel()

		res := Fetch(fctx, s.opts.Posts, req)
		select {
		case s.fetchResults <- res:
		case <-ctx.Done():
		}
	}()

	s.log.Debug().
		Uint64("seq", req.Seq).
		Str("kind", req.Kind()).
		Str("center", req.Center.String()).
		Msg("catalog fetch started")
}

func (s *Session) onFetch(r FetchResult) {
	if !s.catalog.Apply(r) {
		metrics.RecordFetch(r.Request.Kind(), r.Duration, r.Err, true)
		s.log.Debug().Uint64("seq", r.Request.Seq).Msg("stale catalog fetch discarded")
		return
	}
	metrics.RecordFetch(r.Request.Kind(), r.Duration, r.Err, false)

	if r.Err != nil {
		err := errors.As(r.Err)
		s.fetchErr = err.Message
		s.log.Warn().Err(r.Err).Uint64("seq", r.Request.Seq).Msg("catalog fetch failed")
	} else {
		s.fetchErr = ""
		s.log.Debug().
			Uint64("seq", r.Request.Seq).
			Int("posts", len(r.Posts)).
			Dur("took", r.Duration).
			Msg("catalog updated")
	}

	s.evaluate()
	s.emit(EventCatalog, "")
}

func (s *Session) onPlayback(pb Playback) {
	if !s.sequencer.Finish(pb) {
		return
	}

	if pb.Err != nil && !stderrors.Is(pb.Err, context.Canceled) {
		err := errors.NewPlayback(pb.PostID, pb.Err)
		s.playbackErr = err.Message
		s.log.Warn().Err(pb.Err).Str("post_id", pb.PostID).Msg("narration failed")
	} else {
		s.playbackErr = ""
	}
	s.emit(EventNarrationFinished, pb.PostID)

	// Idle again: the next candidate may be narrated.
	s.evaluate()
}

// evaluate recomputes the candidates and lets the sequencer act on them.
func (s *Session) evaluate() {
	s.candidates = Evaluate(s.state.CurrentLocation, s.catalog.Posts(), s.sequencer.Spoken(), s.state.ActiveCategory, s.state.ThresholdMeters)
	if s.state.CurrentLocation == nil {
		return
	}

	p, started := s.sequencer.Consider(s.candidates)
	if !started {
		return
	}
	s.log.Info().
		Str("post_id", p.ID).
		Str("category", p.Category).
		Msg("narrating post")

	// The spoken set changed.
	s.candidates = Evaluate(s.state.CurrentLocation, s.catalog.Posts(), s.sequencer.Spoken(), s.state.ActiveCategory, s.state.ThresholdMeters)
	s.emit(EventNarrationStarted, p.ID)
}

// status returns the message shown to the walker, most urgent first.
func (s *Session) status() string {
	for _, msg := range []string{s.locationErr, s.fetchErr, s.playbackErr} {
		if msg != "" {
			return msg
		}
	}
	if s.state.CurrentLocation == nil {
		return "waiting for location"
	}
	if s.catalog.Pending() && !s.catalog.Valid() {
		return "loading posts"
	}
	return ""
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		SessionID:      s.id,
		State:          s.state,
		Categories:     append([]string(nil), s.catalog.Categories()...),
		Posts:          append([]post.Post(nil), s.catalog.Posts()...),
		CatalogValid:   s.catalog.Valid(),
		CatalogPending: s.catalog.Pending(),
		Spoken:         s.sequencer.Spoken().IDs(),
		Candidates:     append([]Candidate(nil), s.candidates...),
		Status:         s.status(),
	}
	if s.state.CurrentLocation != nil {
		c := *s.state.CurrentLocation
		snap.State.CurrentLocation = &c
	}
	if p, ok := s.sequencer.Speaking(); ok {
		snap.Speaking = true
		snap.SpeakingPostID = p.ID
	}
	return snap
}

// emit publishes an event, dropping the oldest queued one if the consumer
// is behind.
func (s *Session) emit(kind EventKind, postID string) {
	ev := Event{Kind: kind, PostID: postID, Snapshot: s.snapshot()}
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case <-s.events:
	default:
	}
	select {
	case s.events <- ev:
	default:
	}
}

func validThreshold(m float64) error {
	if math.IsNaN(m) || math.IsInf(m, 0) || m <= 0 {
		return errors.NewInvalidRequest("threshold must be a positive number of meters")
	}
	return nil
}
