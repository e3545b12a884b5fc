package discovery

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/locial/locial/internal/geo"
)

// ErrSourceStarted is returned when a location source is started twice.
var ErrSourceStarted = stderrors.New("location source already started")

// LocationUpdate is one observation from a location source. Err is set
// (usually a PERMISSION_DENIED or UNAVAILABLE LocialError) when the sensor
// could not produce a fix; the source keeps observing afterwards.
type LocationUpdate struct {
	Coordinate geo.Coordinate
	Err        error
	At         time.Time
}

// LocationSource delivers location updates until Stop is called or the
// context passed to Start is done. The returned channel is closed then.
type LocationSource interface {
	Start(ctx context.Context) (<-chan LocationUpdate, error)
	Stop()
}

// Sampler returns a single location fix.
type Sampler interface {
	Sample(ctx context.Context) (geo.Coordinate, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (geo.Coordinate, error)

func (f SamplerFunc) Sample(ctx context.Context) (geo.Coordinate, error) {
	return f(ctx)
}

// ChannelSource is a push-based source fed by its owner, e.g. a websocket
// carrying a browser's watchPosition updates. When the buffer is full the
// oldest pending update is dropped so the freshest fix always gets through.
type ChannelSource struct {
	mu      sync.Mutex
	ch      chan LocationUpdate
	quit    chan struct{}
	started bool
	stopped bool
}

// NewChannelSource creates a source buffering up to buffer updates.
func NewChannelSource(buffer int) *ChannelSource {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSource{
		ch:   make(chan LocationUpdate, buffer),
		quit: make(chan struct{}),
	}
}

func (s *ChannelSource) Start(ctx context.Context) (<-chan LocationUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, ErrSourceStarted
	}
	s.started = true

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.quit:
		}
	}()
	return s.ch, nil
}

// Push delivers a coordinate. It reports false once the source is stopped.
func (s *ChannelSource) Push(c geo.Coordinate) bool {
	return s.send(LocationUpdate{Coordinate: c, At: time.Now()})
}

// Fail delivers a sensor error.
func (s *ChannelSource) Fail(err error) bool {
	return s.send(LocationUpdate{Err: err, At: time.Now()})
}

func (s *ChannelSource) send(u LocationUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	select {
	case s.ch <- u:
		return true
	default:
	}
	// Full: drop the oldest pending update.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- u:
		return true
	default:
		return false
	}
}

// Stop closes the update channel. Safe to call more than once.
func (s *ChannelSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.quit)
	close(s.ch)
}

// PollSource turns a Sampler into a push source by sampling once on start
// and then at a fixed interval. The interval can be changed while running.
type PollSource struct {
	sampler Sampler

	mu       sync.Mutex
	interval time.Duration
	reset    chan time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPollSource creates a PollSource sampling every interval.
func NewPollSource(sampler Sampler, interval time.Duration) *PollSource {
	return &PollSource{
		sampler:  sampler,
		interval: interval,
		reset:    make(chan time.Duration, 1),
	}
}

// Sample takes one fix from the underlying sampler.
func (p *PollSource) Sample(ctx context.Context) (geo.Coordinate, error) {
	return p.sampler.Sample(ctx)
}

// Interval returns the current sampling interval.
func (p *PollSource) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// SetInterval changes the sampling interval, taking effect at the next tick.
func (p *PollSource) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", d)
	}
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()

	// Replace any reset the loop has not picked up yet.
	select {
	case <-p.reset:
	default:
	}
	select {
	case p.reset <- d:
	default:
	}
	return nil
}

func (p *PollSource) Start(ctx context.Context) (<-chan LocationUpdate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return nil, ErrSourceStarted
	}
	if p.interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", p.interval)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	ch := make(chan LocationUpdate, 1)
	go p.run(ctx, p.interval, ch)
	return ch, nil
}

func (p *PollSource) run(ctx context.Context, interval time.Duration, ch chan<- LocationUpdate) {
	defer close(p.done)
	defer close(ch)

	if !p.poll(ctx, ch) {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-p.reset:
			ticker.Reset(d)
		case <-ticker.C:
			if !p.poll(ctx, ch) {
				return
			}
		}
	}
}

// poll samples once and delivers the result. It reports false when ctx ended.
func (p *PollSource) poll(ctx context.Context, ch chan<- LocationUpdate) bool {
	c, err := p.sampler.Sample(ctx)
	if ctx.Err() != nil {
		return false
	}
	select {
	case ch <- LocationUpdate{Coordinate: c, Err: err, At: time.Now()}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop stops sampling and waits for the sampling goroutine to exit.
func (p *PollSource) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
