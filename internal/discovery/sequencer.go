package discovery

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/locial/locial/internal/metrics"
	"github.com/locial/locial/internal/post"
)

// Speaker plays text aloud. Speak blocks until playback ends and must return
// promptly once ctx is cancelled.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// SpeakerFunc adapts a function to Speaker.
type SpeakerFunc func(ctx context.Context, text string) error

func (f SpeakerFunc) Speak(ctx context.Context, text string) error {
	return f(ctx, text)
}

// Playback reports the end of an utterance.
type Playback struct {
	Token  uint64
	PostID string
	Err    error
}

type utterance struct {
	token    uint64
	post     post.Post
	cancel   context.CancelFunc
	finished chan struct{}
}

// Sequencer narrates posts one at a time and remembers which ones it has
// spoken. It is owned by one session loop; playback runs in its own
// goroutine and reports on Results.
type Sequencer struct {
	speaker Speaker
	spoken  *SpokenSet
	results chan Playback

	base  context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
	token uint64

	current *utterance
}

// NewSequencer creates an idle sequencer.
func NewSequencer(speaker Speaker) *Sequencer {
	base, stop := context.WithCancel(context.Background())
	return &Sequencer{
		speaker: speaker,
		spoken:  NewSpokenSet(),
		results: make(chan Playback),
		base:    base,
		stop:    stop,
	}
}

// Results delivers playback completions. Completions for utterances that
// were pre-empted are delivered too and must go through Finish.
func (q *Sequencer) Results() <-chan Playback {
	return q.results
}

// Spoken returns the set of ids narrated in this category session.
func (q *Sequencer) Spoken() *SpokenSet {
	return q.spoken
}

// Speaking returns the post being narrated, if any.
func (q *Sequencer) Speaking() (post.Post, bool) {
	if q.current == nil {
		return post.Post{}, false
	}
	return q.current.post, true
}

// Consider hands the evaluator output to the sequencer. With no candidates it
// does nothing. Otherwise any head other than the post being narrated
// pre-empts it, whatever its distance.
func (q *Sequencer) Consider(candidates []Candidate) (post.Post, bool) {
	if len(candidates) == 0 {
		return post.Post{}, false
	}
	head := candidates[0]
	if q.current != nil && q.current.post.ID == head.Post.ID {
		return post.Post{}, false
	}
	q.Speak(head.Post)
	return head.Post, true
}

// Speak cancels the current utterance, waits for it to go silent and starts
// narrating p. p is marked spoken. It returns the utterance token.
func (q *Sequencer) Speak(p post.Post) uint64 {
	q.cancelCurrent()

	q.token++
	ctx, cancel := context.WithCancel(q.base)
	u := &utterance{
		token:    q.token,
		post:     p,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	q.current = u
	q.spoken.Add(p.ID)
	metrics.RecordNarration("started")

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer cancel()

		err := q.speaker.Speak(ctx, p.Content)
		close(u.finished)

		select {
		case q.results <- Playback{Token: u.token, PostID: p.ID, Err: err}:
		case <-q.base.Done():
		}
	}()

	return u.token
}

// Finish applies a completion. It reports whether pb ended the current
// utterance, in which case the sequencer is idle again.
func (q *Sequencer) Finish(pb Playback) bool {
	if q.current == nil || pb.Token != q.current.token {
		return false
	}
	q.current = nil

	switch {
	case pb.Err == nil:
		metrics.RecordNarration("completed")
	case stderrors.Is(pb.Err, context.Canceled):
		metrics.RecordNarration("cancelled")
	default:
		metrics.RecordNarration("failed")
	}
	return true
}

// Reset starts a new category session: playback stops and the spoken set is
// emptied.
func (q *Sequencer) Reset() {
	q.cancelCurrent()
	q.spoken.Clear()
}

// Close stops playback and waits for every playback goroutine to exit.
func (q *Sequencer) Close() {
	q.cancelCurrent()
	q.stop()
	q.wg.Wait()
}

// cancelCurrent silences the current utterance and returns once the speaker
// has stopped.
func (q *Sequencer) cancelCurrent() {
	u := q.current
	if u == nil {
		return
	}
	q.current = nil

	select {
	case <-u.finished:
		// Already done; its completion is now stale.
		return
	default:
	}
	u.cancel()
	<-u.finished
	metrics.RecordNarration("cancelled")
}
