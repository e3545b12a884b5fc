// Package speech provides the narration backends for discovery sessions.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/logging"
)

// Backends
const (
	BackendLog     = "log"
	BackendCommand = "command"
)

// Speaker plays text aloud, blocking until done or ctx is cancelled.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// New returns the speaker selected by cfg.Backend.
func New(cfg config.SpeechConfig) (Speaker, error) {
	switch cfg.Backend {
	case BackendLog, "":
		return NewLogSpeaker(logging.With().Str("component", "speech").Logger(), cfg.WordsPerMinute), nil
	case BackendCommand:
		path, err := exec.LookPath(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("speech command %q not found: %w", cfg.Command, err)
		}
		return &CommandSpeaker{
			Command:        path,
			Voice:          cfg.Voice,
			WordsPerMinute: cfg.WordsPerMinute,
		}, nil
	default:
		return nil, fmt.Errorf("unknown speech backend %q", cfg.Backend)
	}
}

// CommandSpeaker runs a text-to-speech executable per utterance. Cancelling
// the context kills the process, which silences it.
type CommandSpeaker struct {
	Command        string
	Voice          string
	WordsPerMinute int
}

// Speak runs the command and waits for it to exit.
func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, s.Command, s.args(text)...)
	cmd.WaitDelay = time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", filepath.Base(s.Command), err, msg)
		}
		return fmt.Errorf("%s: %w", filepath.Base(s.Command), err)
	}
	return nil
}

// args builds the argument list. macOS say takes -r for the rate; the
// espeak family takes -s.
func (s *CommandSpeaker) args(text string) []string {
	var args []string
	if s.Voice != "" {
		args = append(args, "-v", s.Voice)
	}
	if s.WordsPerMinute > 0 {
		rateFlag := "-s"
		if filepath.Base(s.Command) == "say" {
			rateFlag = "-r"
		}
		args = append(args, rateFlag, strconv.Itoa(s.WordsPerMinute))
	}
	return append(args, text)
}

// LogSpeaker writes each utterance to the log and stays busy for as long as
// reading it aloud would take. Useful on headless hosts and in tests.
type LogSpeaker struct {
	log            zerolog.Logger
	wordsPerMinute int
}

// NewLogSpeaker creates a LogSpeaker. wordsPerMinute <= 0 makes utterances
// finish immediately.
func NewLogSpeaker(log zerolog.Logger, wordsPerMinute int) *LogSpeaker {
	return &LogSpeaker{log: log, wordsPerMinute: wordsPerMinute}
}

func (s *LogSpeaker) Speak(ctx context.Context, text string) error {
	d := EstimateDuration(text, s.wordsPerMinute)
	s.log.Info().Str("text", text).Dur("duration", d).Msg("speaking")

	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		s.log.Debug().Str("text", text).Msg("speech cancelled")
		return ctx.Err()
	}
}

// EstimateDuration returns how long text takes to read at wordsPerMinute.
func EstimateDuration(text string, wordsPerMinute int) time.Duration {
	if wordsPerMinute <= 0 {
		return 0
	}
	words := len(strings.Fields(text))
	minutes := float64(words) / float64(wordsPerMinute)
	return time.Duration(math.Ceil(minutes * float64(time.Minute)))
}
