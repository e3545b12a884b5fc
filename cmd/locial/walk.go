package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/locial/locial/internal/client"
	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/discovery"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/logging"
	"github.com/locial/locial/internal/ops"
	"github.com/locial/locial/internal/render"
	"github.com/locial/locial/internal/speech"
)

// walkLine is one event of a simulated walk, written as a JSON line.
type walkLine struct {
	Kind     discovery.EventKind `json:"kind"`
	PostID   string              `json:"post_id,omitempty"`
	Content  string              `json:"content,omitempty"`
	Location *geo.Coordinate     `json:"location,omitempty"`
	Status   string              `json:"status,omitempty"`
	Spoken   int                 `json:"spoken"`
}

// walkCmd replays a coordinate track through a discovery session.
func walkCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "walk",
		Usage:     "Replay a track of \"lat,lon\" lines through a discovery session",
		ArgsUsage: "[track file, - or empty for stdin]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "Active category"},
			&cli.Float64Flag{Name: "threshold", Aliases: []string{"t"}, Usage: "Audio threshold in meters (default: discovery.threshold_meters)"},
			&cli.DurationFlag{Name: "step", Value: time.Second, Usage: "Delay between track points"},
			&cli.DurationFlag{Name: "settle", Value: 30 * time.Second, Usage: "How long to wait for narration after the last point"},
			&cli.StringFlag{Name: "server", Usage: "Fetch posts from a running locial server instead of the local database"},
			&cli.StringFlag{Name: "token", Usage: "Bearer token for --server", EnvVars: []string{"LOCIAL_TOKEN"}},
			&cli.StringFlag{Name: "snapshot", Usage: "Write the final schematic to this PNG file"},
		},
		Action: func(c *cli.Context) error {
			track, err := readTrack(c.Args().First())
			if err != nil {
				return outputError(err)
			}

			var src discovery.PostSource = ops.NewDBSource(db, cfg)
			if server := c.String("server"); server != "" {
				remote, err := client.New(server, client.WithToken(c.String("token")))
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				src = remote
			}

			speaker, err := speech.New(cfg.Speech)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			threshold := c.Float64("threshold")
			if threshold <= 0 {
				threshold = cfg.Discovery.ThresholdMeters
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			final, err := walk(ctx, c.App.Writer, walkOptions{
				Posts:     src,
				Speaker:   speaker,
				Track:     track,
				Category:  c.String("category"),
				Threshold: threshold,
				Refresh:   cfg.Catalog.RadiusMeters / 2,
				Step:      c.Duration("step"),
				Settle:    c.Duration("settle"),
			})
			if err != nil {
				return outputError(err)
			}

			if path := c.String("snapshot"); path != "" {
				if err := writeSchematic(cfg, path, render.SceneFrom(final)); err != nil {
					return outputError(err)
				}
			}
			return nil
		},
	}
}

type walkOptions struct {
	Posts     discovery.PostSource
	Speaker   discovery.Speaker
	Track     []geo.Coordinate
	Category  string
	Threshold float64
	Refresh   float64
	Step      time.Duration
	Settle    time.Duration
}

// walk pushes every track point into a session, writes its events to w and
// returns the last snapshot once narration has settled.
func walk(ctx context.Context, w io.Writer, opts walkOptions) (discovery.Snapshot, error) {
	loc := discovery.NewChannelSource(len(opts.Track) + 1)
	sess, err := discovery.Start(ctx, discovery.Options{
		Posts:           opts.Posts,
		Location:        loc,
		Speaker:         opts.Speaker,
		ThresholdMeters: opts.Threshold,
		RefreshMeters:   opts.Refresh,
		Category:        opts.Category,
	})
	if err != nil {
		return discovery.Snapshot{}, errors.NewInvalidRequest(err.Error())
	}
	log := logging.With().Str("session_id", sess.ID()).Logger()
	log.Info().Int("points", len(opts.Track)).Msg("walk started")

	var final discovery.Snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		enc := json.NewEncoder(w)
		for ev := range sess.Events() {
			line := walkLine{
				Kind:     ev.Kind,
				PostID:   ev.PostID,
				Location: ev.Snapshot.CurrentLocation,
				Status:   ev.Snapshot.Status,
				Spoken:   len(ev.Snapshot.Spoken),
			}
			if p, ok := ev.Snapshot.Post(ev.PostID); ok && ev.Kind == discovery.EventNarrationStarted {
				line.Content = p.Content
			}
			if err := enc.Encode(line); err != nil {
				sess.Close()
				return err
			}
		}
		return nil
	})

	g.Go(func() error {
		defer sess.Close()
		for i, pt := range opts.Track {
			if i > 0 {
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(opts.Step):
				}
			}
			loc.Push(pt)
		}

		snap, err := settle(gctx, sess, opts.Track[len(opts.Track)-1], opts.Settle)
		final = snap
		if err != nil && !errors.Is(err, errors.ErrUnavailable) {
			return err
		}
		if err != nil {
			log.Warn().Err(err).Msg("walk ended before narration settled")
		}
		return nil
	})

	err = g.Wait()
	<-sess.Done()
	if err != nil {
		return final, errors.NewInternal(err)
	}
	log.Info().Int("spoken", len(final.Spoken)).Msg("walk finished")
	return final, nil
}

// settle polls the session until it has reached last, holds a catalog and
// has nothing left to narrate. Running out of time returns UNAVAILABLE with
// the latest snapshot.
func settle(ctx context.Context, sess *discovery.Session, last geo.Coordinate, timeout time.Duration) (discovery.Snapshot, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	var snap discovery.Snapshot
	for {
		s, err := sess.Snapshot()
		if err != nil {
			return snap, errors.NewUnavailable("session closed before narration settled")
		}
		snap = s
		if idle(snap, last) {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return snap, errors.NewUnavailable("walk interrupted")
		case <-deadline.C:
			return snap, errors.NewUnavailable("narration did not settle in time")
		case <-tick.C:
		}
	}
}

func idle(s discovery.Snapshot, last geo.Coordinate) bool {
	if s.CurrentLocation == nil || *s.CurrentLocation != last {
		return false
	}
	if s.CatalogPending || s.Speaking {
		return false
	}
	// Without a category nothing is narrated, so a fetched catalog is enough.
	if s.ActiveCategory == "" {
		return s.CatalogValid
	}
	return s.CatalogValid && len(s.Candidates) == 0
}

// readTrack loads coordinates from path, or stdin for "" and "-".
func readTrack(path string) ([]geo.Coordinate, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot open track: %v", err))
		}
		defer f.Close()
		r = f
	}
	return parseTrack(r)
}

// parseTrack reads one "lat,lon" (or "lat lon") pair per line. Blank lines
// and lines starting with # are ignored.
func parseTrack(r io.Reader) ([]geo.Coordinate, error) {
	var track []geo.Coordinate
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
		if len(fields) != 2 {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("track line %d: want \"lat,lon\", got %q", line, text))
		}
		lat, err1 := strconv.ParseFloat(fields[0], 64)
		lon, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("track line %d: invalid number in %q", line, text))
		}
		c := geo.Coordinate{Latitude: lat, Longitude: lon}
		if err := c.Validate(); err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("track line %d: %v", line, err))
		}
		track = append(track, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("reading track: %v", err))
	}
	if len(track) == 0 {
		return nil, errors.NewInvalidRequest("track is empty")
	}
	return track, nil
}
