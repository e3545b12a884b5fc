package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/locial/locial/internal/auth"
	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/mcp"
	"github.com/locial/locial/internal/ops"
	"github.com/locial/locial/internal/post"
	"github.com/locial/locial/internal/render"
)

// maxStdinBytes bounds post content read from stdin.
const maxStdinBytes = 64 * 1024

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "locial",
		Usage:   "Location-based posts, narrated as you walk past them",
		Version: Version,
		Commands: []*cli.Command{
			userCmd(db),
			tokenCmd(db, cfg),
			postCmd(db, cfg),
			nearbyCmd(db, cfg),
			categoriesCmd(db, cfg),
			feedCmd(db, cfg),
			deleteCmd(db),
			evaluateCmd(db, cfg),
			renderCmd(db, cfg),
			walkCmd(db, cfg),
			exportCmd(db, cfg),
			importCmd(db, cfg),
			serveCmd(db, cfg),
			mcpCmd(db, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// coordinateFlags are shared by every command that works around a position.
func coordinateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{Name: "lat", Required: true, Usage: "Latitude in decimal degrees"},
		&cli.Float64Flag{Name: "lon", Required: true, Usage: "Longitude in decimal degrees"},
	}
}

// userCmd creates the user command group.
func userCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage registered users",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register a user (idempotent)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Required: true, Usage: "User email"},
					&cli.StringFlag{Name: "avatar", Usage: "Avatar URL"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.RegisterUser(c.Context, db, ops.RegisterUserInput{
						Email:     c.String("email"),
						AvatarURL: c.String("avatar"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, output)
				},
			},
		},
	}
}

type tokenOutput struct {
	Email     string `json:"email"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// tokenCmd issues a bearer token for a registered user.
func tokenCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for a registered user",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Required: true, Usage: "User email"},
		},
		Action: func(c *cli.Context) error {
			tokens, err := auth.NewTokens(cfg.Auth)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			user, err := ops.CurrentUser(c.Context, db, c.String("email"))
			if err != nil {
				return outputError(err)
			}
			token, expires, err := tokens.Issue(user.Email)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return outputJSON(c.App.Writer, tokenOutput{Email: user.Email, Token: token, ExpiresAt: expires.Unix()})
		},
	}
}

// postCmd creates a post. Content comes from the arguments or stdin.
func postCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "post",
		Usage:     "Create a post at a position (content from args or stdin)",
		ArgsUsage: "[content]",
		Flags: append(coordinateFlags(),
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Required: true, Usage: "Author email"},
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "Post category (default: general)"},
		),
		Action: func(c *cli.Context) error {
			content := strings.Join(c.Args().Slice(), " ")
			if content == "" && stdinHasData() {
				text, err := readStdin(maxStdinBytes)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				content = text
			}

			output, err := ops.CreatePost(c.Context, db, cfg, ops.CreatePostInput{
				Email:     c.String("email"),
				Content:   content,
				Category:  c.String("category"),
				Latitude:  c.Float64("lat"),
				Longitude: c.Float64("lon"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// nearbyCmd lists posts in the bounding box around a position.
func nearbyCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "nearby",
		Usage: "List posts around a position",
		Flags: append(coordinateFlags(),
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "Only this category (widens the search box)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum posts to return"},
		),
		Action: func(c *cli.Context) error {
			output, err := ops.Nearby(c.Context, db, cfg, ops.NearbyInput{
				Latitude:  c.Float64("lat"),
				Longitude: c.Float64("lon"),
				Category:  c.String("category"),
				Limit:     c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// categoriesCmd lists the categories around a position.
func categoriesCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "categories",
		Usage: "List the categories of posts around a position",
		Flags: coordinateFlags(),
		Action: func(c *cli.Context) error {
			output, err := ops.Categories(c.Context, db, cfg, ops.CategoriesInput{
				Latitude:  c.Float64("lat"),
				Longitude: c.Float64("lon"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// feedCmd shows the near feed.
func feedCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Show the newest posts around a position",
		Flags: append(coordinateFlags(),
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum posts to return"},
		),
		Action: func(c *cli.Context) error {
			output, err := ops.Feed(c.Context, db, cfg, ops.FeedInput{
				Latitude:  c.Float64("lat"),
				Longitude: c.Float64("lon"),
				Limit:     c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// deleteCmd removes a post on behalf of its author.
func deleteCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete one of your posts",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Required: true, Usage: "Author email"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one post id is required"))
			}
			output, err := ops.DeletePost(c.Context, db, ops.DeletePostInput{
				Email: c.String("email"),
				ID:    c.Args().First(),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// evaluateCmd runs one proximity evaluation.
func evaluateCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "evaluate",
		Usage: "Show which posts would be narrated at a position",
		Flags: append(coordinateFlags(),
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Required: true, Usage: "Active category"},
			&cli.Float64Flag{Name: "threshold", Aliases: []string{"t"}, Usage: "Audio threshold in meters (default: discovery.threshold_meters)"},
			&cli.StringFlag{Name: "spoken", Usage: "Comma-separated ids already narrated"},
		),
		Action: func(c *cli.Context) error {
			output, err := ops.Evaluate(c.Context, db, cfg, ops.EvaluateInput{
				Latitude:        c.Float64("lat"),
				Longitude:       c.Float64("lon"),
				Category:        c.String("category"),
				ThresholdMeters: c.Float64("threshold"),
				Spoken:          parseList(c.String("spoken")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

type renderOutput struct {
	Path  string `json:"path"`
	Posts int    `json:"posts"`
}

// renderCmd draws the schematic around a position into a PNG file.
func renderCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "render",
		Usage: "Draw the schematic around a position as a PNG",
		Flags: append(coordinateFlags(),
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "Active category"},
			&cli.Float64Flag{Name: "threshold", Aliases: []string{"t"}, Usage: "Audio threshold in meters (default: discovery.threshold_meters)"},
			&cli.StringFlag{Name: "spoken", Usage: "Comma-separated ids already narrated"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "schematic.png", Usage: "Output file"},
		),
		Action: func(c *cli.Context) error {
			location := geo.Coordinate{Latitude: c.Float64("lat"), Longitude: c.Float64("lon")}
			if err := location.Validate(); err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			category := strings.TrimSpace(c.String("category"))
			src := ops.NewDBSource(db, cfg)
			var posts []post.Post
			var err error
			if category != "" {
				posts, err = src.FetchNearbyByCategory(c.Context, location, category)
			} else {
				posts, err = src.FetchNearby(c.Context, location)
			}
			if err != nil {
				return outputError(err)
			}

			threshold := c.Float64("threshold")
			if threshold <= 0 {
				threshold = cfg.Discovery.ThresholdMeters
			}
			scene := render.Scene{
				Location:        &location,
				Posts:           posts,
				ActiveCategory:  category,
				Spoken:          parseList(c.String("spoken")),
				ThresholdMeters: threshold,
			}
			path := c.String("out")
			if err := writeSchematic(cfg, path, scene); err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, renderOutput{Path: path, Posts: len(posts)})
		},
	}
}

// writeSchematic renders scene into a PNG file at path.
func writeSchematic(cfg *config.Config, path string, scene render.Scene) error {
	schematic, err := render.New(render.OptionsFrom(cfg.Render))
	if err != nil {
		return errors.NewInternal(err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("cannot write %s: %v", path, err))
	}
	if err := schematic.EncodePNG(f, scene); err != nil {
		f.Close()
		return errors.NewInternal(err)
	}
	if err := f.Close(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// exportCmd creates the export command.
func exportCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export all posts to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.locial/exports/posts-<timestamp>.jsonl)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, db, cfg, ops.ExportInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// importCmd creates the import command.
func importCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import posts from a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Collision mode: error|skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, db, cfg, ops.ImportInput{
				Path: c.String("path"),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// serveCmd runs the web surface until interrupted.
func serveCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the web server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Bind address (default: server.bind)"},
			&cli.IntFlag{Name: "port", Usage: "Port (default: server.port)"},
		},
		Action: func(c *cli.Context) error {
			if c.IsSet("bind") {
				cfg.Server.Bind = c.String("bind")
			}
			if c.IsSet("port") {
				cfg.Server.Port = c.Int("port")
			}
			return serve(c.Context, db, cfg)
		},
	}
}

// mcpCmd serves the MCP tools over stdio.
func mcpCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP tools over stdio",
		Action: func(c *cli.Context) error {
			return mcp.Run(db, cfg, Version)
		},
	}
}

// Helper functions

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if lErr := errors.As(err); lErr != nil {
		return cli.Exit(fmt.Sprintf("[%s] %s", lErr.Code, lErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseList splits a comma-separated string, dropping blanks.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
