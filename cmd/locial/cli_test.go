package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/locial/locial/internal/auth"
	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/db"
	"github.com/locial/locial/internal/discovery"
	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/ops"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// testConfig returns a default config for testing.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Export.AllowUnsafePaths = true
	cfg.Speech.WordsPerMinute = 0 // narration finishes immediately
	cfg.Auth.Secret = "an-adequately-long-test-secret"
	return cfg
}

// run executes the CLI with args and returns what it wrote.
func run(t *testing.T, database *sql.DB, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp(database, cfg)
	var buf bytes.Buffer
	app.Writer = &buf
	err := app.Run(append([]string{"locial"}, args...))
	return buf.String(), err
}

// seedPosts registers ana and places the taco stand, a far Food post and a bar
// around (10, 20). It returns the taco stand's id.
func seedPosts(t *testing.T, database *sql.DB, cfg *config.Config) string {
	t.Helper()
	if _, err := run(t, database, cfg, "user", "add", "--email", "ana@example.com"); err != nil {
		t.Fatalf("user add failed: %v", err)
	}

	var tacosID string
	for _, p := range []struct{ category, lat, content string }{
		{"Food", "10.00005", "Try the tacos"},
		{"Food", "10.001", "Far away"},
		{"Drinks", "10.00002", "Happy hour"},
	} {
		out, err := run(t, database, cfg, "post", "--email", "ana@example.com",
			"--lat", p.lat, "--lon", "20", "--category", p.category, p.content)
		if err != nil {
			t.Fatalf("post %q failed: %v", p.content, err)
		}
		var created ops.CreatePostOutput
		if err := json.Unmarshal([]byte(out), &created); err != nil {
			t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
		}
		if p.content == "Try the tacos" {
			tacosID = created.Post.ID
		}
	}
	return tacosID
}

func TestParseList(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{" a , b ,,c,", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		result := parseList(tt.input)
		if len(result) != len(tt.expected) {
			t.Errorf("parseList(%q) = %v, want %v", tt.input, result, tt.expected)
			continue
		}
		for i := range result {
			if result[i] != tt.expected[i] {
				t.Errorf("parseList(%q)[%d] = %q, want %q", tt.input, i, result[i], tt.expected[i])
			}
		}
	}
}

func TestParseTrack(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"comma pairs", "10,20\n10.0001,20\n", 2, false},
		{"spaces and comments", "# start\n10 20\n\n10.0001\t20\n", 2, false},
		{"empty", "\n# nothing\n", 0, true},
		{"three fields", "10,20,30\n", 0, true},
		{"not a number", "ten,20\n", 0, true},
		{"out of range", "95,20\n", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			track, err := parseTrack(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTrack error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(track) != tt.want {
				t.Errorf("got %d points, want %d", len(track), tt.want)
			}
		})
	}
}

func TestCLIPostsAroundAPosition(t *testing.T) {
	database := setupTestDB(t)
	cfg := testConfig()
	tacosID := seedPosts(t, database, cfg)

	out, err := run(t, database, cfg, "nearby", "--lat", "10", "--lon", "20")
	if err != nil {
		t.Fatalf("nearby failed: %v", err)
	}
	var nearby ops.NearbyOutput
	if err := json.Unmarshal([]byte(out), &nearby); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if nearby.Count != 2 {
		t.Errorf("nearby count = %d, want 2", nearby.Count)
	}

	out, err = run(t, database, cfg, "categories", "--lat", "10", "--lon", "20")
	if err != nil {
		t.Fatalf("categories failed: %v", err)
	}
	var cats ops.CategoriesOutput
	if err := json.Unmarshal([]byte(out), &cats); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(cats.Categories) != 2 {
		t.Errorf("categories = %v, want two", cats.Categories)
	}

	out, err = run(t, database, cfg, "feed", "--lat", "10", "--lon", "20")
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	var feed ops.FeedOutput
	if err := json.Unmarshal([]byte(out), &feed); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if feed.Welcome == "" || len(feed.Posts) != 2 {
		t.Errorf("feed = %+v, want a welcome line and two posts", feed)
	}

	out, err = run(t, database, cfg, "evaluate", "--lat", "10", "--lon", "20", "--category", "food")
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	var eval ops.EvaluateOutput
	if err := json.Unmarshal([]byte(out), &eval); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if eval.Next == nil || eval.Next.Post.ID != tacosID {
		t.Errorf("next = %+v, want the taco stand", eval.Next)
	}

	out, err = run(t, database, cfg, "evaluate", "--lat", "10", "--lon", "20", "--category", "Food", "--spoken", tacosID)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	eval = ops.EvaluateOutput{}
	if err := json.Unmarshal([]byte(out), &eval); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if eval.Next != nil {
		t.Errorf("next = %+v, want none once the taco stand was spoken", eval.Next)
	}
}

func TestCLIPostFromStdin(t *testing.T) {
	database := setupTestDB(t)
	cfg := testConfig()
	if _, err := run(t, database, cfg, "user", "add", "--email", "ana@example.com"); err != nil {
		t.Fatalf("user add failed: %v", err)
	}

	stdinR, stdinW, _ := os.Pipe()
	oldStdin := os.Stdin
	os.Stdin = stdinR
	defer func() { os.Stdin = oldStdin }()
	go func() {
		_, _ = stdinW.WriteString("  Fresh bread at the corner  \n")
		stdinW.Close()
	}()

	out, err := run(t, database, cfg, "post", "--email", "ana@example.com", "--lat", "10", "--lon", "20")
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	var created ops.CreatePostOutput
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if created.Post.Content != "Fresh bread at the corner" {
		t.Errorf("content = %q", created.Post.Content)
	}
	if created.Post.Category != "general" {
		t.Errorf("category = %q, want general", created.Post.Category)
	}
}

func TestCLIDelete(t *testing.T) {
	database := setupTestDB(t)
	cfg := testConfig()
	tacosID := seedPosts(t, database, cfg)
	if _, err := run(t, database, cfg, "user", "add", "--email", "bob@example.com"); err != nil {
		t.Fatalf("user add failed: %v", err)
	}

	if _, err := run(t, database, cfg, "delete", "--email", "bob@example.com", tacosID); err == nil || !strings.Contains(err.Error(), "FORBIDDEN") {
		t.Errorf("delete by another user: err = %v, want FORBIDDEN", err)
	}

	out, err := run(t, database, cfg, "delete", "--email", "ana@example.com", tacosID)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	var deleted ops.DeletePostOutput
	if err := json.Unmarshal([]byte(out), &deleted); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if !deleted.Deleted || deleted.ID != tacosID {
		t.Errorf("delete output = %+v", deleted)
	}

	if _, err := run(t, database, cfg, "delete", "--email", "ana@example.com", tacosID); err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("second delete: err = %v, want NOT_FOUND", err)
	}
}

func TestCLIToken(t *testing.T) {
	database := setupTestDB(t)
	cfg := testConfig()
	if _, err := run(t, database, cfg, "user", "add", "--email", "ana@example.com"); err != nil {
		t.Fatalf("user add failed: %v", err)
	}

	out, err := run(t, database, cfg, "token", "--email", "ana@example.com")
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	var issued tokenOutput
	if err := json.Unmarshal([]byte(out), &issued); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}

	tokens, err := auth.NewTokens(cfg.Auth)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	claims, err := tokens.Verify(issued.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Email != "ana@example.com" {
		t.Errorf("claims email = %q", claims.Email)
	}

	if _, err := run(t, database, cfg, "token", "--email", "ghost@example.com"); err == nil || !strings.Contains(err.Error(), "AUTH_REQUIRED") {
		t.Errorf("token for unknown user: err = %v, want AUTH_REQUIRED", err)
	}

	noSecret := testConfig()
	noSecret.Auth.Secret = ""
	if _, err := run(t, database, noSecret, "token", "--email", "ana@example.com"); err == nil {
		t.Error("token without a secret should fail")
	}
}

func TestCLIRender(t *testing.T) {
	database := setupTestDB(t)
	cfg := testConfig()
	seedPosts(t, database, cfg)

	path := filepath.Join(t.TempDir(), "near.png")
	out, err := run(t, database, cfg, "render", "--lat", "10", "--lon", "20", "--category", "Food", "--out", path)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	var rendered renderOutput
	if err := json.Unmarshal([]byte(out), &rendered); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if rendered.Posts != 2 {
		t.Errorf("rendered %d posts, want the two Food posts", rendered.Posts)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open png: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != cfg.Render.Width || b.Dy() != cfg.Render.Height {
		t.Errorf("image is %v, want %dx%d", b, cfg.Render.Width, cfg.Render.Height)
	}
}

func TestCLIExportImport(t *testing.T) {
	database := setupTestDB(t)
	cfg := testConfig()
	seedPosts(t, database, cfg)

	path := filepath.Join(t.TempDir(), "posts.jsonl")
	out, err := run(t, database, cfg, "export", "--path", path)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	var exported ops.ExportOutput
	if err := json.Unmarshal([]byte(out), &exported); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if exported.Count != 3 {
		t.Errorf("exported %d posts, want 3", exported.Count)
	}

	fresh := setupTestDB(t)
	out, err = run(t, fresh, cfg, "import", "--path", path)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	var imported ops.ImportOutput
	if err := json.Unmarshal([]byte(out), &imported); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if imported.Imported != 3 {
		t.Errorf("imported %d posts, want 3", imported.Imported)
	}

	out, err = run(t, fresh, cfg, "import", "--path", path)
	if err != nil {
		t.Fatalf("re-import failed: %v", err)
	}
	imported = ops.ImportOutput{}
	if err := json.Unmarshal([]byte(out), &imported); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if imported.Imported != 0 || len(imported.Errors) != 1 || imported.Errors[0].Code != "ID_COLLISION" {
		t.Errorf("re-import in error mode = %+v, want one ID_COLLISION and nothing imported", imported)
	}
	if _, err := run(t, fresh, cfg, "import", "--path", path, "--mode", "skip"); err != nil {
		t.Errorf("re-import in skip mode failed: %v", err)
	}
}

func TestWalk_NarratesNearbyPost(t *testing.T) {
	database := setupTestDB(t)
	cfg := testConfig()
	tacosID := seedPosts(t, database, cfg)

	var buf bytes.Buffer
	final, err := walk(context.Background(), &buf, walkOptions{
		Posts:     ops.NewDBSource(database, cfg),
		Track:     []geo.Coordinate{{Latitude: 9.999, Longitude: 20}, {Latitude: 10, Longitude: 20}},
		Category:  "Food",
		Threshold: 25,
		Refresh:   50,
		Step:      10 * time.Millisecond,
		Settle:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if len(final.Spoken) != 1 || final.Spoken[0] != tacosID {
		t.Errorf("spoken = %v, want only the taco stand", final.Spoken)
	}

	var started, finished bool
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var line walkLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("bad walk line %q: %v", raw, err)
		}
		switch line.Kind {
		case discovery.EventNarrationStarted:
			started = line.PostID == tacosID && line.Content == "Try the tacos"
		case discovery.EventNarrationFinished:
			finished = finished || line.PostID == tacosID
		}
	}
	if !started || !finished {
		t.Errorf("expected narration of the taco stand in the walk log:\n%s", buf.String())
	}
}

func TestCLIWalk(t *testing.T) {
	database := setupTestDB(t)
	cfg := testConfig()
	seedPosts(t, database, cfg)

	dir := t.TempDir()
	track := filepath.Join(dir, "track.txt")
	if err := os.WriteFile(track, []byte("# corner\n10,20\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	snapshot := filepath.Join(dir, "walk.png")

	out, err := run(t, database, cfg, "walk", "--category", "Food", "--step", "1ms", "--settle", "5s", "--snapshot", snapshot, track)
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if !strings.Contains(out, `"kind":"narration_finished"`) {
		t.Errorf("walk output has no finished narration:\n%s", out)
	}
	if _, err := os.Stat(snapshot); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}

	if _, err := run(t, database, cfg, "walk", filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("walking a missing track should fail")
	}
}

func TestCLIErrorHandling(t *testing.T) {
	database := setupTestDB(t)
	cfg := testConfig()

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"post by unknown user", []string{"post", "--email", "ghost@example.com", "--lat", "10", "--lon", "20", "boo"}, "AUTH_REQUIRED"},
		{"nearby out of range", []string{"nearby", "--lat", "91", "--lon", "20"}, "INVALID_REQUEST"},
		{"evaluate without category", []string{"evaluate", "--lat", "10", "--lon", "20", "--category", " "}, "INVALID_REQUEST"},
		{"delete without id", []string{"delete", "--email", "ana@example.com"}, "INVALID_REQUEST"},
		{"import bad mode", []string{"import", "--path", "x.jsonl", "--mode", "merge"}, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, database, cfg, tt.args...)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), "["+tt.code+"]") {
				t.Errorf("error = %q, want code %s", err, tt.code)
			}
		})
	}
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"locial"}, false},
		{"serve command", []string{"locial", "serve"}, true},
		{"walk command", []string{"locial", "walk"}, true},
		{"mcp command", []string{"locial", "mcp"}, true},
		{"help flag", []string{"locial", "--help"}, true},
		{"short version flag", []string{"locial", "-v"}, true},
		{"unknown arg defaults to MCP", []string{"locial", "--unknown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isCLIMode(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		args     []string
		expected bool
	}{
		{[]string{"locial"}, false},
		{[]string{"locial", "--help"}, true},
		{[]string{"locial", "-h"}, true},
		{[]string{"locial", "--version"}, true},
		{[]string{"locial", "help"}, true},
		{[]string{"locial", "serve"}, false},
	}

	for _, tt := range tests {
		oldArgs := os.Args
		os.Args = tt.args
		if result := isHelpOrVersion(); result != tt.expected {
			t.Errorf("isHelpOrVersion(%v) = %v, want %v", tt.args, result, tt.expected)
		}
		os.Args = oldArgs
	}
}

func TestReadStdinWithLimit(t *testing.T) {
	tests := []struct {
		name    string
		content string
		limit   int64
		wantErr bool
	}{
		{"within limit", "small content", 1000, false},
		{"exactly at limit", strings.Repeat("x", 50), 50, false},
		{"exceeds limit", strings.Repeat("x", 100), 50, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, w, err := os.Pipe()
			if err != nil {
				t.Fatalf("Failed to create pipe: %v", err)
			}
			go func() {
				_, _ = w.WriteString(tt.content)
				w.Close()
			}()

			oldStdin := os.Stdin
			os.Stdin = r
			defer func() { os.Stdin = oldStdin }()

			result, err := readStdin(tt.limit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readStdin error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && result != tt.content {
				t.Errorf("expected %q, got %q", tt.content, result)
			}
		})
	}
}
