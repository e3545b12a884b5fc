package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locial/locial/internal/errors"
)

func TestExport_WritesHeaderAndPosts(t *testing.T) {
	database, cfg := setupTest(t)
	cfg.Export.AllowUnsafePaths = true
	tacos, far, bar := seedScenario(t, database, cfg)

	path := filepath.Join(t.TempDir(), "posts.jsonl")
	out, err := Export(context.Background(), database, cfg, ExportInput{Path: path})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if out.Count != 3 || out.Path != path || out.ExportedAt == 0 {
		t.Errorf("Export output = %+v", out)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + 3 posts", len(lines))
	}

	var header ExportHeader
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil || !header.LocialExport {
		t.Fatalf("first line is not an export header: %q (%v)", lines[0], err)
	}
	if header.SchemaVersion != ExportSchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", header.SchemaVersion, ExportSchemaVersion)
	}

	seen := make(map[string]ExportRecord)
	for _, line := range lines[1:] {
		var rec ExportRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("bad record %q: %v", line, err)
		}
		seen[rec.ID] = rec
	}
	for _, p := range []struct{ id, content string }{{tacos.ID, tacos.Content}, {far.ID, far.Content}, {bar.ID, bar.Content}} {
		rec, ok := seen[p.id]
		if !ok {
			t.Errorf("post %s missing from export", p.id)
			continue
		}
		if rec.Content != p.content || rec.AuthorEmail != "ana@example.com" {
			t.Errorf("record = %+v", rec)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("export permissions = %o, want 600", perm)
	}

	leftovers, _ := filepath.Glob(path + ".*.tmp")
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestExport_RejectsPathOutsideAllowedDirs(t *testing.T) {
	database, cfg := setupTest(t)

	_, err := Export(context.Background(), database, cfg, ExportInput{Path: filepath.Join(t.TempDir(), "posts.jsonl")})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Export error = %v, want INVALID_REQUEST", err)
	}
}

func TestImport_RoundTrip(t *testing.T) {
	src, cfg := setupTest(t)
	cfg.Export.AllowUnsafePaths = true
	tacos, _, _ := seedScenario(t, src, cfg)

	path := filepath.Join(t.TempDir(), "posts.jsonl")
	_, err := Export(context.Background(), src, cfg, ExportInput{Path: path})
	require.NoError(t, err)

	dst, _ := setupTest(t)
	out, err := Import(context.Background(), dst, cfg, ImportInput{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Imported)
	assert.Zero(t, out.Skipped)
	assert.Empty(t, out.Errors)

	// Authors are re-created by email and the posts are found again.
	me, err := Me(context.Background(), dst, "ANA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", me.Email)

	nearby, err := Nearby(context.Background(), dst, cfg, NearbyInput{Latitude: 10, Longitude: 20, Category: "food"})
	require.NoError(t, err)
	ids := postIDs(nearby.Posts)
	assert.Contains(t, ids, tacos.ID)

	// Importing again collides on every id.
	again, err := Import(context.Background(), dst, cfg, ImportInput{Path: path})
	require.NoError(t, err)
	assert.Zero(t, again.Imported)
	require.Len(t, again.Errors, 1)
	assert.Equal(t, "ID_COLLISION", again.Errors[0].Code)

	skipped, err := Import(context.Background(), dst, cfg, ImportInput{Path: path, Mode: ImportModeSkip})
	require.NoError(t, err)
	assert.Zero(t, skipped.Imported)
	assert.Equal(t, 3, skipped.Skipped)
}

func TestImport_InvalidRecords(t *testing.T) {
	database, cfg := setupTest(t)
	cfg.Export.AllowUnsafePaths = true

	content := strings.Join([]string{
		`{"_locial_export":true,"schema_version":"1.0","exported_at":1}`,
		`{"id":"01GOOD","author_email":"ana@example.com","category":"Food","content":"ok","latitude":10,"longitude":20,"created_at":5}`,
		`not json`,
		`{"id":"01NOAUTHOR","content":"x","latitude":10,"longitude":20}`,
		`{"id":"01BADLAT","author_email":"ana@example.com","content":"x","latitude":95,"longitude":20}`,
		``,
	}, "\n")
	path := filepath.Join(t.TempDir(), "posts.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	// Mode error imports nothing when any line is bad.
	out, err := Import(context.Background(), database, cfg, ImportInput{Path: path})
	require.NoError(t, err)
	assert.Zero(t, out.Imported)
	require.Len(t, out.Errors, 3)
	assert.Equal(t, "PARSE_ERROR", out.Errors[0].Code)
	assert.Equal(t, 3, out.Errors[0].Line)
	assert.Equal(t, "INVALID_RECORD", out.Errors[1].Code)

	// Mode skip imports the valid record.
	out, err = Import(context.Background(), database, cfg, ImportInput{Path: path, Mode: ImportModeSkip})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Imported)
	assert.Equal(t, 3, out.Skipped)

	nearby, err := Nearby(context.Background(), database, cfg, NearbyInput{Latitude: 10, Longitude: 20})
	require.NoError(t, err)
	require.Len(t, nearby.Posts, 1)
	assert.Equal(t, "Food", nearby.Posts[0].Category)
}

func TestImport_Errors(t *testing.T) {
	database, cfg := setupTest(t)
	cfg.Export.AllowUnsafePaths = true

	_, err := Import(context.Background(), database, cfg, ImportInput{Path: filepath.Join(t.TempDir(), "missing.jsonl")})
	assert.True(t, errors.Is(err, errors.ErrNotFound), "missing file: %v", err)

	_, err = Import(context.Background(), database, cfg, ImportInput{Path: "x.jsonl", Mode: "replace"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "bad mode: %v", err)

	_, err = Import(context.Background(), database, cfg, ImportInput{})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "no path: %v", err)
}
