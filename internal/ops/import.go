package ops

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/db"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/logging"
	"github.com/locial/locial/internal/post"
)

// ImportMode controls what happens when a post id already exists.
type ImportMode string

const (
	ImportModeError ImportMode = "error" // fail on the first problem, import nothing
	ImportModeSkip  ImportMode = "skip"  // skip existing and invalid records
)

// maxImportLine bounds a single JSONL record.
const maxImportLine = 1 << 20

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: error
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError describes one record that was not imported.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Import restores posts from a backup written by Export. Authors are
// registered by email when missing. The whole import runs in one transaction.
func Import(ctx context.Context, database *sql.DB, cfg *config.Config, input ImportInput) (*ImportOutput, error) {
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	if input.Mode != ImportModeError && input.Mode != ImportModeSkip {
		return nil, errors.NewInvalidRequest("mode must be one of: error, skip")
	}
	if err := ValidatePath(input.Path, PathCheckRead, cfg); err != nil {
		return nil, err
	}

	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		if errors.As(err) != nil {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	records, parseErrors := parseExportFile(file)
	out := &ImportOutput{Errors: []ImportError{}}

	if input.Mode == ImportModeError && len(parseErrors) > 0 {
		out.Errors = parseErrors
		return out, nil
	}
	out.Errors = append(out.Errors, parseErrors...)
	out.Skipped += len(parseErrors)

	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	authors := make(map[string]string)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		exists, err := db.PostExists(ctx, tx, rec.ID)
		if err != nil {
			return nil, err
		}
		if exists {
			ie := ImportError{Line: rec.line, ID: rec.ID, Code: "ID_COLLISION",
				Message: fmt.Sprintf("post with id %q already exists", rec.ID)}
			if input.Mode == ImportModeError {
				return &ImportOutput{Errors: []ImportError{ie}}, nil
			}
			out.Errors = append(out.Errors, ie)
			out.Skipped++
			continue
		}

		key := post.Normalize(rec.AuthorEmail)
		authorID, ok := authors[key]
		if !ok {
			id, err := generateULID()
			if err != nil {
				return nil, errors.NewInternal(err)
			}
			u := &post.User{ID: id, Email: strings.TrimSpace(rec.AuthorEmail)}
			if err := db.UpsertUser(ctx, tx, u); err != nil {
				return nil, err
			}
			authorID = u.ID
			authors[key] = authorID
		}

		p := &post.Post{
			ID:        rec.ID,
			AuthorID:  authorID,
			Category:  post.CleanCategory(rec.Category),
			Content:   rec.Content,
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
			CreatedAt: rec.CreatedAt,
		}
		if err := db.InsertPost(ctx, tx, p); err != nil {
			return nil, err
		}
		out.Imported++
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal(err)
	}
	logging.Info().
		Str("path", input.Path).
		Int("imported", out.Imported).
		Int("skipped", out.Skipped).
		Msg("posts imported")
	return out, nil
}

type importRecord struct {
	ExportRecord
	line int
}

// parseExportFile reads and validates every record. The header line is
// skipped; a file without one is still accepted.
func parseExportFile(r io.Reader) ([]importRecord, []ImportError) {
	var records []importRecord
	var parseErrors []ImportError

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var header ExportHeader
		if err := json.Unmarshal(line, &header); err == nil && header.LocialExport {
			continue
		}

		var rec ExportRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		if msg := validateRecord(rec); msg != "" {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				ID:      rec.ID,
				Code:    "INVALID_RECORD",
				Message: msg,
			})
			continue
		}
		records = append(records, importRecord{ExportRecord: rec, line: lineNum})
	}

	if err := scanner.Err(); err != nil {
		parseErrors = append(parseErrors, ImportError{
			Line:    lineNum,
			Code:    "READ_ERROR",
			Message: fmt.Sprintf("failed to read file: %v", err),
		})
	}
	return records, parseErrors
}

func validateRecord(rec ExportRecord) string {
	switch {
	case rec.ID == "":
		return "missing id field"
	case strings.TrimSpace(rec.AuthorEmail) == "":
		return "missing author_email field"
	case strings.TrimSpace(rec.Content) == "":
		return "content is empty"
	case post.CountChars(rec.Content) > post.MaxContentChars:
		return fmt.Sprintf("content exceeds %d characters", post.MaxContentChars)
	}
	c := geo.Coordinate{Latitude: rec.Latitude, Longitude: rec.Longitude}
	if err := c.Validate(); err != nil {
		return err.Error()
	}
	return ""
}
