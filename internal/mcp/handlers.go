package mcp

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db  *sql.DB
	cfg *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config) *Handlers {
	return &Handlers{db: db, cfg: cfg}
}

// Request types for each tool

// NearbyRequest represents the arguments for post_nearby.
type NearbyRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Category  string  `json:"category,omitempty"`
	Limit     int     `json:"limit,omitempty"`
}

// CreateRequest represents the arguments for post_create.
type CreateRequest struct {
	Email     string  `json:"email"`
	Content   string  `json:"content"`
	Category  string  `json:"category,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DeleteRequest represents the arguments for post_delete.
type DeleteRequest struct {
	Email string `json:"email"`
	ID    string `json:"id"`
}

// CoordinateRequest represents the arguments for post_categories and post_feed.
type CoordinateRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Limit     int     `json:"limit,omitempty"`
}

// ExportRequest represents the arguments for post_export.
type ExportRequest struct {
	Path string `json:"path,omitempty"`
}

// ImportRequest represents the arguments for post_import.
type ImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// RegisterRequest represents the arguments for user_register.
type RegisterRequest struct {
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// EvaluateRequest represents the arguments for discovery_evaluate.
type EvaluateRequest struct {
	Latitude        float64  `json:"latitude"`
	Longitude       float64  `json:"longitude"`
	Category        string   `json:"category"`
	ThresholdMeters float64  `json:"threshold_meters,omitempty"`
	Spoken          []string `json:"spoken,omitempty"`
}

// HandleNearby handles the post_nearby tool call.
func (h *Handlers) HandleNearby(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NearbyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Nearby(ctx, h.db, h.cfg, ops.NearbyInput{
		Latitude:  input.Latitude,
		Longitude: input.Longitude,
		Category:  input.Category,
		Limit:     input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCreate handles the post_create tool call.
func (h *Handlers) HandleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.CreatePost(ctx, h.db, h.cfg, ops.CreatePostInput{
		Email:     input.Email,
		Content:   input.Content,
		Category:  input.Category,
		Latitude:  input.Latitude,
		Longitude: input.Longitude,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDelete handles the post_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DeletePost(ctx, h.db, ops.DeletePostInput{
		Email: input.Email,
		ID:    input.ID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCategories handles the post_categories tool call.
func (h *Handlers) HandleCategories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CoordinateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Categories(ctx, h.db, h.cfg, ops.CategoriesInput{
		Latitude:  input.Latitude,
		Longitude: input.Longitude,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFeed handles the post_feed tool call.
func (h *Handlers) HandleFeed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CoordinateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Feed(ctx, h.db, h.cfg, ops.FeedInput{
		Latitude:  input.Latitude,
		Longitude: input.Longitude,
		Limit:     input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExport handles the post_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.db, h.cfg, ops.ExportInput{Path: input.Path})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleImport handles the post_import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Import(ctx, h.db, h.cfg, ops.ImportInput{
		Path: input.Path,
		Mode: ops.ImportMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRegister handles the user_register tool call.
func (h *Handlers) HandleRegister(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RegisterRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.RegisterUser(ctx, h.db, ops.RegisterUserInput{
		Email:     input.Email,
		AvatarURL: input.AvatarURL,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleEvaluate handles the discovery_evaluate tool call.
func (h *Handlers) HandleEvaluate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[EvaluateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Evaluate(ctx, h.db, h.cfg, ops.EvaluateInput{
		Latitude:        input.Latitude,
		Longitude:       input.Longitude,
		Category:        input.Category,
		ThresholdMeters: input.ThresholdMeters,
		Spoken:          input.Spoken,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result with IsError set. INTERNAL errors
// carry no details so SQL text and file paths stay out of client output.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if lErr := errors.As(err); lErr != nil {
		errorObj := map[string]any{
			"code":    lErr.Code,
			"message": lErr.Message,
			"status":  lErr.Status,
		}
		if lErr.Code != errors.ErrInternal && lErr.Details != nil {
			errorObj["details"] = lErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
