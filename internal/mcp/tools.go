package mcp

import "github.com/mark3labs/mcp-go/mcp"

// withCoordinate is the required latitude/longitude pair.
func withCoordinate() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("latitude", mcp.Required(), mcp.Description("Latitude in decimal degrees (-90..90)")),
		mcp.WithNumber("longitude", mcp.Required(), mcp.Description("Longitude in decimal degrees (-180..180)")),
	}
}

var nearbyToolDef = mcp.NewTool("post_nearby", append([]mcp.ToolOption{
	mcp.WithDescription("List posts stored around a coordinate. With a category the search box is wider and only that category is returned."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("category", mcp.Description("Optional category (case-insensitive)")),
	mcp.WithNumber("limit", mcp.Description("Maximum posts to return; 0 means no limit")),
}, withCoordinate()...)...)

var createToolDef = mcp.NewTool("post_create", append([]mcp.ToolOption{
	mcp.WithDescription("Create a geotagged post as a registered user."),
	mcp.WithString("email", mcp.Required(), mcp.Description("Email of the registered author")),
	mcp.WithString("content", mcp.Required(), mcp.Description("Post text, at most 280 characters")),
	mcp.WithString("category", mcp.Description("Category label; defaults to general")),
}, withCoordinate()...)...)

var deleteToolDef = mcp.NewTool("post_delete",
	mcp.WithDescription("Delete a post. Only its author may delete it."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("email", mcp.Required(), mcp.Description("Email of the author")),
	mcp.WithString("id", mcp.Required(), mcp.Description("Post id")),
)

var categoriesToolDef = mcp.NewTool("post_categories", append([]mcp.ToolOption{
	mcp.WithDescription("List the distinct categories of the posts around a coordinate."),
	mcp.WithReadOnlyHintAnnotation(true),
}, withCoordinate()...)...)

var feedToolDef = mcp.NewTool("post_feed", append([]mcp.ToolOption{
	mcp.WithDescription("The near feed: newest posts around a coordinate and a welcome line."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithNumber("limit", mcp.Description("Maximum posts to return")),
}, withCoordinate()...)...)

var exportToolDef = mcp.NewTool("post_export",
	mcp.WithDescription("Back up every post to a JSONL file in ~/.locial/exports or a configured export directory."),
	mcp.WithString("path", mcp.Description("Destination .jsonl path; defaults to a timestamped file")),
)

var importToolDef = mcp.NewTool("post_import",
	mcp.WithDescription("Restore posts from a JSONL backup. Authors are registered by email."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Backup .jsonl path")),
	mcp.WithString("mode", mcp.Enum("error", "skip"), mcp.Description("error: import nothing on any problem; skip: skip bad and existing records")),
)

var registerToolDef = mcp.NewTool("user_register",
	mcp.WithDescription("Register a user by email, or refresh the avatar of an existing one."),
	mcp.WithString("email", mcp.Required(), mcp.Description("Email address")),
	mcp.WithString("avatar_url", mcp.Description("Optional avatar URL")),
)

var evaluateToolDef = mcp.NewTool("discovery_evaluate", append([]mcp.ToolOption{
	mcp.WithDescription("Run one proximity check: posts of a category within the audio threshold, nearest first, and the one that would be narrated next."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("category", mcp.Required(), mcp.Description("Active category")),
	mcp.WithNumber("threshold_meters", mcp.Description("Audio threshold in meters; defaults to the configured one")),
	mcp.WithArray("spoken", mcp.WithStringItems(), mcp.Description("Ids of posts already narrated")),
}, withCoordinate()...)...)
