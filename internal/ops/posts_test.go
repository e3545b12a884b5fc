package ops

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/locial/locial/internal/db"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/post"
)

func TestCreatePost(t *testing.T) {
	database, cfg := setupTest(t)
	author := registerUser(t, database, "ana@example.com")

	p := createPost(t, database, cfg, "ana@example.com", "  ", "  Try the tacos  ", 10.00005, 20)

	if p.ID == "" {
		t.Error("ID should be assigned")
	}
	if p.AuthorID != author.ID {
		t.Errorf("AuthorID = %s, want %s", p.AuthorID, author.ID)
	}
	if p.Category != post.DefaultCategory {
		t.Errorf("Category = %q, want %q", p.Category, post.DefaultCategory)
	}
	if p.Content != "Try the tacos" {
		t.Errorf("Content = %q, want trimmed", p.Content)
	}
	if p.CreatedAt == 0 {
		t.Error("CreatedAt should be set")
	}
}

func TestCreatePost_Errors(t *testing.T) {
	database, cfg := setupTest(t)
	registerUser(t, database, "ana@example.com")

	tests := []struct {
		name  string
		input CreatePostInput
		want  errors.ErrorCode
	}{
		{"anonymous", CreatePostInput{Content: "hi", Latitude: 10, Longitude: 20}, errors.ErrAuthRequired},
		{"unknown user", CreatePostInput{Email: "bob@example.com", Content: "hi", Latitude: 10, Longitude: 20}, errors.ErrAuthRequired},
		{"empty content", CreatePostInput{Email: "ana@example.com", Content: "   ", Latitude: 10, Longitude: 20}, errors.ErrInvalidRequest},
		{"too long", CreatePostInput{Email: "ana@example.com", Content: strings.Repeat("é", DefaultMaxChars+1), Latitude: 10, Longitude: 20}, errors.ErrInvalidRequest},
		{"bad latitude", CreatePostInput{Email: "ana@example.com", Content: "hi", Latitude: 95, Longitude: 20}, errors.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreatePost(context.Background(), database, cfg, tt.input)
			if !errors.Is(err, tt.want) {
				t.Errorf("CreatePost error = %v, want %s", err, tt.want)
			}
		})
	}
}

func TestCreatePost_MaxLengthAccepted(t *testing.T) {
	database, cfg := setupTest(t)
	registerUser(t, database, "ana@example.com")

	content := strings.Repeat("é", DefaultMaxChars)
	p := createPost(t, database, cfg, "ana@example.com", "Food", content, 10, 20)
	if p.Content != content {
		t.Error("content at the limit should be stored unchanged")
	}
}

func TestNearby(t *testing.T) {
	database, cfg := setupTest(t)
	tacos, far, bar := seedScenario(t, database, cfg)
	ctx := context.Background()

	out, err := Nearby(ctx, database, cfg, NearbyInput{Latitude: home.Latitude, Longitude: home.Longitude})
	if err != nil {
		t.Fatalf("Nearby failed: %v", err)
	}
	if ids := postIDs(out.Posts); !equalIDs(ids, tacos.ID, bar.ID) {
		t.Errorf("Nearby posts = %v, want [tacos bar] in storage order", ids)
	}
	if out.Count != 2 {
		t.Errorf("Count = %d, want 2", out.Count)
	}
	if len(out.Categories) != 2 || out.Categories[0] != "Food" || out.Categories[1] != "Drinks" {
		t.Errorf("Categories = %v, want [Food Drinks]", out.Categories)
	}

	// A category widens the box tenfold and filters case-insensitively.
	out, err = Nearby(ctx, database, cfg, NearbyInput{Latitude: home.Latitude, Longitude: home.Longitude, Category: "food"})
	if err != nil {
		t.Fatalf("Nearby(food) failed: %v", err)
	}
	if ids := postIDs(out.Posts); !equalIDs(ids, tacos.ID, far.ID) {
		t.Errorf("Nearby(food) posts = %v, want [tacos far]", ids)
	}
}

func TestNearby_InvalidCoordinate(t *testing.T) {
	database, cfg := setupTest(t)
	_, err := Nearby(context.Background(), database, cfg, NearbyInput{Latitude: 10, Longitude: 181})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Nearby error = %v, want INVALID_REQUEST", err)
	}
}

func TestCategories(t *testing.T) {
	database, cfg := setupTest(t)
	seedScenario(t, database, cfg)

	out, err := Categories(context.Background(), database, cfg, CategoriesInput{Latitude: home.Latitude, Longitude: home.Longitude})
	if err != nil {
		t.Fatalf("Categories failed: %v", err)
	}
	if len(out.Categories) != 2 {
		t.Errorf("Categories = %v, want 2 entries", out.Categories)
	}

	out, err = Categories(context.Background(), database, cfg, CategoriesInput{Latitude: -45, Longitude: 100})
	if err != nil {
		t.Fatalf("Categories failed: %v", err)
	}
	if out.Categories == nil || len(out.Categories) != 0 {
		t.Errorf("empty area Categories = %#v, want empty non-nil", out.Categories)
	}
}

func TestFeed(t *testing.T) {
	database, cfg := setupTest(t)
	seedScenario(t, database, cfg)
	ctx := context.Background()

	out, err := Feed(ctx, database, cfg, FeedInput{Latitude: home.Latitude, Longitude: home.Longitude})
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if len(out.Posts) != 2 {
		t.Fatalf("Feed posts = %d, want 2", len(out.Posts))
	}
	if out.Posts[0].CreatedAt < out.Posts[1].CreatedAt {
		t.Error("Feed should list newest first")
	}
	if out.Welcome != out.Posts[0].Content {
		t.Errorf("Welcome = %q, want first post content %q", out.Welcome, out.Posts[0].Content)
	}

	out, err = Feed(ctx, database, cfg, FeedInput{Latitude: -45, Longitude: 100})
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if out.Welcome != cfg.Discovery.WelcomeMessage {
		t.Errorf("empty area Welcome = %q, want configured message", out.Welcome)
	}
}

func TestEvaluate(t *testing.T) {
	database, cfg := setupTest(t)
	tacos, _, _ := seedScenario(t, database, cfg)
	ctx := context.Background()

	out, err := Evaluate(ctx, database, cfg, EvaluateInput{Latitude: home.Latitude, Longitude: home.Longitude, Category: "Food"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if out.ThresholdMeters != cfg.Discovery.ThresholdMeters {
		t.Errorf("ThresholdMeters = %v, want default %v", out.ThresholdMeters, cfg.Discovery.ThresholdMeters)
	}
	if len(out.Posts) != 2 {
		t.Errorf("catalog size = %d, want 2 Food posts", len(out.Posts))
	}
	if len(out.Candidates) != 1 || out.Next == nil || out.Next.Post.ID != tacos.ID {
		t.Fatalf("Evaluate = %+v, want tacos as the only candidate", out.Candidates)
	}
	if d := out.Next.DistanceMeters; d < 5.4 || d > 5.7 {
		t.Errorf("distance = %v, want ≈ 5.56", d)
	}

	out, err = Evaluate(ctx, database, cfg, EvaluateInput{Latitude: home.Latitude, Longitude: home.Longitude, Category: "Food", Spoken: []string{tacos.ID}})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(out.Candidates) != 0 || out.Next != nil {
		t.Errorf("spoken post should not be a candidate, got %+v", out.Candidates)
	}

	out, err = Evaluate(ctx, database, cfg, EvaluateInput{Latitude: home.Latitude, Longitude: home.Longitude, Category: "Food", ThresholdMeters: 200})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(out.Candidates) != 2 || out.Candidates[0].Post.ID != tacos.ID {
		t.Errorf("wide threshold candidates = %+v, want tacos first of 2", out.Candidates)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	database, cfg := setupTest(t)

	tests := []struct {
		name  string
		input EvaluateInput
	}{
		{"no category", EvaluateInput{Latitude: 10, Longitude: 20}},
		{"negative threshold", EvaluateInput{Latitude: 10, Longitude: 20, Category: "Food", ThresholdMeters: -1}},
		{"bad coordinate", EvaluateInput{Latitude: 100, Longitude: 20, Category: "Food"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(context.Background(), database, cfg, tt.input)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("Evaluate error = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestDBSource_WrapsFetchErrors(t *testing.T) {
	database, cfg := setupTest(t)
	src := NewDBSource(database, cfg)

	_, err := src.FetchNearby(context.Background(), home)
	if err != nil {
		t.Fatalf("FetchNearby failed: %v", err)
	}

	database.Close()
	_, err = src.FetchNearbyByCategory(context.Background(), home, "Food")
	if !errors.Is(err, errors.ErrFetch) {
		t.Errorf("FetchNearbyByCategory on closed db error = %v, want FETCH_ERROR", err)
	}
}

func TestDBSource_FetchIsUncapped(t *testing.T) {
	database, cfg := setupTest(t)
	author := registerUser(t, database, "ana@example.com")
	ctx := context.Background()

	const total = MaxNearbyLimit + 1
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	for i := 0; i < total; i++ {
		p := &post.Post{
			ID:        fmt.Sprintf("post-%04d", i),
			AuthorID:  author.ID,
			Category:  "Food",
			Content:   fmt.Sprintf("post %d", i),
			Latitude:  home.Latitude,
			Longitude: home.Longitude,
			CreatedAt: int64(i),
		}
		if err := db.InsertPost(ctx, tx, p); err != nil {
			t.Fatalf("InsertPost(%d) failed: %v", i, err)
		}
	}
	last := &post.Post{
		ID: "post-last", AuthorID: author.ID, Category: "Drinks", Content: "Happy hour",
		Latitude: home.Latitude, Longitude: home.Longitude, CreatedAt: total,
	}
	if err := db.InsertPost(ctx, tx, last); err != nil {
		t.Fatalf("InsertPost(last) failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	src := NewDBSource(database, cfg)
	posts, err := src.FetchNearby(ctx, home)
	if err != nil {
		t.Fatalf("FetchNearby failed: %v", err)
	}
	if len(posts) != total+1 {
		t.Errorf("FetchNearby returned %d posts, want %d", len(posts), total+1)
	}
	posts, err = src.FetchNearbyByCategory(ctx, home, "food")
	if err != nil {
		t.Fatalf("FetchNearbyByCategory failed: %v", err)
	}
	if len(posts) != total {
		t.Errorf("FetchNearbyByCategory returned %d posts, want %d", len(posts), total)
	}

	// The listing operation keeps its page cap.
	out, err := Nearby(ctx, database, cfg, NearbyInput{Latitude: home.Latitude, Longitude: home.Longitude})
	if err != nil {
		t.Fatalf("Nearby failed: %v", err)
	}
	if out.Count != MaxNearbyLimit {
		t.Errorf("Nearby Count = %d, want %d", out.Count, MaxNearbyLimit)
	}

	cats, err := Categories(ctx, database, cfg, CategoriesInput{Latitude: home.Latitude, Longitude: home.Longitude})
	if err != nil {
		t.Fatalf("Categories failed: %v", err)
	}
	if len(cats.Categories) != 2 || cats.Categories[1] != "Drinks" {
		t.Errorf("Categories = %v, want [Food Drinks]", cats.Categories)
	}
}

func postIDs(posts []post.Post) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}

func equalIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
