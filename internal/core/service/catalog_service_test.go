package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seventeenk/storefront/internal/core/domain"
)

func TestCatalog_CreateItem(t *testing.T) {
	db := newMockDB()
	svc := NewCatalogService(db, nil)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return now }
	svc.newID = func() string { return "item-1" }

	item, err := svc.CreateItem(context.Background(), NewItem{
		Title:     "  Low Poly Trees ",
		Type:      "3D Models",
		Tags:      []string{"trees", " ", "nature "},
		IsFree:    true,
		Price:     1500,
		DriveLink: "https://drive.google.com/file/d/abc",
	})
	require.NoError(t, err)

	want := domain.MarketplaceItem{
		ID:        "item-1",
		Title:     "Low Poly Trees",
		Type:      "3D Models",
		Tags:      []string{"trees", "nature"},
		License:   []string{},
		Images:    []string{},
		IsFree:    true,
		Price:     0,
		DriveLink: "https://drive.google.com/file/d/abc",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if diff := cmp.Diff(want, *item); diff != "" {
		t.Errorf("created item mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, db.items, "item-1")
}

func TestCatalog_CreateItemValidation(t *testing.T) {
	svc := NewCatalogService(newMockDB(), nil)

	cases := map[string]NewItem{
		"no title":       {DriveLink: "https://drive/x"},
		"no link":        {Title: "T"},
		"relative link":  {Title: "T", DriveLink: "/files/x"},
		"bad scheme":     {Title: "T", DriveLink: "javascript:alert(1)"},
		"negative price": {Title: "T", DriveLink: "https://drive/x", Price: -1},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateItem(context.Background(), in)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestCatalog_GetItemHidesDriveLink(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db := newMockDB(
		domain.MarketplaceItem{ID: "a", Type: "Textures", Title: "A", DriveLink: "https://drive/secret-a", CreatedAt: base},
		domain.MarketplaceItem{ID: "b", Type: "Textures", Title: "B", DriveLink: "https://drive/secret-b", CreatedAt: base.Add(time.Hour)},
		domain.MarketplaceItem{ID: "c", Type: "Image", Title: "C", DriveLink: "https://drive/secret-c", CreatedAt: base.Add(2 * time.Hour)},
	)
	svc := NewCatalogService(db, nil)

	detail, err := svc.GetItem(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", detail.Item.ID)
	require.Len(t, detail.Related, 1)
	assert.Equal(t, "b", detail.Related[0].ID)

	raw, err := json.Marshal(detail)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
	assert.NotContains(t, string(raw), "driveLink")

	_, err = svc.GetItem(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalog_ListItemsByType(t *testing.T) {
	db := newMockDB(
		domain.MarketplaceItem{ID: "a", Type: "Textures"},
		domain.MarketplaceItem{ID: "b", Type: "Image"},
	)
	svc := NewCatalogService(db, nil)

	all, err := svc.ListItems(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	textures, err := svc.ListItems(context.Background(), "Textures")
	require.NoError(t, err)
	require.Len(t, textures, 1)
	assert.Equal(t, "a", textures[0].ID)
}

func TestCatalog_Posts(t *testing.T) {
	db := newMockDB()
	svc := NewCatalogService(db, nil)
	ids := []string{"p1", "p2"}
	svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	_, err := svc.CreatePost(context.Background(), NewPost{Title: "First", Author: "Ada", Content: "<p>hi</p>"})
	require.NoError(t, err)
	base = base.Add(time.Hour)
	_, err = svc.CreatePost(context.Background(), NewPost{Title: "Second", Author: "Ada", Content: "<p>again</p>"})
	require.NoError(t, err)

	posts, err := svc.ListPosts(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "p2", posts[0].ID)

	post, err := svc.GetPost(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "First", post.Title)

	_, err = svc.GetPost(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.CreatePost(context.Background(), NewPost{Title: "No author", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
