package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seventeenk/storefront/internal/core/domain"
	"github.com/seventeenk/storefront/internal/port"
)

const maxRelatedItems = 4

type CatalogService struct {
	catalog port.CatalogRepository
	log     *zap.Logger
	now     func() time.Time
	newID   func() string
}

type NewItem struct {
	Title       string
	Type        string
	Description string
	Tags        []string
	License     []string
	Images      []string
	IsFree      bool
	Price       int64
	DriveLink   string
}

type NewPost struct {
	Title      string
	Author     string
	Content    string
	CoverImage string
}

type ItemDetail struct {
	Item    domain.ItemView   `json:"item"`
	Related []domain.ItemView `json:"related"`
}

func NewCatalogService(catalog port.CatalogRepository, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{
		catalog: catalog,
		log:     logger.Named("catalog"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (s *CatalogService) ListItems(ctx context.Context, itemType string) ([]domain.ItemView, error) {
	items, err := s.catalog.ListItems(ctx, strings.TrimSpace(itemType))
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return views(items, ""), nil
}

// GetItem returns the public view of an item with a few others of its type.
func (s *CatalogService) GetItem(ctx context.Context, itemID string) (*ItemDetail, error) {
	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}

	detail := &ItemDetail{Item: item.View(), Related: []domain.ItemView{}}
	if item.Type == "" {
		return detail, nil
	}

	same, err := s.catalog.ListItems(ctx, item.Type)
	if err != nil {
		// Related items are decoration; the item itself is still served.
		s.log.Warn("list related items", zap.String("item_id", itemID), zap.Error(err))
		return detail, nil
	}
	related := views(same, item.ID)
	if len(related) > maxRelatedItems {
		related = related[:maxRelatedItems]
	}
	detail.Related = related
	return detail, nil
}

func (s *CatalogService) CreateItem(ctx context.Context, in NewItem) (*domain.MarketplaceItem, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.DriveLink = strings.TrimSpace(in.DriveLink)

	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if err := validateLink(in.DriveLink); err != nil {
		return nil, err
	}
	if in.Price < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidRequest)
	}
	if in.IsFree {
		in.Price = 0
	}

	now := s.now().UTC()
	item := domain.MarketplaceItem{
		ID:          s.newID(),
		Title:       in.Title,
		Type:        strings.TrimSpace(in.Type),
		Description: in.Description,
		Tags:        cleanList(in.Tags),
		License:     cleanList(in.License),
		Images:      cleanList(in.Images),
		IsFree:      in.IsFree,
		Price:       in.Price,
		DriveLink:   in.DriveLink,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.catalog.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	s.log.Info("item created", zap.String("item_id", item.ID), zap.Bool("free", item.IsFree))
	return &item, nil
}

func (s *CatalogService) ListPosts(ctx context.Context) ([]domain.BlogPost, error) {
	posts, err := s.catalog.ListPosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	if posts == nil {
		posts = []domain.BlogPost{}
	}
	return posts, nil
}

func (s *CatalogService) GetPost(ctx context.Context, postID string) (*domain.BlogPost, error) {
	post, err := s.catalog.GetPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	if post == nil {
		return nil, fmt.Errorf("%w: post %s", ErrNotFound, postID)
	}
	return post, nil
}

func (s *CatalogService) CreatePost(ctx context.Context, in NewPost) (*domain.BlogPost, error) {
	post := domain.BlogPost{
		ID:         s.newID(),
		Title:      strings.TrimSpace(in.Title),
		Author:     strings.TrimSpace(in.Author),
		Content:    in.Content,
		CoverImage: strings.TrimSpace(in.CoverImage),
		CreatedAt:  s.now().UTC(),
	}
	if post.Title == "" || post.Author == "" {
		return nil, fmt.Errorf("%w: title and author are required", ErrInvalidRequest)
	}
	if strings.TrimSpace(post.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidRequest)
	}
	if err := s.catalog.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	s.log.Info("post created", zap.String("post_id", post.ID))
	return &post, nil
}

func validateLink(link string) error {
	if link == "" {
		return fmt.Errorf("%w: drive link is required", ErrInvalidRequest)
	}
	u, err := url.Parse(link)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: drive link must be an absolute http(s) url", ErrInvalidRequest)
	}
	return nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func views(items []domain.MarketplaceItem, skipID string) []domain.ItemView {
	out := make([]domain.ItemView, 0, len(items))
	for _, it := range items {
		if it.ID == skipID {
			continue
		}
		out = append(out, it.View())
	}
	return out
}
