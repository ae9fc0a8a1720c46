package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seventeenk/storefront/internal/core/domain"
	"github.com/seventeenk/storefront/internal/port"
)

var ErrItemMissing = errors.New("item does not exist")

const itemColumns = `id, title, type, description, tags, license, images, is_free, price, drive_link, downloads, created_at, updated_at`

const purchaseColumns = `id, item_id, email, amount, currency, status, payment_url, idempotency_key, created_at, updated_at`

// SQLAdapter stores the catalog, purchases and the fulfillment ledger in
// MySQL or SQLite. Timestamps are kept as unix microseconds.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLAdapter(db *sql.DB, dialect Dialect) *SQLAdapter {
	return &SQLAdapter{db: db, dialect: dialect, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (m *SQLAdapter) GetItem(ctx context.Context, itemID string) (*domain.MarketplaceItem, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM marketplace_items WHERE id = ?`, itemID)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return item, nil
}

func (m *SQLAdapter) ListItems(ctx context.Context, itemType string) ([]domain.MarketplaceItem, error) {
	query := `SELECT ` + itemColumns + ` FROM marketplace_items`
	var args []any
	if itemType != "" {
		query += ` WHERE type = ?`
		args = append(args, itemType)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.MarketplaceItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (m *SQLAdapter) CreateItem(ctx context.Context, item domain.MarketplaceItem) error {
	tags, license, images, err := encodeLists(item.Tags, item.License, item.Images)
	if err != nil {
		return err
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO marketplace_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Title, item.Type, item.Description, tags, license, images,
		item.IsFree, item.Price, item.DriveLink, item.Downloads,
		item.CreatedAt.UnixMicro(), item.UpdatedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// IncrementDownloads relies on the single-statement update being atomic.
func (m *SQLAdapter) IncrementDownloads(ctx context.Context, itemID string) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE marketplace_items
		SET downloads = downloads + 1, updated_at = ?
		WHERE id = ?`,
		m.now().UnixMicro(), itemID,
	)
	if err != nil {
		return fmt.Errorf("increment downloads: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrItemMissing
	}
	return nil
}

func (m *SQLAdapter) GetPost(ctx context.Context, postID string) (*domain.BlogPost, error) {
	var p domain.BlogPost
	var created int64
	err := m.db.QueryRowContext(ctx, `
		SELECT id, title, author, content, cover_image, created_at
		FROM blog_posts WHERE id = ?`, postID,
	).Scan(&p.ID, &p.Title, &p.Author, &p.Content, &p.CoverImage, &created)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query post: %w", err)
	}
	p.CreatedAt = fromMicros(created)
	return &p, nil
}

func (m *SQLAdapter) ListPosts(ctx context.Context) ([]domain.BlogPost, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, title, author, content, cover_image, created_at
		FROM blog_posts ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.BlogPost
	for rows.Next() {
		var p domain.BlogPost
		var created int64
		if err := rows.Scan(&p.ID, &p.Title, &p.Author, &p.Content, &p.CoverImage, &created); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		p.CreatedAt = fromMicros(created)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (m *SQLAdapter) CreatePost(ctx context.Context, post domain.BlogPost) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO blog_posts (id, title, author, content, cover_image, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		post.ID, post.Title, post.Author, post.Content, post.CoverImage, post.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (m *SQLAdapter) CreatePurchase(ctx context.Context, p domain.PendingPurchase) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO pending_purchases (`+purchaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ItemID, p.Email, p.Amount, p.Currency, p.Status, p.PaymentURL, p.IdempotencyKey,
		p.CreatedAt.UnixMicro(), p.UpdatedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

func (m *SQLAdapter) GetPurchase(ctx context.Context, purchaseID string) (*domain.PendingPurchase, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM pending_purchases WHERE id = ?`, purchaseID)

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query purchase: %w", err)
	}
	return p, nil
}

func (m *SQLAdapter) SetPaymentURL(ctx context.Context, purchaseID, paymentURL string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE pending_purchases SET payment_url = ?, updated_at = ? WHERE id = ?`,
		paymentURL, m.now().UnixMicro(), purchaseID,
	)
	if err != nil {
		return fmt.Errorf("update payment url: %w", err)
	}
	return nil
}

// TransitionPurchase only updates rows still in one of the from statuses,
// so concurrent callers cannot both move the same purchase.
func (m *SQLAdapter) TransitionPurchase(ctx context.Context, purchaseID string, to domain.PurchaseStatus, from ...domain.PurchaseStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition purchase: no source status")
	}

	args := []any{to, m.now().UnixMicro(), purchaseID}
	for _, st := range from {
		args = append(args, st)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")

	result, err := m.db.ExecContext(ctx, `
		UPDATE pending_purchases
		SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("transition purchase: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (m *SQLAdapter) ListPurchases(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.PendingPurchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM pending_purchases`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingPurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (m *SQLAdapter) ExpirePurchases(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE pending_purchases
		SET status = ?, updated_at = ?
		WHERE status = ? AND created_at < ?`,
		domain.PurchaseStatusAbandoned, m.now().UnixMicro(), domain.PurchaseStatusInitiated, cutoff.UnixMicro(),
	)
	if err != nil {
		return 0, fmt.Errorf("expire purchases: %w", err)
	}
	return result.RowsAffected()
}

// ClaimFulfillment inserts the ledger row unless the key is already taken.
// The primary key makes this the one conditional write deciding delivery.
func (m *SQLAdapter) ClaimFulfillment(ctx context.Context, f domain.Fulfillment) (bool, error) {
	result, err := m.db.ExecContext(ctx, m.dialect.insertIgnore+` fulfillments
		(idempotency_key, item_id, email, reference, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.IdempotencyKey, f.ItemID, f.Email, f.Reference, f.Source, f.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return false, fmt.Errorf("insert fulfillment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert fulfillment: %w", err)
	}
	return rows == 1, nil
}

func (m *SQLAdapter) ReleaseFulfillment(ctx context.Context, idempotencyKey string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM fulfillments WHERE idempotency_key = ?`, idempotencyKey)
	if err != nil {
		return fmt.Errorf("delete fulfillment: %w", err)
	}
	return nil
}

func scanItem(row rowScanner) (*domain.MarketplaceItem, error) {
	var it domain.MarketplaceItem
	var tags, license, images string
	var created, updated int64

	err := row.Scan(&it.ID, &it.Title, &it.Type, &it.Description, &tags, &license, &images,
		&it.IsFree, &it.Price, &it.DriveLink, &it.Downloads, &created, &updated)
	if err != nil {
		return nil, err
	}

	if err := decodeList(tags, &it.Tags); err != nil {
		return nil, err
	}
	if err := decodeList(license, &it.License); err != nil {
		return nil, err
	}
	if err := decodeList(images, &it.Images); err != nil {
		return nil, err
	}
	it.CreatedAt = fromMicros(created)
	it.UpdatedAt = fromMicros(updated)
	return &it, nil
}

func scanPurchase(row rowScanner) (*domain.PendingPurchase, error) {
	var p domain.PendingPurchase
	var created, updated int64

	err := row.Scan(&p.ID, &p.ItemID, &p.Email, &p.Amount, &p.Currency, &p.Status,
		&p.PaymentURL, &p.IdempotencyKey, &created, &updated)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromMicros(created)
	p.UpdatedAt = fromMicros(updated)
	return &p, nil
}

func encodeLists(lists ...[]string) (string, string, string, error) {
	out := make([]string, len(lists))
	for i, l := range lists {
		if l == nil {
			l = []string{}
		}
		b, err := json.Marshal(l)
		if err != nil {
			return "", "", "", fmt.Errorf("encode list: %w", err)
		}
		out[i] = string(b)
	}
	return out[0], out[1], out[2], nil
}

func decodeList(raw string, dst *[]string) error {
	if raw == "" {
		*dst = []string{}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode list: %w", err)
	}
	return nil
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

var _ port.DatabaseRepository = (*SQLAdapter)(nil)
