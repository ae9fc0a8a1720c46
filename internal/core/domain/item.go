package domain

import "time"

// MarketplaceItem is a downloadable asset listed on the marketplace.
// DriveLink is only ever handed out by fulfillment.
type MarketplaceItem struct {
	ID          string
	Title       string
	Type        string
	Description string
	Tags        []string
	License     []string
	Images      []string
	IsFree      bool
	Price       int64 // minor currency units
	DriveLink   string
	Downloads   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Fulfillable reports whether the item has an asset to deliver.
func (i MarketplaceItem) Fulfillable() bool {
	return i.DriveLink != ""
}

// View returns the public projection of the item.
func (i MarketplaceItem) View() ItemView {
	return ItemView{
		ID:          i.ID,
		Title:       i.Title,
		Type:        i.Type,
		Description: i.Description,
		Tags:        nonNil(i.Tags),
		License:     nonNil(i.License),
		Images:      nonNil(i.Images),
		IsFree:      i.IsFree,
		Price:       i.Price,
		Downloads:   i.Downloads,
		CreatedAt:   i.CreatedAt,
	}
}

// ItemView is what buyers see. It never carries the drive link.
type ItemView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	License     []string  `json:"license"`
	Images      []string  `json:"images"`
	IsFree      bool      `json:"isFree"`
	Price       int64     `json:"price"`
	Downloads   int64     `json:"downloads"`
	CreatedAt   time.Time `json:"createdAt"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
