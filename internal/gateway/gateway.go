// Package gateway talks to the hosted document database holding the
// authoritative copy of items and messages. Items and messages live in
// two collections whose documents carry the application-level item_id
// as a field; the document ID itself is storage detail.
package gateway

import (
	"context"

	"github.com/jredh-dev/memotag/pkg/models"
)

// Gateway is the remote CRUD contract consumed by the sync coordinator.
// All listing is most-recent-first with a bounded page size. Every call
// fails with a *Error carrying one of the Kind values.
type Gateway interface {
	// ListItems returns up to limit items, newest first. Messages are
	// not populated; fetch them per item with ListMessages.
	ListItems(ctx context.Context, limit int) ([]models.Item, error)

	// GetItem returns the item with the given application identifier.
	GetItem(ctx context.Context, itemID string) (*models.Item, error)

	// CreateItem stores a new item record and returns it with the
	// gateway-assigned ID and timestamps filled in.
	CreateItem(ctx context.Context, item models.Item) (*models.Item, error)

	// UpdateItemStatus overwrites the item's status and refreshes its
	// updatedAt timestamp.
	UpdateItemStatus(ctx context.Context, itemID string, status models.ItemStatus) error

	// DeleteItem removes the item record. It does not cascade; callers
	// delete the item's messages first.
	DeleteItem(ctx context.Context, itemID string) error

	// ListMessages returns up to limit messages for an item, newest
	// first.
	ListMessages(ctx context.Context, itemID string, limit int) ([]models.Message, error)

	// PostMessage stores a new message and returns it with the
	// gateway-assigned ID and timestamp filled in.
	PostMessage(ctx context.Context, msg models.Message) (*models.Message, error)

	// DeleteMessage removes a single message by its gateway ID.
	DeleteMessage(ctx context.Context, messageID string) error
}
