package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/jredh-dev/memotag/pkg/models"
)

// FirestoreConfig configures the Firestore-backed gateway.
type FirestoreConfig struct {
	ProjectID       string
	DatabaseID      string // "(default)" if empty
	CredentialsPath string // optional; ADC is used when empty

	ItemsCollection    string // "items" if empty
	MessagesCollection string // "messages" if empty
}

// Firestore implements Gateway against a Firestore database with one
// collection per entity. Timestamps are stored as ISO-8601 strings,
// which keeps the newest-first ordering a plain lexicographic OrderBy.
type Firestore struct {
	client   *firestore.Client
	items    string
	messages string
}

var _ Gateway = (*Firestore)(nil)

// NewFirestore connects to Firestore. It does not verify reachability;
// the first call surfaces connectivity problems as not_connected.
func NewFirestore(ctx context.Context, cfg FirestoreConfig) (*Firestore, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore: project ID is required")
	}

	db := cfg.DatabaseID
	if db == "" {
		db = firestore.DefaultDatabaseID
	}

	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	client, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, db, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	fs := &Firestore{
		client:   client,
		items:    cfg.ItemsCollection,
		messages: cfg.MessagesCollection,
	}
	if fs.items == "" {
		fs.items = "items"
	}
	if fs.messages == "" {
		fs.messages = "messages"
	}
	return fs, nil
}

// Close releases the underlying client.
func (f *Firestore) Close() error { return f.client.Close() }

// --- document mapping ---

type itemDoc struct {
	ItemID    string `firestore:"item_id"`
	Name      string `firestore:"name"`
	Location  string `firestore:"location"`
	Status    string `firestore:"status"`
	CreatedAt string `firestore:"createdAt"`
	UpdatedAt string `firestore:"updatedAt"`
}

type messageDoc struct {
	ItemID    string `firestore:"item_id"`
	Body      string `firestore:"message"`
	UserName  string `firestore:"user_name"`
	Type      string `firestore:"msg_type"`
	CreatedAt string `firestore:"createdAt"`
}

// timeLayouts are the accepted document timestamp forms. Historical
// writers disagreed about fractional seconds and zone suffixes, so the
// parser accepts all of them.
var timeLayouts = []string{
	time.RFC3339,                    // 2025-01-15T10:30:00Z, with or without fraction
	"2006-01-02T15:04:05.999999999", // no zone, assumed UTC
	"2006-01-02 15:04:05",
}

func parseDocTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func formatDocTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (d itemDoc) toModel(docID string) (models.Item, error) {
	created, err := parseDocTime(d.CreatedAt)
	if err != nil {
		return models.Item{}, err
	}
	updated, err := parseDocTime(d.UpdatedAt)
	if err != nil {
		return models.Item{}, err
	}
	status, err := models.ParseItemStatus(d.Status)
	if err != nil {
		return models.Item{}, err
	}
	return models.Item{
		ID:        docID,
		ItemID:    d.ItemID,
		Name:      d.Name,
		Location:  d.Location,
		Status:    status,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

func (d messageDoc) toModel(docID string) (models.Message, error) {
	created, err := parseDocTime(d.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	typ, err := models.ParseMessageType(d.Type)
	if err != nil {
		return models.Message{}, err
	}
	userName := d.UserName
	if userName == "" {
		userName = models.AnonymousUser
	}
	return models.Message{
		ID:        docID,
		ItemID:    d.ItemID,
		Body:      d.Body,
		UserName:  userName,
		Type:      typ,
		State:     models.MessageConfirmed,
		CreatedAt: created,
	}, nil
}

// --- item operations ---

// ListItems returns up to limit items, newest first.
func (f *Firestore) ListItems(ctx context.Context, limit int) ([]models.Item, error) {
	const op = "list-items"

	iter := f.client.Collection(f.items).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var items []models.Item
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapRPC(op, err)
		}
		var d itemDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, &Error{Kind: KindServer, Op: op, Err: err}
		}
		item, err := d.toModel(snap.Ref.ID)
		if err != nil {
			return nil, &Error{Kind: KindServer, Op: op, Err: err}
		}
		items = append(items, item)
	}
	return items, nil
}

// itemSnap resolves an application identifier to its document snapshot.
func (f *Firestore) itemSnap(ctx context.Context, op, itemID string) (*firestore.DocumentSnapshot, error) {
	iter := f.client.Collection(f.items).
		Where("item_id", "==", itemID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, notFound(op, itemID)
	}
	if err != nil {
		return nil, wrapRPC(op, err)
	}
	return snap, nil
}

// GetItem returns the item with the given application identifier.
func (f *Firestore) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	const op = "get-item"

	snap, err := f.itemSnap(ctx, op, itemID)
	if err != nil {
		return nil, err
	}
	var d itemDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, &Error{Kind: KindServer, Op: op, Err: err}
	}
	item, err := d.toModel(snap.Ref.ID)
	if err != nil {
		return nil, &Error{Kind: KindServer, Op: op, Err: err}
	}
	return &item, nil
}

// CreateItem stores a new item record.
func (f *Firestore) CreateItem(ctx context.Context, item models.Item) (*models.Item, error) {
	const op = "create-item"

	if strings.TrimSpace(item.Name) == "" {
		return nil, validationErr(op, errors.New("item name is required"))
	}
	if strings.TrimSpace(item.ItemID) == "" {
		return nil, validationErr(op, errors.New("item identifier is required"))
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = item.CreatedAt

	doc := itemDoc{
		ItemID:    item.ItemID,
		Name:      item.Name,
		Location:  item.Location,
		Status:    string(item.Status),
		CreatedAt: formatDocTime(item.CreatedAt),
		UpdatedAt: formatDocTime(item.UpdatedAt),
	}
	ref, _, err := f.client.Collection(f.items).Add(ctx, doc)
	if err != nil {
		return nil, wrapRPC(op, err)
	}

	item.ID = ref.ID
	item.Messages = nil
	return &item, nil
}

// UpdateItemStatus overwrites the item's status and refreshes updatedAt.
func (f *Firestore) UpdateItemStatus(ctx context.Context, itemID string, status models.ItemStatus) error {
	const op = "update-item-status"

	snap, err := f.itemSnap(ctx, op, itemID)
	if err != nil {
		return err
	}
	_, err = snap.Ref.Update(ctx, []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: formatDocTime(time.Now())},
	})
	return wrapRPC(op, err)
}

// DeleteItem removes the item record without touching its messages.
func (f *Firestore) DeleteItem(ctx context.Context, itemID string) error {
	const op = "delete-item"

	snap, err := f.itemSnap(ctx, op, itemID)
	if err != nil {
		return err
	}
	_, err = snap.Ref.Delete(ctx)
	return wrapRPC(op, err)
}

// --- message operations ---

// ListMessages returns up to limit messages for an item, newest first.
func (f *Firestore) ListMessages(ctx context.Context, itemID string, limit int) ([]models.Message, error) {
	const op = "list-messages"

	iter := f.client.Collection(f.messages).
		Where("item_id", "==", itemID).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var msgs []models.Message
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapRPC(op, err)
		}
		var d messageDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, &Error{Kind: KindServer, Op: op, Err: err}
		}
		msg, err := d.toModel(snap.Ref.ID)
		if err != nil {
			return nil, &Error{Kind: KindServer, Op: op, Err: err}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// PostMessage stores a new message record.
func (f *Firestore) PostMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	const op = "post-message"

	if strings.TrimSpace(msg.Body) == "" {
		return nil, validationErr(op, errors.New("message body is required"))
	}
	if strings.TrimSpace(msg.ItemID) == "" {
		return nil, validationErr(op, errors.New("item identifier is required"))
	}
	if msg.UserName == "" {
		msg.UserName = models.AnonymousUser
	}

	msg.CreatedAt = time.Now().UTC()
	doc := messageDoc{
		ItemID:    msg.ItemID,
		Body:      msg.Body,
		UserName:  msg.UserName,
		Type:      string(msg.Type),
		CreatedAt: formatDocTime(msg.CreatedAt),
	}
	ref, _, err := f.client.Collection(f.messages).Add(ctx, doc)
	if err != nil {
		return nil, wrapRPC(op, err)
	}

	msg.ID = ref.ID
	msg.State = models.MessageConfirmed
	return &msg, nil
}

// DeleteMessage removes a single message by its document ID.
func (f *Firestore) DeleteMessage(ctx context.Context, messageID string) error {
	const op = "delete-message"

	if messageID == "" {
		return validationErr(op, errors.New("message ID is required"))
	}
	_, err := f.client.Collection(f.messages).Doc(messageID).Delete(ctx)
	return wrapRPC(op, err)
}
