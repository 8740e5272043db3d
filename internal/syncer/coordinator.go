// Package syncer reconciles the remote gateway with the local mirror.
//
// The Coordinator is the single in-memory source of truth consumed by
// the presentation surface. Loads replace the item list wholesale and
// write it through to the mirror; when the gateway is unreachable the
// mirror is read back instead and the state is marked offline. Message
// posts are optimistic: a tentative placeholder is shown immediately and
// confirmed or rolled back when the remote call settles.
package syncer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jredh-dev/memotag/internal/gateway"
	"github.com/jredh-dev/memotag/pkg/deeplink"
	"github.com/jredh-dev/memotag/pkg/models"
)

// SyncStatus is the coordinator's reconciliation state. Every failure is
// terminal for its attempt; the status moves back to syncing only on the
// next explicit or timer-triggered call.
type SyncStatus string

const (
	StatusIdle    SyncStatus = "idle"
	StatusSyncing SyncStatus = "syncing"
	StatusSuccess SyncStatus = "success"
	StatusOffline SyncStatus = "offline"
	StatusError   SyncStatus = "error"
)

// Mirror is the local cache contract the coordinator writes through to.
// It is an offline fallback only, never the authority.
type Mirror interface {
	ReplaceAll(items []models.Item) error
	ReadAll() ([]models.Item, error)
	DeleteItem(itemID string) error
	Template(typ models.MessageType) (string, error)
	SetTemplate(typ models.MessageType, text string) error
	SetLastSyncedAt(t time.Time) error
}

// Coordinator orchestrates load-from-remote-else-mirror, optimistic
// message insertion, status-transition side effects and write-through
// caching. Construct one per process and share it by reference.
type Coordinator struct {
	gw        gateway.Gateway
	mirror    Mirror
	log       zerolog.Logger
	pageSize  int
	templates map[models.MessageType]string
	now       func() time.Time

	mu      sync.Mutex
	items   []models.Item
	status  SyncStatus
	lastErr error
	loading bool
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithPageSize bounds item and message listing.
func WithPageSize(n int) Option {
	return func(c *Coordinator) { c.pageSize = n }
}

// WithTemplateDefaults sets the fallback status message templates used
// when no user-configured template is stored.
func WithTemplateDefaults(m map[models.MessageType]string) Option {
	return func(c *Coordinator) { c.templates = m }
}

// WithClock overrides the coordinator's time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator. The item list starts empty with status
// idle; call LoadItems (or start a Refresher) to populate it.
func New(gw gateway.Gateway, mirror Mirror, opts ...Option) *Coordinator {
	c := &Coordinator{
		gw:        gw,
		mirror:    mirror,
		log:       zerolog.Nop(),
		pageSize:  100,
		templates: map[models.MessageType]string{},
		now:       time.Now,
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Items returns a copy of the in-memory item list, newest first.
func (c *Coordinator) Items() []models.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneItems(c.items)
}

// State returns the current sync status and the last captured error.
func (c *Coordinator) State() (SyncStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.lastErr
}

// LoadItems fetches all items and their messages from the gateway and
// replaces the in-memory list in one swap. On any remote failure the
// attempt is abandoned and the mirror is read back instead, marking the
// state offline. A call racing an in-flight load is dropped, not queued.
func (c *Coordinator) LoadItems(ctx context.Context) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	c.status = StatusSyncing
	c.mu.Unlock()

	items, err := c.fetchRemote(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false

	if err != nil {
		cached, cerr := c.mirror.ReadAll()
		if cerr != nil {
			// Both remote and mirror failed: keep the last-known list,
			// stale but present.
			c.log.Warn().Err(cerr).Msg("mirror fallback read failed, keeping last known items")
		} else {
			c.items = cached
		}
		c.status = StatusOffline
		c.lastErr = err
		return err
	}

	c.items = items
	c.status = StatusSuccess
	c.lastErr = nil

	if werr := c.mirror.ReplaceAll(cloneItems(items)); werr != nil {
		c.log.Warn().Err(werr).Msg("mirror write-through failed")
	} else if serr := c.mirror.SetLastSyncedAt(c.now()); serr != nil {
		c.log.Warn().Err(serr).Msg("recording sync time failed")
	}
	return nil
}

// fetchRemote assembles complete item records: the item page first, then
// each item's messages. Any failure abandons the whole attempt.
func (c *Coordinator) fetchRemote(ctx context.Context) ([]models.Item, error) {
	items, err := c.gw.ListItems(ctx, c.pageSize)
	if err != nil {
		return nil, err
	}
	for i := range items {
		msgs, err := c.gw.ListMessages(ctx, items[i].ItemID, c.pageSize)
		if err != nil {
			return nil, err
		}
		items[i].Messages = msgs
	}
	return items, nil
}

// CreateItem generates the next same-day identifier, creates the record
// remotely and, only on success, inserts the new item at the front of
// the in-memory list and writes through to the mirror.
//
// The identifier comes from counting in-memory items with today's date
// prefix. Two devices creating concurrently can mint the same suffix;
// the scheme is kept as-is and the limitation is covered by tests.
func (c *Coordinator) CreateItem(ctx context.Context, name, location string) (*models.Item, error) {
	name = strings.TrimSpace(name)
	location = strings.TrimSpace(location)
	if name == "" {
		return nil, ErrNameRequired
	}

	now := c.now()
	c.mu.Lock()
	c.status = StatusSyncing
	seq := 1 + countPrefix(c.items, models.DayPrefix(now))
	c.mu.Unlock()

	item := models.Item{
		ItemID:    models.FormatItemID(now, seq),
		Name:      name,
		Location:  location,
		Status:    models.StatusWorking,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := c.gw.CreateItem(ctx, item)
	if err != nil {
		c.fail(err)
		return nil, err
	}

	c.mu.Lock()
	c.items = append([]models.Item{*created}, c.items...)
	snapshot := cloneItems(c.items)
	c.status = StatusSuccess
	c.lastErr = nil
	c.mu.Unlock()

	c.writeThrough(snapshot)

	out := *created
	return &out, nil
}

// AddMessage posts a message to an item that is already in the in-memory
// list, using the optimistic-insert protocol: a pending placeholder is
// prepended immediately, then confirmed by re-fetching the authoritative
// message list, or removed again if the post fails.
//
// For non-general types the parent item's status is updated with a
// second remote call after the message post. An empty body on a
// status-carrying type is filled from the configured template. Failure
// of the status call alone is returned as a *PartialError: the message
// is recorded, the status is not.
func (c *Coordinator) AddMessage(ctx context.Context, itemID, body, userName string, typ models.MessageType) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		if _, ok := typ.Status(); !ok {
			return nil, ErrMessageRequired
		}
		body = c.StatusTemplate(typ)
	}
	userName = strings.TrimSpace(userName)
	if userName == "" {
		userName = models.AnonymousUser
	}

	placeholder := models.Message{
		ID:        "pending-" + uuid.NewString(),
		ItemID:    itemID,
		Body:      body,
		UserName:  userName,
		Type:      typ,
		State:     models.MessagePending,
		CreatedAt: c.now(),
	}

	c.mu.Lock()
	idx := indexOf(c.items, itemID)
	if idx < 0 {
		c.mu.Unlock()
		return nil, ErrItemNotFound
	}
	c.status = StatusSyncing
	c.items[idx].Messages = append([]models.Message{placeholder}, c.items[idx].Messages...)
	c.mu.Unlock()

	posted, err := c.gw.PostMessage(ctx, models.Message{
		ItemID:   itemID,
		Body:     body,
		UserName: userName,
		Type:     typ,
	})
	if err != nil {
		c.mu.Lock()
		if i := indexOf(c.items, itemID); i >= 0 {
			c.items[i].Messages = removeMessage(c.items[i].Messages, placeholder.ID)
		}
		c.mu.Unlock()
		c.fail(err)
		return nil, err
	}

	c.confirmMessage(ctx, itemID, placeholder.ID, *posted)

	// Status transition second, always after the message post. The two
	// writes are not atomic; independent failure here is partial.
	var partial *PartialError
	if status, ok := typ.Status(); ok {
		if serr := c.gw.UpdateItemStatus(ctx, itemID, status); serr != nil {
			partial = &PartialError{Op: "add-message", ItemID: itemID, Err: serr}
		} else {
			c.mu.Lock()
			if i := indexOf(c.items, itemID); i >= 0 {
				c.items[i].Status = status
				c.items[i].UpdatedAt = c.now()
			}
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	snapshot := cloneItems(c.items)
	if partial != nil {
		c.status = StatusError
		c.lastErr = partial
	} else {
		c.status = StatusSuccess
		c.lastErr = nil
	}
	c.mu.Unlock()

	c.writeThrough(snapshot)

	if partial != nil {
		return posted, partial
	}
	return posted, nil
}

// confirmMessage replaces the optimistic placeholder with authoritative
// state: the item's message list is re-fetched from the gateway. If the
// re-fetch itself fails, the confirmed message is substituted for the
// placeholder so no pending marker survives a successful post.
func (c *Coordinator) confirmMessage(ctx context.Context, itemID, placeholderID string, confirmed models.Message) {
	msgs, err := c.gw.ListMessages(ctx, itemID, c.pageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	idx := indexOf(c.items, itemID)
	if idx < 0 {
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Str("item_id", itemID).Msg("post confirmed but re-fetch failed, substituting confirmed message")
		c.items[idx].Messages = replaceMessage(c.items[idx].Messages, placeholderID, confirmed)
		return
	}
	c.items[idx].Messages = msgs
}

// DeleteItem cascades: all of the item's messages are deleted first,
// then the item record. The item leaves the in-memory list only after
// both remote phases are acknowledged. A failure after some deletes have
// landed is reported as a *PartialError; there is no retry.
func (c *Coordinator) DeleteItem(ctx context.Context, itemID string) error {
	c.mu.Lock()
	c.status = StatusSyncing
	c.mu.Unlock()

	// Messages go first, page by page, until the gateway reports none
	// left. An item can carry more messages than one page holds.
	deleted := 0
	prevFirst := ""
	for {
		msgs, err := c.gw.ListMessages(ctx, itemID, c.pageSize)
		if err != nil {
			if deleted > 0 {
				err = &PartialError{Op: "delete-item", ItemID: itemID, Err: err}
			}
			c.fail(err)
			return err
		}
		if len(msgs) == 0 {
			break
		}
		if msgs[0].ID == prevFirst {
			// The backend keeps returning a message we already deleted;
			// bail out instead of spinning.
			err := error(errors.New("message deletes not visible in listing"))
			if deleted > 0 {
				err = &PartialError{Op: "delete-item", ItemID: itemID, Err: err}
			}
			c.fail(err)
			return err
		}
		prevFirst = msgs[0].ID

		for _, m := range msgs {
			if err := c.gw.DeleteMessage(ctx, m.ID); err != nil {
				if deleted > 0 {
					err = &PartialError{Op: "delete-item", ItemID: itemID, Err: err}
				}
				c.fail(err)
				return err
			}
			deleted++
		}
		if len(msgs) < c.pageSize {
			break
		}
	}

	if err := c.gw.DeleteItem(ctx, itemID); err != nil {
		if deleted > 0 {
			err = &PartialError{Op: "delete-item", ItemID: itemID, Err: err}
		}
		c.fail(err)
		return err
	}

	c.mu.Lock()
	if i := indexOf(c.items, itemID); i >= 0 {
		c.items = append(c.items[:i:i], c.items[i+1:]...)
	}
	c.status = StatusSuccess
	c.lastErr = nil
	c.mu.Unlock()

	if cerr := c.mirror.DeleteItem(itemID); cerr != nil {
		c.log.Warn().Err(cerr).Str("item_id", itemID).Msg("mirror delete failed")
	}
	return nil
}

// Lookup resolves a raw scanner payload (bare identifier or any
// deep-link form) against the in-memory list.
func (c *Coordinator) Lookup(raw string) (*models.Item, bool) {
	id := deeplink.ExtractItemID(raw)
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := indexOf(c.items, id); i >= 0 {
		item := cloneItem(c.items[i])
		return &item, true
	}
	return nil, false
}

// FetchItem resolves a raw scanner payload, preferring the in-memory
// list and falling back to a direct gateway fetch for items that have
// not been loaded yet (a scan can precede the first sync).
func (c *Coordinator) FetchItem(ctx context.Context, raw string) (*models.Item, error) {
	if item, ok := c.Lookup(raw); ok {
		return item, nil
	}

	id := deeplink.ExtractItemID(raw)
	item, err := c.gw.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := c.gw.ListMessages(ctx, id, c.pageSize)
	if err != nil {
		return nil, err
	}
	item.Messages = msgs
	return item, nil
}

// --- status message templates ---

// StatusTemplate returns the message body for a status-transition
// category: the user-configured template when one is stored, else the
// built-in default. Mirror read failures fall back to the default.
func (c *Coordinator) StatusTemplate(typ models.MessageType) string {
	tmpl, err := c.mirror.Template(typ)
	if err != nil {
		c.log.Warn().Err(err).Str("type", string(typ)).Msg("template read failed, using default")
	}
	if tmpl == "" {
		tmpl = c.templates[typ]
	}
	return tmpl
}

// Templates returns the effective template per status-transition type.
func (c *Coordinator) Templates() map[models.MessageType]string {
	out := make(map[models.MessageType]string, 4)
	for _, typ := range []models.MessageType{models.TypeBlue, models.TypeGreen, models.TypeYellow, models.TypeRed} {
		out[typ] = c.StatusTemplate(typ)
	}
	return out
}

// SetStatusTemplate stores a user-edited template for a
// status-transition category.
func (c *Coordinator) SetStatusTemplate(typ models.MessageType, text string) error {
	if _, ok := typ.Status(); !ok {
		return ErrNotStatusType
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrMessageRequired
	}
	return c.mirror.SetTemplate(typ, text)
}

// --- helpers ---

// fail records a terminal failure for the current attempt. Connectivity
// failures read as offline, everything else as error.
func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gateway.IsNotConnected(err) {
		c.status = StatusOffline
	} else {
		c.status = StatusError
	}
	c.lastErr = err
}

func (c *Coordinator) writeThrough(items []models.Item) {
	if err := c.mirror.ReplaceAll(items); err != nil {
		c.log.Warn().Err(err).Msg("mirror write-through failed")
	}
}

func countPrefix(items []models.Item, prefix string) int {
	n := 0
	for _, it := range items {
		if strings.HasPrefix(it.ItemID, prefix) {
			n++
		}
	}
	return n
}

func indexOf(items []models.Item, itemID string) int {
	for i := range items {
		if items[i].ItemID == itemID {
			return i
		}
	}
	return -1
}

func removeMessage(msgs []models.Message, id string) []models.Message {
	for i := range msgs {
		if msgs[i].ID == id {
			return append(msgs[:i:i], msgs[i+1:]...)
		}
	}
	return msgs
}

func replaceMessage(msgs []models.Message, id string, with models.Message) []models.Message {
	for i := range msgs {
		if msgs[i].ID == id {
			out := append([]models.Message(nil), msgs...)
			out[i] = with
			return out
		}
	}
	return msgs
}

func cloneItem(item models.Item) models.Item {
	item.Messages = append([]models.Message(nil), item.Messages...)
	return item
}

func cloneItems(items []models.Item) []models.Item {
	out := make([]models.Item, len(items))
	for i := range items {
		out[i] = cloneItem(items[i])
	}
	return out
}
