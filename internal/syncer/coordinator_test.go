package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jredh-dev/memotag/internal/cache"
	"github.com/jredh-dev/memotag/internal/gateway"
	"github.com/jredh-dev/memotag/pkg/models"
)

// fakeGateway is an in-memory Gateway with scriptable failures and a
// record of the remote call order.
type fakeGateway struct {
	mu     sync.Mutex
	items  []models.Item               // newest first
	msgs   map[string][]models.Message // per itemID, newest first
	nextID int

	listItemsErr    error
	listMessagesErr error
	createErr       error
	postErr         error
	statusErr       error
	deleteItemErr   error
	deleteMsgErr    error

	calls []string

	// blockList, when non-nil, makes ListItems wait until it is closed.
	blockList chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{msgs: map[string][]models.Message{}}
}

func notConnected(op string) error {
	return &gateway.Error{Kind: gateway.KindNotConnected, Op: op, Err: errors.New("unreachable")}
}

func (f *fakeGateway) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeGateway) ListItems(ctx context.Context, limit int) ([]models.Item, error) {
	f.record("list-items")
	if f.blockList != nil {
		<-f.blockList
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listItemsErr != nil {
		return nil, f.listItemsErr
	}
	out := make([]models.Item, 0, len(f.items))
	for i, it := range f.items {
		if i >= limit {
			break
		}
		it.Messages = nil
		out = append(out, it)
	}
	return out, nil
}

func (f *fakeGateway) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	f.record("get-item")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.ItemID == itemID {
			out := it
			out.Messages = nil
			return &out, nil
		}
	}
	return nil, &gateway.Error{Kind: gateway.KindNotFound, Op: "get-item"}
}

func (f *fakeGateway) CreateItem(ctx context.Context, item models.Item) (*models.Item, error) {
	f.record("create-item")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	item.ID = fmt.Sprintf("doc-%d", f.nextID)
	f.items = append([]models.Item{item}, f.items...)
	out := item
	return &out, nil
}

func (f *fakeGateway) UpdateItemStatus(ctx context.Context, itemID string, status models.ItemStatus) error {
	f.record("update-item-status")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	for i := range f.items {
		if f.items[i].ItemID == itemID {
			f.items[i].Status = status
			f.items[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return &gateway.Error{Kind: gateway.KindNotFound, Op: "update-item-status"}
}

func (f *fakeGateway) DeleteItem(ctx context.Context, itemID string) error {
	f.record("delete-item")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteItemErr != nil {
		return f.deleteItemErr
	}
	for i := range f.items {
		if f.items[i].ItemID == itemID {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return &gateway.Error{Kind: gateway.KindNotFound, Op: "delete-item"}
}

func (f *fakeGateway) ListMessages(ctx context.Context, itemID string, limit int) ([]models.Message, error) {
	f.record("list-messages")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listMessagesErr != nil {
		return nil, f.listMessagesErr
	}
	msgs := f.msgs[itemID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]models.Message(nil), msgs...), nil
}

func (f *fakeGateway) PostMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	f.record("post-message")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return nil, f.postErr
	}
	f.nextID++
	msg.ID = fmt.Sprintf("msg-%d", f.nextID)
	msg.State = models.MessageConfirmed
	msg.CreatedAt = time.Now().UTC()
	f.msgs[msg.ItemID] = append([]models.Message{msg}, f.msgs[msg.ItemID]...)
	out := msg
	return &out, nil
}

func (f *fakeGateway) DeleteMessage(ctx context.Context, messageID string) error {
	f.record("delete-message")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteMsgErr != nil {
		return f.deleteMsgErr
	}
	for itemID, msgs := range f.msgs {
		for i := range msgs {
			if msgs[i].ID == messageID {
				f.msgs[itemID] = append(msgs[:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

// failingMirror always errors, for the both-remote-and-cache-fail path.
type failingMirror struct{}

func (failingMirror) ReplaceAll([]models.Item) error               { return errors.New("disk full") }
func (failingMirror) ReadAll() ([]models.Item, error)              { return nil, errors.New("disk full") }
func (failingMirror) DeleteItem(string) error                      { return errors.New("disk full") }
func (failingMirror) Template(models.MessageType) (string, error)  { return "", errors.New("disk full") }
func (failingMirror) SetTemplate(models.MessageType, string) error { return errors.New("disk full") }
func (failingMirror) SetLastSyncedAt(time.Time) error              { return errors.New("disk full") }

func testMirror(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(t.TempDir() + "/cache.db")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var day = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func testCoordinator(t *testing.T, gw gateway.Gateway) *Coordinator {
	t.Helper()
	return New(gw, testMirror(t),
		WithClock(fixedClock(day)),
		WithTemplateDefaults(map[models.MessageType]string{
			models.TypeBlue:   "Started working",
			models.TypeGreen:  "Work completed",
			models.TypeYellow: "Work delayed",
			models.TypeRed:    "Problem reported",
		}),
	)
}

func TestCreateItem_GeneratesSequentialDailyIDs(t *testing.T) {
	gw := newFakeGateway()
	c := testCoordinator(t, gw)
	ctx := context.Background()

	for i, want := range []string{"20250115-01", "20250115-02", "20250115-03"} {
		item, err := c.CreateItem(ctx, fmt.Sprintf("Pump %d", i), "")
		require.NoError(t, err)
		assert.Equal(t, want, item.ItemID)
		assert.Equal(t, models.StatusWorking, item.Status)
	}

	// Newest first.
	items := c.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "20250115-03", items[0].ItemID)
}

func TestCreateItem_DuplicateSuffixAcrossDevices(t *testing.T) {
	// Known limitation: the suffix comes from each device's local count,
	// so two coordinators against the same backend mint the same ID.
	gw := newFakeGateway()
	a := testCoordinator(t, gw)
	b := testCoordinator(t, gw)
	ctx := context.Background()

	itemA, err := a.CreateItem(ctx, "Pump A", "")
	require.NoError(t, err)
	itemB, err := b.CreateItem(ctx, "Pump B", "")
	require.NoError(t, err)

	assert.Equal(t, itemA.ItemID, itemB.ItemID, "duplicate suffixes are possible and accepted")
}

func TestCreateItem_Validation(t *testing.T) {
	c := testCoordinator(t, newFakeGateway())
	_, err := c.CreateItem(context.Background(), "   ", "somewhere")
	assert.ErrorIs(t, err, ErrNameRequired)
	assert.Empty(t, c.Items())
}

func TestCreateItem_RemoteFailureLeavesListUntouched(t *testing.T) {
	gw := newFakeGateway()
	gw.createErr = notConnected("create-item")
	c := testCoordinator(t, gw)

	_, err := c.CreateItem(context.Background(), "Pump A", "")
	require.Error(t, err)
	assert.Empty(t, c.Items())

	status, lastErr := c.State()
	assert.Equal(t, StatusOffline, status)
	assert.Error(t, lastErr)
}

func TestCreateItem_RoundTripThroughLoad(t *testing.T) {
	gw := newFakeGateway()
	c := testCoordinator(t, gw)
	ctx := context.Background()

	created, err := c.CreateItem(ctx, "Pump A", "Warehouse 3")
	require.NoError(t, err)

	require.NoError(t, c.LoadItems(ctx))
	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, created.ItemID, items[0].ItemID)
	assert.Equal(t, "Pump A", items[0].Name)
	assert.Equal(t, "Warehouse 3", items[0].Location)
	assert.Equal(t, models.StatusWorking, items[0].Status)
}

func TestLoadItems_Idempotent(t *testing.T) {
	gw := newFakeGateway()
	c := testCoordinator(t, gw)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, "Pump A", "")
	require.NoError(t, err)
	_, err = c.CreateItem(ctx, "Pump B", "")
	require.NoError(t, err)
	_, err = c.AddMessage(ctx, "20250115-01", "note", "kaz", models.TypeGeneral)
	require.NoError(t, err)

	require.NoError(t, c.LoadItems(ctx))
	first := c.Items()
	require.NoError(t, c.LoadItems(ctx))
	second := c.Items()

	assert.Equal(t, first, second)

	status, lastErr := c.State()
	assert.Equal(t, StatusSuccess, status)
	assert.NoError(t, lastErr)
}

func TestLoadItems_FallsBackToMirrorWhenOffline(t *testing.T) {
	gw := newFakeGateway()
	c := testCoordinator(t, gw)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, "Pump A", "Warehouse 3")
	require.NoError(t, err)
	require.NoError(t, c.LoadItems(ctx)) // populates the mirror

	gw.listItemsErr = notConnected("list-items")
	err = c.LoadItems(ctx)
	require.Error(t, err)

	items := c.Items()
	require.Len(t, items, 1, "mirror contents survive the outage")
	assert.Equal(t, "Pump A", items[0].Name)

	status, lastErr := c.State()
	assert.Equal(t, StatusOffline, status)
	assert.Error(t, lastErr)
}

func TestLoadItems_MessageFetchFailureAbandonsAttempt(t *testing.T) {
	gw := newFakeGateway()
	c := testCoordinator(t, gw)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, "Pump A", "")
	require.NoError(t, err)
	require.NoError(t, c.LoadItems(ctx))

	gw.listMessagesErr = notConnected("list-messages")
	require.Error(t, c.LoadItems(ctx))

	status, _ := c.State()
	assert.Equal(t, StatusOffline, status)
}

func TestLoadItems_BothFailKeepsLastKnownList(t *testing.T) {
	gw := newFakeGateway()
	c := New(gw, failingMirror{}, WithClock(fixedClock(day)))
	ctx := context.Background()

	_, err := c.CreateItem(ctx, "Pump A", "")
	require.NoError(t, err)
	require.NoError(t, c.LoadItems(ctx))

	gw.listItemsErr = notConnected("list-items")
	require.Error(t, c.LoadItems(ctx))

	// Stale but present.
	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Pump A", items[0].Name)
}

func TestLoadItems_OverlappingCallIsDropped(t *testing.T) {
	gw := newFakeGateway()
	gw.blockList = make(chan struct{})
	c := testCoordinator(t, gw)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- c.LoadItems(ctx) }()

	// Wait for the first load to reach the gateway.
	require.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return len(gw.calls) == 1
	}, time.Second, time.Millisecond)

	// Second call while one is in flight: silently dropped.
	require.NoError(t, c.LoadItems(ctx))

	close(gw.blockList)
	require.NoError(t, <-done)

	gw.mu.Lock()
	listCalls := 0
	for _, call := range gw.calls {
		if call == "list-items" {
			listCalls++
		}
	}
	gw.mu.Unlock()
	assert.Equal(t, 1, listCalls, "racing load must not reach the gateway")
}

func TestAddMessage_OptimisticRollback(t *testing.T) {
	gw := newFakeGateway()
	c := testCoordinator(t, gw)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, "Pump A", "")
	require.NoError(t, err)
	_, err = c.AddMessage(ctx, "20250115-01", "before", "kaz", models.TypeGeneral)
	require.NoError(t, err)
	before := c.Items()[0].Messages

	gw.postErr = notConnected("post-message")
	_, err = c.AddMessage(ctx, "20250115-01", "doomed", "kaz", models.TypeGeneral)
	require.Error(t, err)

	after := c.Items()[0].Messages
	assert.Equal(t, before, after, "placeholder must be rolled back")
	for _, m := range after {
		assert.NotEqual(t, models.MessagePending, m.State)
	}
}

func TestAddMessage_StatusSideEffect(t *testing.T) {
	gw := newFakeGateway()
	c := testCoordinator(t, gw)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, "Pump A", "")
	require.NoError(t, err)
	gw.calls = nil

	_, err = c.AddMessage(ctx, "20250115-01", "done here", "kaz", models.TypeGreen)
	require.NoError(t, err)

	item := c.Items()[0]
	assert.Equal(t, models.StatusCompleted, item.Status)
	require.NotEmpty(t, item.Messages)
	assert.Equal(t, "done here", item.Messages[0].Body)
	assert.Equal(t, models.TypeGreen, item.Messages[0].Type)
	assert.Equal(t, models.MessageConfirmed, item.Messages[0].State)

	// The message post always precedes the status update.
	var order []string
	for _, call := range gw.calls {
		if call == "post-message" || call == "update-item-status" {
			order = append(order, call)
		}
	}
	assert.Equal(t, []string{"post-message", "update-item-status"}, order)
}

func TestAddMessage_PartialFailure(t *testing.T) {
	gw := newFakeGateway()
	c := testCoordinator(t, gw)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, "Pump A", "")
	require.NoError(t, err)

	gw.statusErr = errors.New("write rejected")
	msg, err := c.AddMessage(ctx, "20250115-01", "trouble", "kaz", models.TypeRed)

	// The message landed, the status did not: reported, not swallowed.
	require.Error(t, err)
	assert.True(t, IsPartial(err))
	require.NotNil(t, msg)

	item := c.Items()[0]
	assert.Equal(t, models.StatusWorking, item.Status, "status unchanged after failed update")
	assert.Equal(t, "trouble", item.Messages[0].Body)

	status, lastErr := c.State()
	assert.Equal(t, StatusError, status)
	assert.True(t, IsPartial(lastErr))
}

func TestAddMessage_EmptyBodyUsesTemplate(t *testing.T) {
	gw := newFakeGateway()
	c := testCoordinator(t, gw)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, "Pump A", "")
	require.NoError(t, err)

	msg, err := c.AddMessage(ctx, "20250115-01", "", "kaz", models.TypeYellow)
	require.NoError(t, err)
	assert.Equal(t, "Work delayed", msg.Body)

	// General messages have no template to fall back on.
	_, err = c.AddMessage(ctx, "20250115-01", "   ", "kaz", models.TypeGeneral)
	assert.ErrorIs(t, err, ErrMessageRequired)
}

func TestAddMessage_DefaultsAnonymousUser(t *testing.T) {
	gw := newFakeGateway()
	c := testCoordinator(t, gw)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, "Pump A", "")
	require.NoError(t, err)

	msg, err := c.AddMessage(ctx, "20250115-01", "hello", "  ", models.TypeGeneral)
	require.NoError(t, err)
	assert.Equal(t, models.AnonymousUser, msg.UserName)
}

func TestAddMessage_UnknownItem(t *testing.T) {
	c := testCoordinator(t, newFakeGateway())
	_, err := c.AddMessage(context.Background(), "nope", "hello", "kaz", models.TypeGeneral)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestDeleteItem_CascadesMessagesFirst(t *testing.T) {
	gw := newFakeGateway()
	c := testCoordinator(t, gw)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, "Pump A", "")
	require.NoError(t, err)
	_, err = c.AddMessage(ctx, "20250115-01", "one", "kaz", models.TypeGeneral)
	require.NoError(t, err)
	_, err = c.AddMessage(ctx, "20250115-01", "two", "kaz", models.TypeGeneral)
	require.NoError(t, err)
	gw.calls = nil

	require.NoError(t, c.DeleteItem(ctx, "20250115-01"))
	assert.Empty(t, c.Items())
	assert.Empty(t, gw.msgs["20250115-01"])

	// delete-message calls come before delete-item.
	var deletes []string
	for _, call := range gw.calls {
		if call == "delete-message" || call == "delete-item" {
			deletes = append(deletes, call)
		}
	}
	assert.Equal(t, []string{"delete-message", "delete-message", "delete-item"}, deletes)
}

func TestDeleteItem_CascadesAcrossPages(t *testing.T) {
	// More messages than one listing page holds: the cascade must keep
	// paging until the backend reports none left.
	gw := newFakeGateway()
	c := New(gw, testMirror(t),
		WithClock(fixedClock(day)),
		WithPageSize(1),
	)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, "Pump A", "")
	require.NoError(t, err)
	for _, body := range []string{"one", "two", "three"} {
		_, err = c.AddMessage(ctx, "20250115-01", body, "kaz", models.TypeGeneral)
		require.NoError(t, err)
	}
	require.Len(t, gw.msgs["20250115-01"], 3)

	require.NoError(t, c.DeleteItem(ctx, "20250115-01"))
	assert.Empty(t, c.Items())
	assert.Empty(t, gw.msgs["20250115-01"], "no message may be left behind")

	status, lastErr := c.State()
	assert.Equal(t, StatusSuccess, status)
	assert.NoError(t, lastErr)
}

func TestDeleteItem_PartialFailureReported(t *testing.T) {
	gw := newFakeGateway()
	c := testCoordinator(t, gw)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, "Pump A", "")
	require.NoError(t, err)
	_, err = c.AddMessage(ctx, "20250115-01", "one", "kaz", models.TypeGeneral)
	require.NoError(t, err)

	gw.deleteItemErr = errors.New("write rejected")
	err = c.DeleteItem(ctx, "20250115-01")
	require.Error(t, err)
	assert.True(t, IsPartial(err), "messages gone but item remains: partial")

	// The item stays in the in-memory list until the remote ack.
	assert.Len(t, c.Items(), 1)
}

func TestScenario_PumpAWithLeak(t *testing.T) {
	gw := newFakeGateway()
	c := testCoordinator(t, gw)
	ctx := context.Background()

	item, err := c.CreateItem(ctx, "Pump A", "Warehouse 3")
	require.NoError(t, err)
	assert.Equal(t, "20250115-01", item.ItemID)
	assert.Equal(t, models.StatusWorking, item.Status)

	_, err = c.AddMessage(ctx, item.ItemID, "leak detected", "", models.TypeRed)
	require.NoError(t, err)

	got := c.Items()[0]
	assert.Equal(t, models.StatusProblem, got.Status)
	require.NotEmpty(t, got.Messages)
	assert.Equal(t, models.TypeRed, got.Messages[0].Type)
	assert.Equal(t, "leak detected", got.Messages[0].Body)
}

func TestFetchItem_FallsBackToGateway(t *testing.T) {
	gw := newFakeGateway()
	seed := testCoordinator(t, gw)
	ctx := context.Background()
	_, err := seed.CreateItem(ctx, "Pump A", "")
	require.NoError(t, err)

	// A fresh coordinator that has never loaded.
	c := testCoordinator(t, gw)
	item, err := c.FetchItem(ctx, "memotag://product/20250115-01")
	require.NoError(t, err)
	assert.Equal(t, "Pump A", item.Name)

	_, err = c.FetchItem(ctx, "20990101-99")
	assert.True(t, gateway.IsNotFound(err))
}

func TestSetStatusTemplate(t *testing.T) {
	c := testCoordinator(t, newFakeGateway())

	require.NoError(t, c.SetStatusTemplate(models.TypeRed, "Trouble on site"))
	assert.Equal(t, "Trouble on site", c.StatusTemplate(models.TypeRed))

	// Unset categories keep their defaults.
	assert.Equal(t, "Work completed", c.StatusTemplate(models.TypeGreen))

	assert.ErrorIs(t, c.SetStatusTemplate(models.TypeGeneral, "x"), ErrNotStatusType)
	assert.ErrorIs(t, c.SetStatusTemplate(models.TypeRed, "  "), ErrMessageRequired)
}
