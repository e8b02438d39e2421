package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	buspkg "github.com/drblury/relay/internal/runtime/bus"
	configpkg "github.com/drblury/relay/internal/runtime/config"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	modelpkg "github.com/drblury/relay/internal/runtime/model"
)

const waitTimeout = 2 * time.Second

type widget struct {
	Name  string
	Count int
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBus(t *testing.T, configure func(*configpkg.Config)) *buspkg.Bus {
	t.Helper()
	conf := configpkg.Default()
	if configure != nil {
		configure(conf)
	}
	b, err := buspkg.TryNewBus(conf, loggingpkg.NopLogger(), buspkg.BusDependencies{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newWidgetStore(t *testing.T, opts ...Option) *Store[widget] {
	t.Helper()
	s, err := New[widget](newTestBus(t, nil), "widgets", opts...)
	require.NoError(t, err)
	return s
}

// changes collects store changes delivered to a subscriber.
type changes struct {
	mu  sync.Mutex
	got []Change[widget]
	ch  chan struct{}
}

func newChanges() *changes {
	return &changes{ch: make(chan struct{}, 256)}
}

func (c *changes) handle(change Change[widget]) {
	c.mu.Lock()
	c.got = append(c.got, change)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *changes) wait(t *testing.T, n int) []Change[widget] {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(waitTimeout):
			t.Fatalf("timed out after %d of %d changes", i, n)
		}
	}
	return c.snapshot()
}

func (c *changes) snapshot() []Change[widget] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Change[widget](nil), c.got...)
}

func TestNewValidation(t *testing.T) {
	_, err := New[widget](nil, "x")
	assert.ErrorIs(t, err, errspkg.ErrBusRequired)
	_, err = New[widget](newTestBus(t, nil), "")
	assert.ErrorIs(t, err, errspkg.ErrStoreNameRequired)
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "store::widgets::state", StateChannel("widgets"))
	assert.Equal(t, "store::widgets::mutations", MutationChannel("widgets"))
}

func TestPutGetAndBroadcast(t *testing.T) {
	s := newWidgetStore(t)
	all := newChanges()
	tx, err := s.OnAllChanges().Subscribe(all.handle)
	require.NoError(t, err)
	defer tx.Close()

	id := idspkg.NewIdentifier()
	s.Put(id, widget{Name: "bolt", Count: 1}, "created")

	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, widget{Name: "bolt", Count: 1}, got)

	change := all.wait(t, 1)[0]
	assert.Equal(t, id, change.ID)
	assert.Equal(t, "created", change.State)
	assert.Equal(t, widget{Name: "bolt", Count: 1}, change.Value)
	assert.Equal(t, int64(1), change.Version)
	assert.Equal(t, "widgets", change.Store)
}

func TestRecipientObservesCommittedValue(t *testing.T) {
	s := newWidgetStore(t)
	id := idspkg.NewIdentifier()
	observed := make(chan widget, 1)
	tx, err := s.OnChange(id).Subscribe(func(Change[widget]) {
		v, _ := s.Get(id)
		observed <- v
	})
	require.NoError(t, err)
	defer tx.Close()

	s.Put(id, widget{Name: "nut"}, "created")
	select {
	case v := <-observed:
		assert.Equal(t, "nut", v.Name)
	case <-time.After(waitTimeout):
		t.Fatal("no change delivered")
	}
}

func TestRemove(t *testing.T) {
	s := newWidgetStore(t)
	all := newChanges()
	tx, err := s.OnAllChanges("deleted").Subscribe(all.handle)
	require.NoError(t, err)
	defer tx.Close()

	id := idspkg.NewIdentifier()
	s.Put(id, widget{Name: "gear"}, "created")
	assert.True(t, s.Remove(id, "deleted"))
	assert.False(t, s.Remove(id, "deleted"))

	_, ok := s.Get(id)
	assert.False(t, ok)

	got := all.wait(t, 1)
	assert.Equal(t, "deleted", got[0].State)
	assert.Equal(t, "gear", got[0].Value.Name)
	assert.Equal(t, int64(2), got[0].Version)
	assert.Equal(t, int64(2), s.Version())
}

func TestOnChangeFiltersByIDAndState(t *testing.T) {
	s := newWidgetStore(t)
	watched, other := idspkg.NewIdentifier(), idspkg.NewIdentifier()
	updates := newChanges()
	tx, err := s.OnChange(watched, "updated").Subscribe(updates.handle)
	require.NoError(t, err)
	defer tx.Close()

	s.Put(watched, widget{Count: 1}, "created")
	s.Put(other, widget{Count: 2}, "updated")
	s.Put(watched, widget{Count: 3}, "updated")

	updates.wait(t, 1)
	time.Sleep(20 * time.Millisecond)
	got := updates.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Value.Count)
}

func TestOnChangeTreatsNilAsAKey(t *testing.T) {
	s := newWidgetStore(t)
	updates := newChanges()
	tx, err := s.OnChange(uuid.Nil).Subscribe(updates.handle)
	require.NoError(t, err)
	defer tx.Close()

	s.Put(idspkg.NewIdentifier(), widget{Count: 1}, "created")
	s.Put(uuid.Nil, widget{Count: 2}, "created")

	updates.wait(t, 1)
	time.Sleep(20 * time.Millisecond)
	got := updates.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, uuid.Nil, got[0].ID)
	assert.Equal(t, 2, got[0].Value.Count)
}

func TestStreamsAreIndependentPerSubscriber(t *testing.T) {
	s := newWidgetStore(t)
	stream := s.OnAllChanges()
	first, second := newChanges(), newChanges()

	tx1, err := stream.Subscribe(first.handle)
	require.NoError(t, err)
	tx2, err := stream.Subscribe(second.handle)
	require.NoError(t, err)
	defer tx2.Close()

	s.Put(idspkg.NewIdentifier(), widget{Count: 1}, "created")
	first.wait(t, 1)
	second.wait(t, 1)

	tx1.Close()
	s.Put(idspkg.NewIdentifier(), widget{Count: 2}, "created")
	second.wait(t, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, first.snapshot(), 1)

	_, err = stream.Subscribe(nil)
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
}

func TestVersionOrderUnderConcurrentWriters(t *testing.T) {
	s := newWidgetStore(t)
	all := newChanges()
	tx, err := s.OnAllChanges().Subscribe(all.handle)
	require.NoError(t, err)
	defer tx.Close()

	const writers, perWriter = 8, 20
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Put(idspkg.NewIdentifier(), widget{Count: w*perWriter + i}, "created")
			}
		}(w)
	}
	wg.Wait()

	got := all.wait(t, writers*perWriter)
	for i, change := range got {
		require.Equal(t, int64(i+1), change.Version, "change %d out of order", i)
	}
	assert.Equal(t, int64(writers*perWriter), s.Version())
}

func TestReadsReturnCopies(t *testing.T) {
	s := newWidgetStore(t)
	id := idspkg.NewIdentifier()
	s.Put(id, widget{Name: "a"}, "created")

	snapshot := s.AllValuesAsMap()
	snapshot[id] = widget{Name: "mutated"}
	delete(snapshot, id)

	got, _ := s.Get(id)
	assert.Equal(t, "a", got.Name)
	assert.Len(t, s.AllValues(), 1)
	assert.Equal(t, 1, s.Len())
}

func TestPopulate(t *testing.T) {
	s := newWidgetStore(t)
	all := newChanges()
	tx, err := s.OnAllChanges().Subscribe(all.handle)
	require.NoError(t, err)
	defer tx.Close()

	initial := map[Identifier]widget{
		idspkg.NewIdentifier(): {Name: "a"},
		idspkg.NewIdentifier(): {Name: "b"},
	}
	assert.True(t, s.Populate(initial))
	if diff := cmp.Diff(initial, s.AllValuesAsMap()); diff != "" {
		t.Fatalf("populate mismatch (-want +got):\n%s", diff)
	}

	assert.False(t, s.Populate(map[Identifier]widget{idspkg.NewIdentifier(): {Name: "c"}}))
	if diff := cmp.Diff(initial, s.AllValuesAsMap()); diff != "" {
		t.Fatalf("second populate changed the store (-want +got):\n%s", diff)
	}

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, all.snapshot(), "populate must not broadcast")
}

func TestReadinessLatch(t *testing.T) {
	s := newWidgetStore(t)
	id := idspkg.NewIdentifier()
	s.Put(id, widget{Name: "early"}, "created")

	var calls []map[Identifier]widget
	s.WhenReady(func(items map[Identifier]widget) { calls = append(calls, items) })
	assert.False(t, s.IsInitialized())
	assert.Empty(t, calls)

	s.Initialize()
	s.Initialize()
	assert.True(t, s.IsInitialized())
	require.Len(t, calls, 1)
	assert.Equal(t, "early", calls[0][id].Name)

	late := 0
	s.WhenReady(func(items map[Identifier]widget) {
		late++
		assert.Len(t, items, 1)
	})
	assert.Equal(t, 1, late)
	assert.Len(t, calls, 1)

	s.WhenReady(nil)
}

func TestResetKeepsReadinessByDefault(t *testing.T) {
	s := newWidgetStore(t)
	s.Put(idspkg.NewIdentifier(), widget{}, "created")
	s.Initialize()

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int64(0), s.Version())
	assert.True(t, s.IsInitialized())
}

func TestResetClearsReadinessWhenConfigured(t *testing.T) {
	b := newTestBus(t, func(c *configpkg.Config) { c.StoreResetClearsReadiness = true })
	s, err := New[widget](b, "widgets")
	require.NoError(t, err)
	s.Initialize()
	s.Reset()
	assert.False(t, s.IsInitialized())

	fired := 0
	s.WhenReady(func(map[Identifier]widget) { fired++ })
	assert.Equal(t, 0, fired)
	s.Initialize()
	assert.Equal(t, 1, fired)

	override := newWidgetStore(t, WithResetClearsReadiness(true))
	override.Initialize()
	override.Reset()
	assert.False(t, override.IsInitialized())
}

func TestMutateWithoutResponderReturnsFalse(t *testing.T) {
	s := newWidgetStore(t)
	called := false
	ok := s.Mutate("rename", "update", func(widget) { called = true }, func(error) { called = true })
	assert.False(t, ok)
	assert.False(t, called)
}

func TestMutateRoundTrip(t *testing.T) {
	s := newWidgetStore(t)
	id := idspkg.NewIdentifier()
	s.Put(id, widget{Name: "old"}, "created")

	responder, err := s.OnMutationRequest("rename").Subscribe(func(req MutationRequest[widget]) {
		updated := widget{Name: req.Request.(string)}
		s.Put(id, updated, "updated")
		_ = req.Success(updated)
	})
	require.NoError(t, err)
	defer responder.Close()

	results := make(chan widget, 1)
	ok := s.Mutate("new", "rename", func(w widget) { results <- w }, func(err error) { t.Errorf("unexpected error: %v", err) })
	require.True(t, ok)

	select {
	case w := <-results:
		assert.Equal(t, "new", w.Name)
	case <-time.After(waitTimeout):
		t.Fatal("mutation not answered")
	}
	got, _ := s.Get(id)
	assert.Equal(t, "new", got.Name)
}

func TestMutateErrorAndTypeFilter(t *testing.T) {
	s := newWidgetStore(t)
	rejected := errors.New("rejected")
	var seenTypes []any
	var mu sync.Mutex
	responder, err := s.OnMutationRequest("delete").Subscribe(func(req MutationRequest[widget]) {
		mu.Lock()
		seenTypes = append(seenTypes, req.Type)
		mu.Unlock()
		_ = req.Error(rejected)
	})
	require.NoError(t, err)
	defer responder.Close()

	errs := make(chan error, 1)
	require.True(t, s.Mutate("x", "delete", func(widget) { t.Error("unexpected success") }, func(err error) { errs <- err }))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, rejected)
	case <-time.After(waitTimeout):
		t.Fatal("mutation error not delivered")
	}

	// A filtered-out type is never seen by the responder.
	require.True(t, s.Mutate("x", "rename", nil, nil))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{"delete"}, seenTypes)
}

func TestMutateWrongResultType(t *testing.T) {
	b := newTestBus(t, nil)
	s, err := New[widget](b, "widgets")
	require.NoError(t, err)

	responder, err := b.ListenRequestStream(MutationChannel("widgets"), func(env modelpkg.Envelope) {
		_ = b.SendResponse(MutationChannel("widgets"), "not a widget", buspkg.WithID(env.ID))
	}, nil)
	require.NoError(t, err)
	defer responder.Close()

	errs := make(chan error, 1)
	require.True(t, s.Mutate("x", "any", nil, func(err error) { errs <- err }))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, errspkg.ErrMutationNotAnswered)
	case <-time.After(waitTimeout):
		t.Fatal("type mismatch not reported")
	}
}

func TestMutationResponderPanicAnswersRequester(t *testing.T) {
	s := newWidgetStore(t)
	responder, err := s.OnMutationRequest().Subscribe(func(MutationRequest[widget]) {
		panic("apply failed")
	})
	require.NoError(t, err)
	defer responder.Close()

	errs := make(chan error, 1)
	require.True(t, s.Mutate("x", "any", nil, func(err error) { errs <- err }))
	select {
	case err := <-errs:
		var rerr *errspkg.ResponderError
		require.ErrorAs(t, err, &rerr)
		assert.ErrorIs(t, err, errspkg.ErrCallbackPanic)
	case <-time.After(waitTimeout):
		t.Fatal("panic not reported to requester")
	}
}

func TestMutateUnacceptedTypeIsAnsweredAndReleased(t *testing.T) {
	b := newTestBus(t, nil)
	s, err := New[widget](b, "widgets")
	require.NoError(t, err)

	responder, err := s.OnMutationRequest("add").Subscribe(func(req MutationRequest[widget]) {
		t.Errorf("unexpected mutation type %v", req.Type)
	})
	require.NoError(t, err)
	defer responder.Close()

	channel := MutationChannel("widgets")
	before := b.RefCount(channel)
	errs := make(chan error, 5)
	for range 5 {
		require.True(t, s.Mutate("x", "delete", func(widget) { t.Error("unexpected success") }, func(err error) { errs <- err }))
	}
	for range 5 {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, errspkg.ErrMutationNotAnswered)
		case <-time.After(waitTimeout):
			t.Fatal("unaccepted mutation not answered")
		}
	}

	assert.Eventually(t, func() bool {
		return b.RefCount(channel) == before && b.Listeners(channel, modelpkg.Response) == 0
	}, waitTimeout, 5*time.Millisecond)
}

func TestResetFailsPendingMutations(t *testing.T) {
	b := newTestBus(t, nil)
	s, err := New[widget](b, "widgets")
	require.NoError(t, err)

	// Two responders that both ignore the type: neither answers.
	for range 2 {
		responder, err := s.OnMutationRequest("add").Subscribe(func(MutationRequest[widget]) {})
		require.NoError(t, err)
		defer responder.Close()
	}

	channel := MutationChannel("widgets")
	before := b.RefCount(channel)
	errs := make(chan error, 1)
	require.True(t, s.Mutate("x", "delete", nil, func(err error) { errs <- err }))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before+1, b.RefCount(channel))

	s.Reset()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, errspkg.ErrMutationNotAnswered)
	case <-time.After(waitTimeout):
		t.Fatal("pending mutation not failed on reset")
	}
	assert.Equal(t, before, b.RefCount(channel))
	assert.Equal(t, 0, b.Listeners(channel, modelpkg.Response))
}
