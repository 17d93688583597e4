package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/moment-museum/giftscan/pkg/classify"
	"github.com/moment-museum/giftscan/pkg/db/models"
	"github.com/moment-museum/giftscan/pkg/flow"
)

const (
	testVault        = "0xf853bd09d46e7db6"
	testDepositEvent = "A.0b2a3299cc857e29.TopShot.Deposit"
)

// memStore is an in-memory db.Store for exercising the scan loop.
type memStore struct {
	mu          sync.Mutex
	gifts       map[string]models.Gift
	cursor      uint64
	saveErr     error
	setErr      error
	onCursorSet func(height uint64)
}

func newMemStore(cursor uint64) *memStore {
	return &memStore{gifts: map[string]models.Gift{}, cursor: cursor}
}

func (m *memStore) SaveGift(_ context.Context, g *models.Gift) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return false, m.saveErr
	}
	if _, ok := m.gifts[g.TransactionID]; ok {
		return false, nil
	}
	m.gifts[g.TransactionID] = *g
	return true, nil
}

func (m *memStore) LastProcessedHeight(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

func (m *memStore) SetLastProcessedHeight(_ context.Context, height uint64) error {
	m.mu.Lock()
	if m.setErr != nil {
		m.mu.Unlock()
		return m.setErr
	}
	m.cursor = height
	hook := m.onCursorSet
	m.mu.Unlock()
	if hook != nil {
		hook(height)
	}
	return nil
}

func (m *memStore) ResetCursor(_ context.Context, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gifts = map[string]models.Gift{}
	m.cursor = height
	return nil
}

func (m *memStore) ZeroPointGifts(_ context.Context) ([]models.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Gift
	for _, g := range m.gifts {
		if g.Points == 0 {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memStore) UpdateGiftPoints(_ context.Context, transactionID string, points uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gifts[transactionID]
	if !ok {
		return errors.New("gift not found")
	}
	g.Points = points
	m.gifts[transactionID] = g
	return nil
}

func (m *memStore) GiftsBetween(_ context.Context, _, _ time.Time) ([]models.Gift, error) {
	return nil, nil
}

func (m *memStore) Ping(_ context.Context) error { return nil }
func (m *memStore) Close() error                 { return nil }

func (m *memStore) gift(txID string) (models.Gift, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gifts[txID]
	return g, ok
}

func (m *memStore) giftCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.gifts)
}

func (m *memStore) cursorValue() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

type fakeChain struct {
	mu         sync.Mutex
	available  bool
	availErr   error
	availCalls int
	onAvail    func(calls int)
	events     []flow.Event
	eventsErr  error
}

func (f *fakeChain) Available(_ context.Context, _ uint64) (bool, error) {
	f.mu.Lock()
	f.availCalls++
	calls := f.availCalls
	hook := f.onAvail
	f.mu.Unlock()
	if hook != nil {
		hook(calls)
	}
	return f.available, f.availErr
}

func (f *fakeChain) EventsInRange(_ context.Context, _, _ uint64, _ string) ([]flow.Event, error) {
	return f.events, f.eventsErr
}

type classification struct {
	gift *models.Gift
	kind classify.Kind
	err  error
}

type fakeClassifier struct {
	results map[string]classification
}

func (f *fakeClassifier) ClassifyTransaction(_ context.Context, txID string) (*models.Gift, classify.Kind, error) {
	res, ok := f.results[txID]
	if !ok {
		return nil, classify.KindMalformed, errors.New("unexpected transaction " + txID)
	}
	if res.gift != nil {
		g := *res.gift
		return &g, res.kind, res.err
	}
	return nil, res.kind, res.err
}

type fakeScorer struct {
	points map[uint64]uint64
}

func (f *fakeScorer) ResolvePoints(_ context.Context, momentID uint64) uint64 {
	return f.points[momentID]
}

func depositTo(txID, to string, momentID uint64) flow.Event {
	return flow.Event{
		Name:          testDepositEvent,
		TransactionID: txID,
		Fields:        flow.EventFields{To: to, ID: flow.MomentID(momentID)},
	}
}

func giftFor(txID string, momentID uint64) *models.Gift {
	return &models.Gift{
		TransactionID: txID,
		MomentID:      momentID,
		Sender:        "0xsender",
		OccurredAt:    time.Date(2025, 10, 24, 12, 0, 0, 0, time.UTC),
	}
}

func testScanner(t *testing.T, chain ChainClient, classifier GiftClassifier, scorer PointsResolver, store *memStore) *Scanner {
	t.Helper()
	s := New(zaptest.NewLogger(t), chain, classifier, scorer, store, Config{
		WindowSize:   100,
		DepositEvent: testDepositEvent,
		Vault:        testVault,
		WaitInterval: time.Millisecond,
		ErrorBackoff: time.Millisecond,
		Concurrency:  2,
	})
	t.Cleanup(s.Close)
	return s
}

func TestProcessWindowSavesScoredGifts(t *testing.T) {
	store := newMemStore(1000)
	chain := &fakeChain{events: []flow.Event{
		depositTo("tx-gift", testVault, 42),
		depositTo("tx-sale", testVault, 77),
		depositTo("tx-elsewhere", "0xother", 99),
	}}
	classifier := &fakeClassifier{results: map[string]classification{
		"tx-gift": {gift: giftFor("tx-gift", 42), kind: classify.KindGift},
		"tx-sale": {kind: classify.KindPurchase},
	}}
	scorer := &fakeScorer{points: map[uint64]uint64{42: 50}}
	s := testScanner(t, chain, classifier, scorer, store)

	saved, err := s.processWindow(context.Background(), 1001, 1100)

	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	assert.Equal(t, 1, store.giftCount(), "purchase and off-vault deposits are not recorded")
	g, ok := store.gift("tx-gift")
	require.True(t, ok)
	assert.Equal(t, uint64(50), g.Points)
	assert.Equal(t, "0xsender", g.Sender)
}

func TestProcessWindowEmptyRange(t *testing.T) {
	store := newMemStore(1000)
	s := testScanner(t, &fakeChain{}, &fakeClassifier{}, &fakeScorer{}, store)

	saved, err := s.processWindow(context.Background(), 1001, 1100)

	require.NoError(t, err)
	assert.Zero(t, saved)
}

func TestProcessWindowReplayDedups(t *testing.T) {
	store := newMemStore(1000)
	chain := &fakeChain{events: []flow.Event{depositTo("tx-gift", testVault, 42)}}
	classifier := &fakeClassifier{results: map[string]classification{
		"tx-gift": {gift: giftFor("tx-gift", 42), kind: classify.KindGift},
	}}
	s := testScanner(t, chain, classifier, &fakeScorer{points: map[uint64]uint64{42: 50}}, store)

	saved, err := s.processWindow(context.Background(), 1001, 1100)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	// Same window again, as after a crash before the cursor advanced.
	saved, err = s.processWindow(context.Background(), 1001, 1100)
	require.NoError(t, err)
	assert.Zero(t, saved, "replayed gift is a no-op")
	assert.Equal(t, 1, store.giftCount())
}

func TestProcessWindowExtractFailureAborts(t *testing.T) {
	store := newMemStore(1000)
	chain := &fakeChain{eventsErr: errors.New("node down")}
	s := testScanner(t, chain, &fakeClassifier{}, &fakeScorer{}, store)

	_, err := s.processWindow(context.Background(), 1001, 1100)

	require.Error(t, err)
	assert.Zero(t, store.giftCount())
}

func TestProcessWindowClassifyFailureAborts(t *testing.T) {
	store := newMemStore(1000)
	chain := &fakeChain{events: []flow.Event{
		depositTo("tx-ok", testVault, 42),
		depositTo("tx-bad", testVault, 77),
	}}
	classifier := &fakeClassifier{results: map[string]classification{
		"tx-ok":  {gift: giftFor("tx-ok", 42), kind: classify.KindGift},
		"tx-bad": {err: errors.New("detail fetch failed")},
	}}
	s := testScanner(t, chain, classifier, &fakeScorer{points: map[uint64]uint64{42: 50}}, store)

	_, err := s.processWindow(context.Background(), 1001, 1100)

	require.Error(t, err)
	assert.Zero(t, store.giftCount(), "nothing persists when any candidate fails")
}

func TestProcessWindowPendingCandidateForcesRetry(t *testing.T) {
	store := newMemStore(1000)
	chain := &fakeChain{events: []flow.Event{depositTo("tx-pending", testVault, 42)}}
	classifier := &fakeClassifier{results: map[string]classification{
		"tx-pending": {kind: classify.KindPending},
	}}
	s := testScanner(t, chain, classifier, &fakeScorer{}, store)

	_, err := s.processWindow(context.Background(), 1001, 1100)

	require.ErrorIs(t, err, errPendingCandidate)
	assert.Zero(t, store.giftCount())
}

func TestCandidateTransactions(t *testing.T) {
	events := []flow.Event{
		depositTo("tx1", testVault, 1),
		depositTo("tx2", "0xother", 2),
		depositTo("tx1", testVault, 3), // second deposit in the same tx
		depositTo("", testVault, 4),
		depositTo("tx3", testVault, 5),
	}

	assert.Equal(t, []string{"tx1", "tx3"}, candidateTransactions(events, testVault))
}

func TestRunCommitsWindowAndAdvancesCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemStore(1000)
	store.onCursorSet = func(uint64) { cancel() }
	chain := &fakeChain{available: true, events: []flow.Event{depositTo("tx-gift", testVault, 42)}}
	classifier := &fakeClassifier{results: map[string]classification{
		"tx-gift": {gift: giftFor("tx-gift", 42), kind: classify.KindGift},
	}}
	s := testScanner(t, chain, classifier, &fakeScorer{points: map[uint64]uint64{42: 50}}, store)

	err := s.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(1100), store.cursorValue(), "cursor moves to the window end")
	assert.Equal(t, 1, store.giftCount())
}

func TestRunWaitsWithoutAdvancingCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemStore(1000)
	chain := &fakeChain{available: false}
	chain.onAvail = func(calls int) {
		if calls >= 3 {
			cancel()
		}
	}
	s := testScanner(t, chain, &fakeClassifier{}, &fakeScorer{}, store)

	err := s.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(1000), store.cursorValue(), "waiting never moves the cursor")
	assert.Zero(t, store.giftCount())
}

func TestRunRetriesFailedWindowWithoutAdvancing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemStore(1000)
	chain := &fakeChain{available: true, eventsErr: errors.New("node down")}
	chain.onAvail = func(calls int) {
		if calls >= 3 {
			cancel()
		}
	}
	s := testScanner(t, chain, &fakeClassifier{}, &fakeScorer{}, store)

	err := s.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(1000), store.cursorValue(), "failed window never moves the cursor")
}

func TestResetCursor(t *testing.T) {
	store := newMemStore(5000)
	s := testScanner(t, &fakeChain{}, &fakeClassifier{}, &fakeScorer{}, store)

	require.NoError(t, s.ResetCursor(context.Background(), 1234))
	assert.Equal(t, uint64(1234), store.cursorValue())
}

func TestRescoreZeroPoint(t *testing.T) {
	store := newMemStore(1000)
	store.gifts = map[string]models.Gift{
		"tx-zero":     {TransactionID: "tx-zero", MomentID: 42},
		"tx-scored":   {TransactionID: "tx-scored", MomentID: 77, Points: 250},
		"tx-hopeless": {TransactionID: "tx-hopeless", MomentID: 99},
	}
	scorer := &fakeScorer{points: map[uint64]uint64{42: 50, 77: 1000}}
	s := testScanner(t, &fakeChain{}, &fakeClassifier{}, scorer, store)

	updated, err := s.RescoreZeroPoint(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	g, _ := store.gift("tx-zero")
	assert.Equal(t, uint64(50), g.Points)
	g, _ = store.gift("tx-scored")
	assert.Equal(t, uint64(250), g.Points, "already scored gifts stay untouched")
	g, _ = store.gift("tx-hopeless")
	assert.Zero(t, g.Points, "still unscoreable gifts stay at zero")
}
