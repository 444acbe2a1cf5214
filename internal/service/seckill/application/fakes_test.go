package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"flashbuy/internal/service/seckill/domain"
	"flashbuy/internal/service/seckill/domain/port"
)

var testTracer = noop.NewTracerProvider().Tracer("test")

type fakeFilter struct {
	mu    sync.Mutex
	empty map[domain.ItemRef]bool
}

func newFakeFilter() *fakeFilter { return &fakeFilter{empty: map[domain.ItemRef]bool{}} }

func (f *fakeFilter) MarkEmpty(item domain.ItemRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.empty[item] = true
}

func (f *fakeFilter) IsEmpty(item domain.ItemRef) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.empty[item]
}

func (f *fakeFilter) ClearEmpty(item domain.ItemRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.empty, item)
}

// fakeLedger 在内存中复刻扣减脚本的语义
type fakeLedger struct {
	mu          sync.Mutex
	stock       map[string]int64
	marks       map[string]map[int64]bool
	claims      map[string]string
	deductCalls int
	deductErr   error
	initErr     map[string]error
	releaseErrs int
	claimErr    error
	clearErr    error
	cleared     []domain.LedgerKeys
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		stock:   map[string]int64{},
		marks:   map[string]map[int64]bool{},
		claims:  map[string]string{},
		initErr: map[string]error{},
	}
}

func (l *fakeLedger) Deduct(_ context.Context, keys domain.LedgerKeys, userID int64, quantity int) (port.DeductOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deductCalls++
	if l.deductErr != nil {
		return port.DeductOutcome{}, l.deductErr
	}
	stock, ok := l.stock[keys.StockKey]
	if !ok || stock < int64(quantity) {
		return port.OutcomeFromSentinel(port.SentinelInsufficientStock)
	}
	if l.marks[keys.LimitKey][userID] {
		return port.OutcomeFromSentinel(port.SentinelLimitExceeded)
	}
	l.stock[keys.StockKey] = stock - int64(quantity)
	if l.marks[keys.LimitKey] == nil {
		l.marks[keys.LimitKey] = map[int64]bool{}
	}
	l.marks[keys.LimitKey][userID] = true
	return port.OutcomeFromSentinel(l.stock[keys.StockKey])
}

func (l *fakeLedger) Init(_ context.Context, stockKey string, count int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.initErr[stockKey]; err != nil {
		return err
	}
	l.stock[stockKey] = count
	return nil
}

func (l *fakeLedger) Recover(_ context.Context, stockKey string, quantity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stock[stockKey] += int64(quantity)
	return nil
}

func (l *fakeLedger) Release(_ context.Context, keys domain.LedgerKeys, claimKey string, userID int64, quantity int) (port.ReleaseOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.releaseErrs > 0 {
		l.releaseErrs--
		return 0, errors.New("redis: connection reset")
	}
	switch l.claims[claimKey] {
	case "materialized":
		return port.ReleaseMaterialized, nil
	case "compensated":
		return port.ReleaseNoop, nil
	}
	l.claims[claimKey] = "compensated"
	if !l.marks[keys.LimitKey][userID] {
		return port.ReleaseNoop, nil
	}
	delete(l.marks[keys.LimitKey], userID)
	l.stock[keys.StockKey] += int64(quantity)
	return port.ReleaseRestored, nil
}

func (l *fakeLedger) Claim(_ context.Context, claimKey string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claimErr != nil {
		return false, l.claimErr
	}
	switch l.claims[claimKey] {
	case "compensated":
		return false, nil
	case "":
		l.claims[claimKey] = "materialized"
	}
	return true, nil
}

func (l *fakeLedger) hasMark(keys domain.LedgerKeys, userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.marks[keys.LimitKey][userID]
}

func (l *fakeLedger) Clear(_ context.Context, keys domain.LedgerKeys) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.clearErr != nil {
		return l.clearErr
	}
	delete(l.stock, keys.StockKey)
	delete(l.marks, keys.LimitKey)
	l.cleared = append(l.cleared, keys)
	return nil
}

func (l *fakeLedger) stockOf(eventID, skuID int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stock[domain.StockKey(eventID, skuID)]
}

func (l *fakeLedger) hasStockKey(eventID, skuID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.stock[domain.StockKey(eventID, skuID)]
	return ok
}

type fakePublisher struct {
	mu        sync.Mutex
	err       error
	published []*domain.OrderIntent
}

func (p *fakePublisher) Publish(_ context.Context, intent *domain.OrderIntent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, intent)
	return nil
}

type fakeResults struct {
	mu      sync.Mutex
	results map[string]domain.PurchaseResult
}

func newFakeResults() *fakeResults { return &fakeResults{results: map[string]domain.PurchaseResult{}} }

func (r *fakeResults) MarkQueued(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.results[token]; !ok {
		r.results[token] = domain.PurchaseResult{Status: domain.ResultQueued}
	}
	return nil
}

func (r *fakeResults) MarkSuccess(_ context.Context, token, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[token] = domain.PurchaseResult{Status: domain.ResultSuccess, OrderID: orderID}
	return nil
}

func (r *fakeResults) MarkFailed(_ context.Context, token, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[token] = domain.PurchaseResult{Status: domain.ResultFailed, Reason: reason}
	return nil
}

func (r *fakeResults) Forget(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.results, token)
	return nil
}

func (r *fakeResults) Get(_ context.Context, token string) (*domain.PurchaseResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[token]
	if !ok {
		return nil, domain.ErrResultNotFound
	}
	return &res, nil
}

type fakeOrders struct {
	mu      sync.Mutex
	byKey   map[string]*domain.Order
	findErr error
}

func newFakeOrders() *fakeOrders { return &fakeOrders{byKey: map[string]*domain.Order{}} }

func (o *fakeOrders) CreateIfAbsent(_ context.Context, order *domain.Order) (*domain.Order, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.byKey[order.IdempotencyKey]; ok {
		return existing, false, nil
	}
	o.byKey[order.IdempotencyKey] = order
	return order, true, nil
}

func (o *fakeOrders) FindByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.findErr != nil {
		return nil, o.findErr
	}
	order, ok := o.byKey[key]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (o *fakeOrders) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byKey)
}

type fakeItems struct {
	mu      sync.Mutex
	items   []*domain.FlashItem
	listErr error
	marked  map[uint]time.Time
}

func (f *fakeItems) FindByEventAndSku(_ context.Context, eventID, skuID int64) (*domain.FlashItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.EventID == eventID && it.SkuID == skuID {
			return it, nil
		}
	}
	return nil, domain.ErrFlashItemNotFound
}

func (f *fakeItems) ListByEvent(_ context.Context, eventID int64) ([]*domain.FlashItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*domain.FlashItem
	for _, it := range f.items {
		if it.EventID == eventID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeItems) ListEndedBefore(_ context.Context, t time.Time, limit int) ([]*domain.FlashItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.FlashItem
	for _, it := range f.items {
		if it.EndTime.Before(t) && it.TornDownAt == nil && len(out) < limit {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeItems) MarkTornDown(_ context.Context, id uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		if it.ID == id {
			it.TornDownAt = &at
			if f.marked == nil {
				f.marked = map[uint]time.Time{}
			}
			f.marked[id] = at
			return nil
		}
	}
	return fmt.Errorf("item %d: %w", id, domain.ErrFlashItemNotFound)
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	cleared []domain.ItemRef
	err     error
}

func (b *fakeBroadcaster) BroadcastClear(_ context.Context, item domain.ItemRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.cleared = append(b.cleared, item)
	return nil
}

type fakeLock struct {
	held     bool
	err      error
	unlocked int
}

func (l *fakeLock) TryLock(context.Context, string) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func() { l.unlocked++ }, true, nil
}
