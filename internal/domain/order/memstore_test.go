package order

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-commerce/internal/domain/discount"
	"github.com/xenking/kart-commerce/internal/domain/product"
)

// memState is the data a memStore transaction works on.
type memState struct {
	products  map[string]product.Product
	discounts map[string]discount.Discount
	orders    map[string]*Order
	numbers   map[string]bool
	carts     map[string]*CartSnapshot
}

func (s *memState) clone() *memState {
	c := &memState{
		products:  maps.Clone(s.products),
		discounts: maps.Clone(s.discounts),
		orders:    make(map[string]*Order, len(s.orders)),
		numbers:   maps.Clone(s.numbers),
		carts:     make(map[string]*CartSnapshot, len(s.carts)),
	}
	for id, o := range s.orders {
		cp := *o
		cp.Items = slices.Clone(o.Items)
		cp.History = slices.Clone(o.History)
		c.orders[id] = &cp
	}
	for user, cs := range s.carts {
		cp := *cs
		cp.Lines = slices.Clone(cs.Lines)
		c.carts[user] = &cp
	}
	return c
}

// memStore is a serialized transactional store. Every InTx works on a copy
// of the state that replaces it only on success.
type memStore struct {
	mu    sync.Mutex
	state *memState

	// conflicts makes the next n DecrementStock calls report a lock conflict.
	conflicts int
	// failOn makes the named Tx method fail with the given error.
	failOn map[string]error
	// beforeDecrement runs against the tx state before each decrement.
	beforeDecrement func(st *memState)
}

func newMemStore(products ...product.Product) *memStore {
	st := &memState{
		products:  make(map[string]product.Product),
		discounts: make(map[string]discount.Discount),
		orders:    make(map[string]*Order),
		numbers:   make(map[string]bool),
		carts:     make(map[string]*CartSnapshot),
	}
	for _, p := range products {
		st.products[p.ID] = p
	}
	return &memStore{state: st, failOn: make(map[string]error)}
}

func (m *memStore) addDiscount(d discount.Discount) {
	m.state.discounts[d.Code] = d
}

func (m *memStore) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.products[id].Stock
}

func (m *memStore) discount(code string) discount.Discount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.discounts[code]
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.orders)
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m, st: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.st
	return nil
}

type memTx struct {
	store *memStore
	st    *memState
}

func (t *memTx) fail(method string) error {
	return t.store.failOn[method]
}

func (t *memTx) ProductsByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := t.st.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) ProductStock(_ context.Context, id string) (int, error) {
	p, ok := t.st.products[id]
	if !ok {
		return 0, product.ErrNotFound
	}
	return p.Stock, nil
}

func (t *memTx) DecrementStock(_ context.Context, id string, qty int) (bool, error) {
	if err := t.fail("DecrementStock"); err != nil {
		return false, err
	}
	if t.store.conflicts > 0 {
		t.store.conflicts--
		return false, ErrConcurrentStockConflict
	}
	if t.store.beforeDecrement != nil {
		t.store.beforeDecrement(t.st)
	}
	p := t.st.products[id]
	if p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	t.st.products[id] = p
	return true, nil
}

func (t *memTx) DiscountByCode(_ context.Context, code string) (*discount.Discount, error) {
	d, ok := t.st.discounts[code]
	if !ok {
		return nil, discount.ErrInvalidCode
	}
	return &d, nil
}

func (t *memTx) IncrementDiscountUsage(_ context.Context, id string) (bool, error) {
	if err := t.fail("IncrementDiscountUsage"); err != nil {
		return false, err
	}
	for code, d := range t.st.discounts {
		if d.ID != id {
			continue
		}
		if d.UsageLimit > 0 && d.TimesUsed >= d.UsageLimit {
			return false, nil
		}
		d.TimesUsed++
		t.st.discounts[code] = d
		return true, nil
	}
	return false, errors.New("discount not found")
}

func (t *memTx) CreateOrder(_ context.Context, o *Order) error {
	if err := t.fail("CreateOrder"); err != nil {
		return err
	}
	if t.st.numbers[o.Number] {
		return ErrOrderNumberTaken
	}
	t.st.numbers[o.Number] = true
	cp := *o
	cp.Items = nil
	cp.History = nil
	t.st.orders[o.ID] = &cp
	return nil
}

func (t *memTx) CreateItems(_ context.Context, orderID string, items []Item) error {
	if err := t.fail("CreateItems"); err != nil {
		return err
	}
	o := t.st.orders[orderID]
	o.Items = append(o.Items, items...)
	return nil
}

func (t *memTx) AppendStatus(_ context.Context, orderID string, change StatusChange) error {
	if err := t.fail("AppendStatus"); err != nil {
		return err
	}
	o := t.st.orders[orderID]
	o.History = append(o.History, change)
	return nil
}

func (t *memTx) OrderForUpdate(_ context.Context, orderID string) (*Order, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Items = nil
	cp.History = nil
	return &cp, nil
}

func (t *memTx) SetStatus(_ context.Context, orderID string, u StatusUpdate, at time.Time) error {
	o := t.st.orders[orderID]
	o.Status = u.Status
	if u.TrackingNumber != "" {
		o.TrackingNumber = u.TrackingNumber
	}
	if u.EstimatedDelivery != nil {
		o.EstimatedDelivery = u.EstimatedDelivery
	}
	o.UpdatedAt = at
	return nil
}

func (t *memTx) SetPaymentStatus(_ context.Context, orderID string, status PaymentStatus, at time.Time) error {
	o := t.st.orders[orderID]
	o.PaymentStatus = status
	o.UpdatedAt = at
	return nil
}

func (t *memTx) CartForCheckout(_ context.Context, userID string) (*CartSnapshot, error) {
	c, ok := t.st.carts[userID]
	if !ok {
		return &CartSnapshot{}, nil
	}
	cp := *c
	cp.Lines = slices.Clone(c.Lines)
	return &cp, nil
}

func (t *memTx) ClearCart(_ context.Context, cartID string) error {
	for _, c := range t.st.carts {
		if c.CartID == cartID {
			c.Lines = nil
			c.DiscountCode = ""
		}
	}
	return nil
}

// Reader

func (m *memStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) List(_ context.Context, f ListFilter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.state.orders {
		if f.UserID == "" || o.UserID == f.UserID {
			out = append(out, *o)
		}
	}
	slices.SortFunc(out, func(a, b Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	return out[:min(f.Limit, len(out))], nil
}

func (m *memStore) History(_ context.Context, id string) ([]StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	h := slices.Clone(o.History)
	slices.Reverse(h)
	return h, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) kinds() []EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []EventKind
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}
