package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rl1809/cart-checkout/internal/core/domain"
	"github.com/rl1809/cart-checkout/internal/port"
)

// MemoryStore is an in-process port.Store. Every operation and every
// transaction holds one store-wide lock, so transactions are serializable.
// A transaction works on a copy of the state that replaces the live state
// only on commit.
type MemoryStore struct {
	sem   chan struct{}
	state *memoryState
}

type memoryState struct {
	products  map[int64]domain.Product
	carts     map[string]map[int64]domain.CartLine
	orders    map[string]storedOrder
	outbox    []domain.Event
	orderSeq  int64
	outboxSeq int64
}

type storedOrder struct {
	order domain.Order
	seq   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sem: make(chan struct{}, 1),
		state: &memoryState{
			products: make(map[int64]domain.Product),
			carts:    make(map[string]map[int64]domain.CartLine),
			orders:   make(map[string]storedOrder),
		},
	}
}

type runner func(ctx context.Context, fn func(st *memoryState) error) error

func (s *MemoryStore) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for store lock: %v", domain.ErrTransientStore, ctx.Err())
	}
}

func (s *MemoryStore) unlock() { <-s.sem }

func (s *MemoryStore) autoCommit(ctx context.Context, fn func(st *memoryState) error) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	return fn(s.state)
}

func (s *MemoryStore) repos() memRepos { return memRepos{run: s.autoCommit} }

func (s *MemoryStore) Carts() port.CartRepository { return s.repos().Carts() }
func (s *MemoryStore) Inventory() port.InventoryRepository { return s.repos().Inventory() }
func (s *MemoryStore) Orders() port.OrderRepository { return s.repos().Orders() }
func (s *MemoryStore) Outbox() port.OutboxRepository { return s.repos().Outbox() }

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, repos port.Repositories) error) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	work := s.state.clone()
	inTx := memRepos{run: func(ctx context.Context, op func(st *memoryState) error) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
		}
		return op(work)
	}}

	if err := fn(ctx, inTx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrTransientStore, err)
	}
	s.state = work
	return nil
}

func (st *memoryState) clone() *memoryState {
	cp := &memoryState{
		products:  make(map[int64]domain.Product, len(st.products)),
		carts:     make(map[string]map[int64]domain.CartLine, len(st.carts)),
		orders:    make(map[string]storedOrder, len(st.orders)),
		outbox:    make([]domain.Event, len(st.outbox)),
		orderSeq:  st.orderSeq,
		outboxSeq: st.outboxSeq,
	}
	for id, p := range st.products {
		cp.products[id] = p
	}
	for session, lines := range st.carts {
		m := make(map[int64]domain.CartLine, len(lines))
		for pid, l := range lines {
			m[pid] = l
		}
		cp.carts[session] = m
	}
	for id, o := range st.orders {
		o.order.Lines = append([]domain.OrderLine(nil), o.order.Lines...)
		cp.orders[id] = o
	}
	copy(cp.outbox, st.outbox)
	return cp
}

type memRepos struct{ run runner }

func (r memRepos) Carts() port.CartRepository { return memCarts(r) }
func (r memRepos) Inventory() port.InventoryRepository { return memInventory(r) }
func (r memRepos) Orders() port.OrderRepository { return memOrders(r) }
func (r memRepos) Outbox() port.OutboxRepository { return memOutbox(r) }

type memCarts struct{ run runner }

func (c memCarts) View(ctx context.Context, sessionID string) ([]domain.CartItemView, error) {
	var items []domain.CartItemView
	err := c.run(ctx, func(st *memoryState) error {
		for _, l := range st.carts[sessionID] {
			item := domain.CartItemView{CartLine: l}
			if p, ok := st.products[l.ProductID]; ok {
				item.Name = p.Name
				item.UnitPrice = p.UnitPrice
				item.StockCount = p.StockCount
			} else {
				item.Unavailable = true
			}
			items = append(items, item)
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool {
		if !items[i].AddedAt.Equal(items[j].AddedAt) {
			return items[i].AddedAt.After(items[j].AddedAt)
		}
		return items[i].ProductID < items[j].ProductID
	})
	return items, err
}

func (c memCarts) LinesForUpdate(ctx context.Context, sessionID string) ([]domain.CartLine, error) {
	var lines []domain.CartLine
	err := c.run(ctx, func(st *memoryState) error {
		for _, l := range st.carts[sessionID] {
			lines = append(lines, l)
		}
		return nil
	})
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, err
}

func (c memCarts) LineForUpdate(ctx context.Context, sessionID string, productID int64) (*domain.CartLine, error) {
	var line *domain.CartLine
	err := c.run(ctx, func(st *memoryState) error {
		if l, ok := st.carts[sessionID][productID]; ok {
			line = &l
		}
		return nil
	})
	return line, err
}

func (c memCarts) Merge(ctx context.Context, line domain.CartLine) (domain.CartLine, error) {
	var merged domain.CartLine
	err := c.run(ctx, func(st *memoryState) error {
		lines, ok := st.carts[line.SessionID]
		if !ok {
			lines = make(map[int64]domain.CartLine)
			st.carts[line.SessionID] = lines
		}
		merged = line
		if existing, ok := lines[line.ProductID]; ok {
			merged = existing
			merged.Quantity += line.Quantity
		}
		lines[line.ProductID] = merged
		return nil
	})
	return merged, err
}

func (c memCarts) Save(ctx context.Context, line domain.CartLine) error {
	return c.run(ctx, func(st *memoryState) error {
		lines, ok := st.carts[line.SessionID]
		if !ok {
			lines = make(map[int64]domain.CartLine)
			st.carts[line.SessionID] = lines
		}
		lines[line.ProductID] = line
		return nil
	})
}

func (c memCarts) Delete(ctx context.Context, sessionID string, productID int64) error {
	return c.run(ctx, func(st *memoryState) error {
		delete(st.carts[sessionID], productID)
		if len(st.carts[sessionID]) == 0 {
			delete(st.carts, sessionID)
		}
		return nil
	})
}

func (c memCarts) Clear(ctx context.Context, sessionID string) error {
	return c.run(ctx, func(st *memoryState) error {
		delete(st.carts, sessionID)
		return nil
	})
}

type memInventory struct{ run runner }

func (i memInventory) Get(ctx context.Context, productID int64) (domain.Product, error) {
	var p domain.Product
	err := i.run(ctx, func(st *memoryState) error {
		found, ok := st.products[productID]
		if !ok {
			return fmt.Errorf("%w: id %d", domain.ErrProductNotFound, productID)
		}
		p = found
		return nil
	})
	return p, err
}

func (i memInventory) LockProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(productIDs))
	err := i.run(ctx, func(st *memoryState) error {
		for _, id := range productIDs {
			if p, ok := st.products[id]; ok {
				out[id] = p
			}
		}
		return nil
	})
	return out, err
}

func (i memInventory) DecrementAtomic(ctx context.Context, productID int64, quantity int) error {
	return i.run(ctx, func(st *memoryState) error {
		p, ok := st.products[productID]
		if !ok {
			return fmt.Errorf("%w: id %d", domain.ErrProductNotFound, productID)
		}
		if p.StockCount < quantity {
			return domain.ErrInsufficientStock
		}
		p.StockCount -= quantity
		st.products[productID] = p
		return nil
	})
}

func (i memInventory) Increment(ctx context.Context, productID int64, quantity int) error {
	return i.run(ctx, func(st *memoryState) error {
		p, ok := st.products[productID]
		if !ok {
			return nil
		}
		p.StockCount += quantity
		st.products[productID] = p
		return nil
	})
}

func (i memInventory) Save(ctx context.Context, p domain.Product) error {
	if p.StockCount < 0 {
		return fmt.Errorf("%w: stock count must not be negative", domain.ErrInvalidQuantity)
	}
	return i.run(ctx, func(st *memoryState) error {
		st.products[p.ID] = p
		return nil
	})
}

type memOrders struct{ run runner }

func (o memOrders) Create(ctx context.Context, order domain.Order) error {
	return o.run(ctx, func(st *memoryState) error {
		if _, ok := st.orders[order.ID]; ok {
			return fmt.Errorf("create order: duplicate id %s", order.ID)
		}
		for _, existing := range st.orders {
			if existing.order.OrderNumber == order.OrderNumber {
				return fmt.Errorf("create order: duplicate order number %s", order.OrderNumber)
			}
		}
		st.orderSeq++
		order.Lines = append([]domain.OrderLine(nil), order.Lines...)
		st.orders[order.ID] = storedOrder{order: order, seq: st.orderSeq}
		return nil
	})
}

func (o memOrders) Get(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := o.run(ctx, func(st *memoryState) error {
		stored, ok := st.orders[orderID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		order = stored.order
		order.Lines = append([]domain.OrderLine(nil), stored.order.Lines...)
		return nil
	})
	return order, err
}

func (o memOrders) GetForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return o.Get(ctx, orderID)
}

func (o memOrders) ListByCustomer(ctx context.Context, email string) ([]domain.Order, error) {
	var orders []domain.Order
	err := o.run(ctx, func(st *memoryState) error {
		orders = headers(st, func(ord domain.Order) bool { return ord.Customer.Email == email })
		return nil
	})
	return orders, err
}

func (o memOrders) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	var (
		page  []domain.Order
		total int
	)
	err := o.run(ctx, func(st *memoryState) error {
		all := headers(st, func(ord domain.Order) bool {
			return filter.Status == "" || ord.Status == filter.Status
		})
		total = len(all)
		start := filter.Offset()
		if start > total {
			start = total
		}
		end := start + filter.Limit
		if end > total {
			end = total
		}
		page = all[start:end]
		return nil
	})
	return page, total, err
}

func (o memOrders) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) error {
	return o.run(ctx, func(st *memoryState) error {
		stored, ok := st.orders[orderID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		stored.order.Status = status
		stored.order.UpdatedAt = at
		st.orders[orderID] = stored
		return nil
	})
}

// headers returns matching orders without lines, newest first.
func headers(st *memoryState, match func(domain.Order) bool) []domain.Order {
	stored := make([]storedOrder, 0, len(st.orders))
	for _, so := range st.orders {
		if match(so.order) {
			stored = append(stored, so)
		}
	}
	sort.Slice(stored, func(i, j int) bool {
		a, b := stored[i], stored[j]
		if !a.order.CreatedAt.Equal(b.order.CreatedAt) {
			return a.order.CreatedAt.After(b.order.CreatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]domain.Order, len(stored))
	for i, so := range stored {
		out[i] = so.order
		out[i].Lines = nil
	}
	return out
}

type memOutbox struct{ run runner }

func (b memOutbox) Append(ctx context.Context, event domain.Event) error {
	return b.run(ctx, func(st *memoryState) error {
		st.outboxSeq++
		event.ID = st.outboxSeq
		st.outbox = append(st.outbox, event)
		return nil
	})
}

func (b memOutbox) FetchPending(ctx context.Context, limit int) ([]domain.Event, error) {
	var out []domain.Event
	err := b.run(ctx, func(st *memoryState) error {
		for _, e := range st.outbox {
			if e.SentAt != nil {
				continue
			}
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (b memOutbox) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return b.run(ctx, func(st *memoryState) error {
		for i := range st.outbox {
			if st.outbox[i].ID == id {
				sentAt := at
				st.outbox[i].SentAt = &sentAt
				return nil
			}
		}
		return nil
	})
}
