package store

import (
	"context"
	"encoding/json"
	"sync"

	"slot-booking/internal/status"
	"slot-booking/models"
)

// MemStore is an in-process Store used by tests and local development.
// A single mutex serializes transactions, so the closure observes a
// consistent snapshot and commits atomically; records round-trip
// through JSON so callers never alias stored state.
type MemStore struct {
	mu      sync.Mutex
	records map[string][]byte
	sets    map[string]map[string]struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{
		records: map[string][]byte{},
		sets:    map[string]map[string]struct{}{},
	}
}

func (s *MemStore) GetSlot(ctx context.Context, id string) (*models.TimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var slot models.TimeSlot
	if err := s.get(SlotKey(id), &slot, status.CodeSlotNotFound, "time slot %s not found", id); err != nil {
		return nil, err
	}
	return &slot, nil
}

func (s *MemStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b models.Booking
	if err := s.get(BookingKey(id), &b, status.CodeBookingNotFound, "booking %s not found", id); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *MemStore) GetPayment(ctx context.Context, id string) (*models.PaymentInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p models.PaymentInfo
	if err := s.get(PaymentKey(id), &p, status.CodePaymentNotFound, "payment %s not found", id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *MemStore) get(key string, dst any, code, format string, args ...any) error {
	data, ok := s.records[key]
	if !ok {
		return status.NotFound(code, format, args...)
	}
	return json.Unmarshal(data, dst)
}

func (s *MemStore) SaveSlot(ctx context.Context, slot *models.TimeSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putSlot(slot)
	return nil
}

func (s *MemStore) DeleteSlot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, SlotKey(id))
	s.setRem(activeSlotsKey, id)
	return nil
}

func (s *MemStore) ActiveSlotIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setMembers(activeSlotsKey), nil
}

func (s *MemStore) PendingBookingIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setMembers(pendingBookingsKey), nil
}

func (s *MemStore) UserBookingIDs(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setMembers(userBookingsKey(userID)), nil
}

func (s *MemStore) RunInTransaction(ctx context.Context, watchKeys []string, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, cache: map[string]any{}}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemStore) putSlot(slot *models.TimeSlot) {
	data, _ := json.Marshal(slot)
	s.records[SlotKey(slot.ID)] = data
	if slot.IsAvailable {
		s.setAdd(activeSlotsKey, slot.ID)
	} else {
		s.setRem(activeSlotsKey, slot.ID)
	}
}

func (s *MemStore) putBooking(b *models.Booking) {
	data, _ := json.Marshal(b)
	s.records[BookingKey(b.ID)] = data
	if b.Status == models.BookingStatusPending {
		s.setAdd(pendingBookingsKey, b.ID)
	} else {
		s.setRem(pendingBookingsKey, b.ID)
	}
	if b.UserID != "" {
		s.setAdd(userBookingsKey(b.UserID), b.ID)
	}
}

func (s *MemStore) putPayment(p *models.PaymentInfo) {
	data, _ := json.Marshal(p)
	s.records[PaymentKey(p.ID)] = data
}

func (s *MemStore) setAdd(key, member string) {
	if s.sets[key] == nil {
		s.sets[key] = map[string]struct{}{}
	}
	s.sets[key][member] = struct{}{}
}

func (s *MemStore) setRem(key, member string) {
	delete(s.sets[key], member)
}

func (s *MemStore) setMembers(key string) []string {
	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	return members
}

type memTx struct {
	store *MemStore
	cache map[string]any
	slots []*models.TimeSlot
	books []*models.Booking
	pays  []*models.PaymentInfo
}

func (t *memTx) Slot(id string) (*models.TimeSlot, error) {
	key := SlotKey(id)
	if v, ok := t.cache[key]; ok {
		return v.(*models.TimeSlot), nil
	}
	var slot models.TimeSlot
	if err := t.store.get(key, &slot, status.CodeSlotNotFound, "time slot %s not found", id); err != nil {
		return nil, err
	}
	t.cache[key] = &slot
	return &slot, nil
}

func (t *memTx) SaveSlot(slot *models.TimeSlot) {
	t.cache[SlotKey(slot.ID)] = slot
	t.slots = append(t.slots, slot)
}

func (t *memTx) Booking(id string) (*models.Booking, error) {
	key := BookingKey(id)
	if v, ok := t.cache[key]; ok {
		return v.(*models.Booking), nil
	}
	var b models.Booking
	if err := t.store.get(key, &b, status.CodeBookingNotFound, "booking %s not found", id); err != nil {
		return nil, err
	}
	t.cache[key] = &b
	return &b, nil
}

func (t *memTx) SaveBooking(b *models.Booking) {
	t.cache[BookingKey(b.ID)] = b
	t.books = append(t.books, b)
}

func (t *memTx) Payment(id string) (*models.PaymentInfo, error) {
	key := PaymentKey(id)
	if v, ok := t.cache[key]; ok {
		return v.(*models.PaymentInfo), nil
	}
	var p models.PaymentInfo
	if err := t.store.get(key, &p, status.CodePaymentNotFound, "payment %s not found", id); err != nil {
		return nil, err
	}
	t.cache[key] = &p
	return &p, nil
}

func (t *memTx) SavePayment(p *models.PaymentInfo) {
	t.cache[PaymentKey(p.ID)] = p
	t.pays = append(t.pays, p)
}

func (t *memTx) commit() error {
	for _, slot := range t.slots {
		t.store.putSlot(slot)
	}
	for _, b := range t.books {
		t.store.putBooking(b)
	}
	for _, p := range t.pays {
		t.store.putPayment(p)
	}
	return nil
}
