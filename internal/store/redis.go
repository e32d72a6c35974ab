package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"slot-booking/internal/status"
	"slot-booking/models"
)

// RedisStore keeps every record as a JSON string and relies on
// WATCH/MULTI/EXEC optimistic transactions for the read-modify-write
// paths. A conflicting concurrent commit fails the EXEC and the whole
// closure is retried.
type RedisStore struct {
	client     *redis.Client
	maxRetries int
}

func NewRedisStore(client *redis.Client, maxRetries int) *RedisStore {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &RedisStore{client: client, maxRetries: maxRetries}
}

func (s *RedisStore) GetSlot(ctx context.Context, id string) (*models.TimeSlot, error) {
	var slot models.TimeSlot
	if err := s.getJSON(ctx, SlotKey(id), &slot, status.CodeSlotNotFound, "time slot %s not found", id); err != nil {
		return nil, err
	}
	return &slot, nil
}

func (s *RedisStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := s.getJSON(ctx, BookingKey(id), &b, status.CodeBookingNotFound, "booking %s not found", id); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *RedisStore) GetPayment(ctx context.Context, id string) (*models.PaymentInfo, error) {
	var p models.PaymentInfo
	if err := s.getJSON(ctx, PaymentKey(id), &p, status.CodePaymentNotFound, "payment %s not found", id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, dst any, code, format string, args ...any) error {
	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return status.NotFound(code, format, args...)
	}
	if err != nil {
		return status.Transient(status.CodeTxConflict, "redis get %s: %v", key, err)
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("store: unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SaveSlot(ctx context.Context, slot *models.TimeSlot) error {
	data, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("store: marshal slot %s: %w", slot.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, SlotKey(slot.ID), data, 0)
	if slot.IsAvailable {
		pipe.SAdd(ctx, activeSlotsKey, slot.ID)
	} else {
		pipe.SRem(ctx, activeSlotsKey, slot.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) DeleteSlot(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, SlotKey(id))
	pipe.SRem(ctx, activeSlotsKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ActiveSlotIDs(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, activeSlotsKey).Result()
}

func (s *RedisStore) PendingBookingIDs(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, pendingBookingsKey).Result()
}

func (s *RedisStore) UserBookingIDs(ctx context.Context, userID string) ([]string, error) {
	return s.client.SMembers(ctx, userBookingsKey(userID)).Result()
}

func (s *RedisStore) RunInTransaction(ctx context.Context, watchKeys []string, fn func(tx Tx) error) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{ctx: ctx, tx: rtx, cache: map[string]any{}}
			if err := fn(tx); err != nil {
				return err
			}
			_, err := rtx.TxPipelined(ctx, tx.flush)
			return err
		}, watchKeys...)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return status.Transient(status.CodeTxConflict,
		"transaction on %v aborted after %d conflicting attempts", watchKeys, s.maxRetries)
}

// redisTx buffers writes until the closure succeeds, then flushes them
// into the MULTI/EXEC pipeline. Reads go through the watched connection
// and serve earlier writes of the same transaction from the cache.
type redisTx struct {
	ctx    context.Context
	tx     *redis.Tx
	cache  map[string]any
	writes []func(pipe redis.Pipeliner) error
}

func (t *redisTx) Slot(id string) (*models.TimeSlot, error) {
	key := SlotKey(id)
	if v, ok := t.cache[key]; ok {
		return v.(*models.TimeSlot), nil
	}
	var slot models.TimeSlot
	if err := t.getJSON(key, &slot, status.CodeSlotNotFound, "time slot %s not found", id); err != nil {
		return nil, err
	}
	t.cache[key] = &slot
	return &slot, nil
}

func (t *redisTx) SaveSlot(slot *models.TimeSlot) {
	key := SlotKey(slot.ID)
	t.cache[key] = slot
	t.writes = append(t.writes, func(pipe redis.Pipeliner) error {
		data, err := json.Marshal(slot)
		if err != nil {
			return err
		}
		pipe.Set(t.ctx, key, data, 0)
		if slot.IsAvailable {
			pipe.SAdd(t.ctx, activeSlotsKey, slot.ID)
		} else {
			pipe.SRem(t.ctx, activeSlotsKey, slot.ID)
		}
		return nil
	})
}

func (t *redisTx) Booking(id string) (*models.Booking, error) {
	key := BookingKey(id)
	if v, ok := t.cache[key]; ok {
		return v.(*models.Booking), nil
	}
	var b models.Booking
	if err := t.getJSON(key, &b, status.CodeBookingNotFound, "booking %s not found", id); err != nil {
		return nil, err
	}
	t.cache[key] = &b
	return &b, nil
}

func (t *redisTx) SaveBooking(b *models.Booking) {
	key := BookingKey(b.ID)
	t.cache[key] = b
	t.writes = append(t.writes, func(pipe redis.Pipeliner) error {
		data, err := json.Marshal(b)
		if err != nil {
			return err
		}
		pipe.Set(t.ctx, key, data, 0)
		if b.Status == models.BookingStatusPending {
			pipe.SAdd(t.ctx, pendingBookingsKey, b.ID)
		} else {
			pipe.SRem(t.ctx, pendingBookingsKey, b.ID)
		}
		if b.UserID != "" {
			pipe.SAdd(t.ctx, userBookingsKey(b.UserID), b.ID)
		}
		return nil
	})
}

func (t *redisTx) Payment(id string) (*models.PaymentInfo, error) {
	key := PaymentKey(id)
	if v, ok := t.cache[key]; ok {
		return v.(*models.PaymentInfo), nil
	}
	var p models.PaymentInfo
	if err := t.getJSON(key, &p, status.CodePaymentNotFound, "payment %s not found", id); err != nil {
		return nil, err
	}
	t.cache[key] = &p
	return &p, nil
}

func (t *redisTx) SavePayment(p *models.PaymentInfo) {
	key := PaymentKey(p.ID)
	t.cache[key] = p
	t.writes = append(t.writes, func(pipe redis.Pipeliner) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		pipe.Set(t.ctx, key, data, 0)
		return nil
	})
}

func (t *redisTx) getJSON(key string, dst any, code, format string, args ...any) error {
	data, err := t.tx.Get(t.ctx, key).Result()
	if err == redis.Nil {
		return status.NotFound(code, format, args...)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("store: unmarshal %s: %w", key, err)
	}
	return nil
}

func (t *redisTx) flush(pipe redis.Pipeliner) error {
	for _, w := range t.writes {
		if err := w(pipe); err != nil {
			return err
		}
	}
	return nil
}
