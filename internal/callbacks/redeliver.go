package callbacks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFailedEventNotFound is returned when a dead-lettered event id is unknown.
var ErrFailedEventNotFound = errors.New("callbacks: failed event not found")

// ListFailed returns dead-lettered events, oldest first.
func (d *Dispatcher) ListFailed(ctx context.Context, limit int) ([]FailedEvent, error) {
	if d.dlq == nil {
		return []FailedEvent{}, nil
	}
	return d.dlq.ListFailedEvents(ctx, limit)
}

// Redeliver sends a dead-lettered event again, synchronously and with the
// configured retry policy. On success the event leaves the DLQ; on failure
// it is dead-lettered again with the new attempt count.
func (d *Dispatcher) Redeliver(ctx context.Context, id string) error {
	failed, err := d.findFailed(ctx, id)
	if err != nil {
		return err
	}
	event, err := failed.event()
	if err != nil {
		return err
	}
	if err := d.deliver(ctx, event); err != nil {
		return err
	}
	if err := d.dlq.DeleteFailedEvent(ctx, id); err != nil {
		return fmt.Errorf("remove redelivered event: %w", err)
	}
	d.logger.Info().Str("event_id", id).Msg("webhook.redelivered")
	return nil
}

// Discard drops a dead-lettered event without delivering it.
func (d *Dispatcher) Discard(ctx context.Context, id string) error {
	if _, err := d.findFailed(ctx, id); err != nil {
		return err
	}
	return d.dlq.DeleteFailedEvent(ctx, id)
}

func (d *Dispatcher) findFailed(ctx context.Context, id string) (FailedEvent, error) {
	if d.dlq == nil {
		return FailedEvent{}, ErrFailedEventNotFound
	}
	events, err := d.dlq.ListFailedEvents(ctx, 0)
	if err != nil {
		return FailedEvent{}, err
	}
	for _, ev := range events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return FailedEvent{}, ErrFailedEventNotFound
}

// event rebuilds the original Event from the stored wire payload.
func (f FailedEvent) event() (Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(f.Payload, &wire); err != nil {
		return Event{}, fmt.Errorf("decode failed event %s: %w", f.ID, err)
	}
	return Event{
		ID:        f.ID,
		Type:      wire.Type,
		CreatedAt: f.CreatedAt,
		Data:      wire.Data.OrderData,
	}, nil
}
