package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cmwaters/verdict/event"
	"github.com/google/uuid"
)

var ErrUnknownNotification = errors.New("unknown notification type")

// Notification is the wire form of an engine event.
type Notification struct {
	ID        string          `json:"id"`
	Origin    string          `json:"origin"`
	Type      event.EventType `json:"type"`
	Instance  uint64          `json:"instance"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewNotification wraps an engine event under a fresh message id.
func NewNotification(origin string, evt event.Event) (*Notification, error) {
	instance, ok := event.InstanceOf(evt)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNotification, evt.Type)
	}
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return nil, err
	}
	return &Notification{
		ID:        uuid.NewString(),
		Origin:    origin,
		Type:      evt.Type,
		Instance:  instance,
		Timestamp: evt.Timestamp,
		Data:      data,
	}, nil
}

// Validate checks that the payload decodes for its type and refers to the
// advertised instance.
func (n *Notification) Validate() error {
	if _, err := uuid.Parse(n.ID); err != nil {
		return fmt.Errorf("notification id: %w", err)
	}
	evt, err := n.Event()
	if err != nil {
		return err
	}
	if instance, _ := event.InstanceOf(evt); instance != n.Instance {
		return fmt.Errorf("notification for instance %d carries instance %d", n.Instance, instance)
	}
	return nil
}

// Event decodes the notification back into a typed event.
func (n *Notification) Event() (event.Event, error) {
	var (
		data any
		err  error
	)
	switch n.Type {
	case event.InstanceStartedEventType:
		data, err = decode[event.InstanceStartedEvent](n.Data)
	case event.ImplementedEventType:
		data, err = decode[event.ImplementedEvent](n.Data)
	case event.NotImplementedEventType:
		data, err = decode[event.NotImplementedEvent](n.Data)
	case event.RoundWinnerEventType:
		data, err = decode[event.RoundWinnerEvent](n.Data)
	default:
		return event.Event{}, fmt.Errorf("%w: %s", ErrUnknownNotification, n.Type)
	}
	if err != nil {
		return event.Event{}, fmt.Errorf("decoding %s: %w", n.Type, err)
	}
	return event.Event{Type: n.Type, Timestamp: n.Timestamp, Data: data}, nil
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
