package event_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cmwaters/verdict/event"
)

const testEvtType event.EventType = "test.event"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	eb := event.NewEventBus(nil, zerolog.Nop())
	defer eb.Stop()
	_, sub1Ch := eb.Subscribe(testEvtType)
	_, sub2Ch := eb.Subscribe(testEvtType)
	eb.Publish(event.NewEvent(testEvtType, 999))

	for _, ch := range []<-chan event.Event{sub1Ch, sub2Ch} {
		select {
		case evt, ok := <-ch:
			require.True(t, ok, "event channel closed unexpectedly")
			require.Equal(t, 999, evt.Data)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestEventBusIgnoresOtherTypes(t *testing.T) {
	eb := event.NewEventBus(nil, zerolog.Nop())
	defer eb.Stop()
	_, subCh := eb.Subscribe(testEvtType)
	eb.Publish(event.NewEvent("other.event", 1))
	select {
	case evt := <-subCh:
		t.Fatalf("received unexpected event %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := event.NewEventBus(nil, zerolog.Nop())
	defer eb.Stop()
	id, subCh := eb.Subscribe(testEvtType)
	eb.Unsubscribe(testEvtType, id)
	eb.Publish(event.NewEvent(testEvtType, 1))
	_, ok := <-subCh
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestPublishAsync(t *testing.T) {
	eb := event.NewEventBus(nil, zerolog.Nop())
	defer eb.Stop()
	var count atomic.Int32
	eb.SubscribeFunc(testEvtType, func(event.Event) {
		count.Add(1)
	})
	for i := 0; i < 10; i++ {
		require.True(t, eb.PublishAsync(event.NewEvent(testEvtType, nil)))
	}
	require.Eventually(t, func() bool { return count.Load() == 10 }, 2*time.Second, 10*time.Millisecond)
}

func TestPublishAsyncAfterStop(t *testing.T) {
	eb := event.NewEventBus(nil, zerolog.Nop())
	_, subCh := eb.Subscribe(testEvtType)
	eb.Stop()
	eb.Stop()
	require.False(t, eb.PublishAsync(event.NewEvent(testEvtType, nil)))
	_, ok := <-subCh
	require.False(t, ok)
}

// stopping must not hang on a subscriber nobody reads from
func TestStopWithFullSubscriber(t *testing.T) {
	eb := event.NewEventBus(nil, zerolog.Nop())
	eb.Subscribe(testEvtType)
	for i := 0; i < event.EventQueueSize+5; i++ {
		eb.PublishAsync(event.NewEvent(testEvtType, nil))
	}
	done := make(chan struct{})
	go func() {
		eb.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}
}

type failingSubscriber struct {
	closed atomic.Bool
}

func (s *failingSubscriber) Deliver(event.Event) error { return errors.New("peer gone") }
func (s *failingSubscriber) Close()                    { s.closed.Store(true) }

func TestFailingSubscriberIsRemoved(t *testing.T) {
	registry := prometheus.NewRegistry()
	eb := event.NewEventBus(registry, zerolog.Nop())
	defer eb.Stop()
	sub := &failingSubscriber{}
	eb.RegisterSubscriber(testEvtType, sub)

	eb.Publish(event.NewEvent(testEvtType, 1))
	require.True(t, sub.closed.Load())
	eb.Publish(event.NewEvent(testEvtType, 2))

	require.Equal(t, 1, testutil.CollectAndCount(registry, "verdict_events_total"))
	require.Equal(t, 2.0, sumMetric(t, registry, "verdict_events_total"))
	require.Equal(t, 1.0, sumMetric(t, registry, "verdict_event_delivery_errors_total"))
}

func sumMetric(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	var sum float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func TestInstanceOf(t *testing.T) {
	id, ok := event.InstanceOf(event.NewEvent(event.ImplementedEventType, event.ImplementedEvent{Instance: 4}))
	require.True(t, ok)
	require.EqualValues(t, 4, id)

	_, ok = event.InstanceOf(event.NewEvent(testEvtType, 4))
	require.False(t, ok)
}
