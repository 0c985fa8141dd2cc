package notify

import (
	"context"
	"errors"
	"testing"
)

func TestBrokerDeliversToSinksAndSubscribers(t *testing.T) {
	var sinkEvents []Event
	sink := SinkFunc(func(ctx context.Context, e Event) error {
		sinkEvents = append(sinkEvents, e)
		return nil
	})

	b := NewBroker(nil, sink)

	var subEvents []Event
	unsubscribe := b.Subscribe(func(e Event) { subEvents = append(subEvents, e) })

	b.Publish(context.Background(), Event{Type: EventSyncStarted, AgencyID: "agency-fr"})

	if len(sinkEvents) != 1 || sinkEvents[0].Type != EventSyncStarted {
		t.Errorf("sink events = %+v", sinkEvents)
	}
	if len(subEvents) != 1 {
		t.Errorf("subscriber events = %+v", subEvents)
	}
	if sinkEvents[0].At.IsZero() {
		t.Error("Publish must stamp the event time")
	}

	unsubscribe()
	b.Publish(context.Background(), Event{Type: EventSyncCompleted, AgencyID: "agency-fr"})
	if len(subEvents) != 1 {
		t.Error("unsubscribed callback still invoked")
	}
	if len(sinkEvents) != 2 {
		t.Error("sink should keep receiving after unsubscribe of other listener")
	}
}

func TestBrokerSwallowsSinkErrors(t *testing.T) {
	failing := SinkFunc(func(ctx context.Context, e Event) error {
		return errors.New("webhook down")
	})
	var delivered int
	healthy := SinkFunc(func(ctx context.Context, e Event) error {
		delivered++
		return nil
	})

	b := NewBroker(nil, failing, healthy)
	b.Publish(context.Background(), Event{Type: EventSyncFailed, AgencyID: "agency-fr"})

	if delivered != 1 {
		t.Error("healthy sink must receive the event despite an earlier sink failing")
	}
}
