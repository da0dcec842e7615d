package refresh_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/seantiz/calcops/internal/model"
	"github.com/seantiz/calcops/internal/refresh"
)

func outcome(i int) model.ItemOutcome {
	return model.ItemOutcome{Index: i, ItemID: "item", ListingID: "l", OK: true}
}

func drain(ch <-chan model.ItemOutcome) []model.ItemOutcome {
	var got []model.ItemOutcome
	for o := range ch {
		got = append(got, o)
	}
	return got
}

func indexes(got []model.ItemOutcome) []int {
	out := make([]int, len(got))
	for i, o := range got {
		out[i] = o.Index
	}
	return out
}

func TestBrokerSingleSubscriber(t *testing.T) {
	b := refresh.NewProgressBroker()
	b.Open("r1")
	ch, unsub := b.Subscribe("r1")
	defer unsub()

	for i := range 3 {
		b.Publish("r1", outcome(i))
	}
	b.Close("r1")

	if diff := cmp.Diff([]int{0, 1, 2}, indexes(drain(ch))); diff != "" {
		t.Errorf("indexes mismatch (-want +got):\n%s", diff)
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	b := refresh.NewProgressBroker()
	b.Open("r1")
	ch1, unsub1 := b.Subscribe("r1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("r1")
	defer unsub2()

	b.Publish("r1", outcome(7))
	b.Close("r1")

	if got := drain(ch1); len(got) != 1 || got[0].Index != 7 {
		t.Errorf("subscriber 1 got %v", got)
	}
	if got := drain(ch2); len(got) != 1 || got[0].Index != 7 {
		t.Errorf("subscriber 2 got %v", got)
	}
}

func TestBrokerReplaysBacklogToLateSubscriber(t *testing.T) {
	b := refresh.NewProgressBroker()
	b.Open("r1")
	b.Publish("r1", outcome(0))
	b.Publish("r1", outcome(1))

	ch, unsub := b.Subscribe("r1")
	defer unsub()

	b.Publish("r1", outcome(2))
	b.Close("r1")

	if diff := cmp.Diff([]int{0, 1, 2}, indexes(drain(ch))); diff != "" {
		t.Errorf("indexes mismatch (-want +got):\n%s", diff)
	}
}

func TestBrokerSubscribeAfterCloseGetsClosed(t *testing.T) {
	b := refresh.NewProgressBroker()
	b.Open("r1")
	b.Publish("r1", outcome(0))
	b.Close("r1")

	ch, unsub := b.Subscribe("r1")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("subscriber to a finished run should get a closed channel")
	}
}

func TestBrokerSubscribeUnknownRunGetsClosed(t *testing.T) {
	b := refresh.NewProgressBroker()
	ch, unsub := b.Subscribe("nonexistent")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("subscriber to an unknown run should get a closed channel")
	}
}

func TestBrokerCloseReleasesFeed(t *testing.T) {
	b := refresh.NewProgressBroker()
	for _, id := range []string{"r1", "r2", "r3"} {
		b.Open(id)
		b.Publish(id, outcome(0))
	}
	if got := b.Active(); got != 3 {
		t.Fatalf("Active() = %d, want 3", got)
	}

	for _, id := range []string{"r1", "r2", "r3"} {
		b.Close(id)
	}
	if got := b.Active(); got != 0 {
		t.Errorf("Active() = %d after close, want 0", got)
	}

	// Closing twice or closing an unknown run leaves nothing behind.
	b.Close("r1")
	b.Close("nonexistent")
	if got := b.Active(); got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}
}

func TestBrokerOpenIsIdempotent(t *testing.T) {
	b := refresh.NewProgressBroker()
	b.Open("r1")
	b.Publish("r1", outcome(0))
	b.Open("r1")

	ch, unsub := b.Subscribe("r1")
	defer unsub()
	b.Close("r1")

	if diff := cmp.Diff([]int{0}, indexes(drain(ch))); diff != "" {
		t.Errorf("reopening dropped the backlog (-want +got):\n%s", diff)
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := refresh.NewProgressBroker()
	b.Open("r1")
	ch, unsub := b.Subscribe("r1")
	unsub()

	b.Publish("r1", outcome(0))
	b.Close("r1")

	select {
	case o, ok := <-ch:
		if ok {
			t.Errorf("got unexpected event %+v after unsubscribe", o)
		}
	default:
	}
}

func TestBrokerPublishToUnknownRunIsNoop(t *testing.T) {
	b := refresh.NewProgressBroker()
	b.Publish("nonexistent", outcome(0))
	if got := b.Active(); got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}
}
