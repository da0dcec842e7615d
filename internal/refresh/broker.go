package refresh

import (
	"sync"

	"github.com/seantiz/calcops/internal/model"
)

// liveBufferSize is the headroom each subscriber channel has for outcomes
// published after it subscribed. Live outcomes are dropped for a subscriber
// that falls this far behind.
const liveBufferSize = 64

// ProgressBroker fans out per-item outcomes of in-progress refresh runs.
//
// A run's feed exists from Open until Close. While it exists, every published
// outcome is kept in the feed's backlog, which holds at most one entry per
// item of the run, and a new subscriber first receives the backlog. Close
// drops the feed, so subscribing to a finished or unknown run yields a closed
// channel. It is safe for concurrent use.
type ProgressBroker struct {
	mu    sync.Mutex
	feeds map[string]*runFeed
}

type runFeed struct {
	backlog []model.ItemOutcome
	subs    map[int]chan model.ItemOutcome
	nextID  int
}

// NewProgressBroker creates a new progress broker.
func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{
		feeds: make(map[string]*runFeed),
	}
}

// Open starts the feed for a run. Opening an open run is a no-op.
func (b *ProgressBroker) Open(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.feeds[runID]; !ok {
		b.feeds[runID] = &runFeed{subs: make(map[int]chan model.ItemOutcome)}
	}
}

// Subscribe returns a channel that receives the outcomes already published
// for the run followed by live ones, and an unsubscribe function. The channel
// is closed when the run finishes, or immediately if the run has no feed.
func (b *ProgressBroker) Subscribe(runID string) (<-chan model.ItemOutcome, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.feeds[runID]
	if !ok {
		ch := make(chan model.ItemOutcome)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan model.ItemOutcome, len(f.backlog)+liveBufferSize)
	for _, o := range f.backlog {
		ch <- o
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(f.subs, id)
	}
}

// Publish records an outcome in the run's backlog and sends it to current
// subscribers. Outcomes for runs without a feed are discarded.
func (b *ProgressBroker) Publish(runID string, o model.ItemOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.feeds[runID]
	if !ok {
		return
	}

	f.backlog = append(f.backlog, o)
	for _, ch := range f.subs {
		select {
		case ch <- o:
		default:
		}
	}
}

// Close ends the run's feed: subscriber channels are closed and the backlog
// is released.
func (b *ProgressBroker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.feeds[runID]
	if !ok {
		return
	}
	delete(b.feeds, runID)

	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
}

// Active returns the number of runs with an open feed.
func (b *ProgressBroker) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.feeds)
}
