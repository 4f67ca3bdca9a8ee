package notification

import (
	"sync"

	"github.com/formiq/platform/pkg/common/kafka"
)

type partitionKey struct {
	topic     string
	partition int
}

type inFlight struct {
	delivery *kafka.Delivery
	settled  bool
}

// offsetTracker orders commits per partition. Committing an offset in Kafka
// acknowledges every earlier one, so a settled job is only committed once
// every job fetched before it on the same partition has settled too.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[partitionKey][]*inFlight
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{pending: make(map[partitionKey][]*inFlight)}
}

// add registers d in fetch order.
func (t *offsetTracker) add(d *kafka.Delivery) *inFlight {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := &inFlight{delivery: d}
	key := partitionKey{topic: d.Message.Topic, partition: d.Message.Partition}
	t.pending[key] = append(t.pending[key], f)
	return f
}

// settle marks f done and returns the furthest delivery on its partition that
// is now safe to commit, or nil while an earlier job is still open.
func (t *offsetTracker) settle(f *inFlight) *kafka.Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()

	f.settled = true
	key := partitionKey{topic: f.delivery.Message.Topic, partition: f.delivery.Message.Partition}
	queue := t.pending[key]

	var ready *kafka.Delivery
	for len(queue) > 0 && queue[0].settled {
		ready = queue[0].delivery
		queue = queue[1:]
	}
	if len(queue) == 0 {
		delete(t.pending, key)
	} else {
		t.pending[key] = queue
	}
	return ready
}

// open reports how many fetched jobs are not yet committable.
func (t *offsetTracker) open() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, queue := range t.pending {
		n += len(queue)
	}
	return n
}
