package webhook

import (
	"strconv"
	"sync"

	"github.com/homelab/ha-ingestor/internal/metrics"
	"github.com/homelab/ha-ingestor/internal/model"
)

// mailbox is a bounded, drop-oldest FIFO of events awaiting delivery to one
// subscription. A single consumer goroutine drains it so per-subscription
// ordering is preserved; a stalled delivery blocks only this mailbox.
type mailbox struct {
	subscriptionID int64
	mu             sync.Mutex
	ch             chan *model.Event
}

func newMailbox(subscriptionID int64, capacity int) *mailbox {
	return &mailbox{subscriptionID: subscriptionID, ch: make(chan *model.Event, capacity)}
}

// Push enqueues ev, dropping the oldest undelivered event on overflow.
func (m *mailbox) Push(ev *model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case m.ch <- ev:
		return
	default:
	}

	select {
	case <-m.ch:
		metrics.WebhookMailboxDropped.WithLabelValues(strconv.FormatInt(m.subscriptionID, 10)).Inc()
	default:
	}

	select {
	case m.ch <- ev:
	default:
		// another producer raced us for the freed slot; drop ev too
		metrics.WebhookMailboxDropped.WithLabelValues(strconv.FormatInt(m.subscriptionID, 10)).Inc()
	}
}
