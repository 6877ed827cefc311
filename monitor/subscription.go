package monitor

// Subscription receives alert events until Unsubscribe or Monitor.Close.
type Subscription struct {
	// C delivers events. It is closed when the subscription ends.
	C <-chan AlertEvent

	ch      chan AlertEvent
	m       *Monitor
	done    bool
	dropped int64
}

// Subscribe registers a new subscriber. buffer <= 0 uses
// Config.SubscriberBuffer. Subscribing to a closed monitor returns a
// subscription whose channel is already closed.
func (m *Monitor) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = m.config.SubscriberBuffer
	}
	ch := make(chan AlertEvent, buffer)
	sub := &Subscription{C: ch, ch: ch, m: m}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		sub.closeLocked()
		return sub
	}
	m.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe ends the subscription and closes C. It is idempotent.
func (s *Subscription) Unsubscribe() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	delete(s.m.subs, s)
	s.closeLocked()
}

// Dropped returns how many events this subscriber missed because its
// buffer was full.
func (s *Subscription) Dropped() int64 {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.dropped
}

func (s *Subscription) closeLocked() {
	if !s.done {
		s.done = true
		close(s.ch)
	}
}

// publishLocked delivers ev to every subscriber without blocking.
func (m *Monitor) publishLocked(ev AlertEvent) {
	for sub := range m.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			m.dropped.Add(1)
		}
	}
}
