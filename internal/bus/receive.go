package bus

import "context"

// ReceiveInput carries spec §4.1.3's receive parameters.
type ReceiveInput struct {
	MaxNumberOfMessages int
	VisibilityTimeout   *int // nil means "use the queue default"
	WaitTimeSeconds     int

	// MessageSystemAttributeNames restricts which system attributes the
	// caller wants back (spec §4.1.3); empty means "all of them", and
	// "All" is also accepted as an explicit wildcard. The bus itself
	// always computes every attribute regardless of this filter — it is
	// the wire layer's job to apply it when serializing a message, since
	// the filter is a presentation concern, not a delivery one.
	MessageSystemAttributeNames []string
}

// Receive implements spec §4.1.3: non-blocking drain first, then an
// optional long-poll wait on the clock, cancellable via ctx.
func (q *Queue) Receive(ctx context.Context, in ReceiveInput) []*Message {
	defer func() { q.bus.recordUsage("sqs", "ReceiveMessage", q.Arn, nil) }()

	max := in.MaxNumberOfMessages
	if max < 1 {
		max = 1
	}
	vt := q.VisibilityTimeout
	if in.VisibilityTimeout != nil && *in.VisibilityTimeout >= 0 {
		vt = *in.VisibilityTimeout
	}

	drain := func() []*Message {
		now := q.clockSource.Now().Unix()
		if q.FIFO {
			return q.drainFIFO(max, vt, now)
		}
		return q.drainNonFIFO(max, vt, now)
	}

	if delivered := drain(); len(delivered) > 0 || in.WaitTimeSeconds <= 0 {
		return delivered
	}

	deadline := q.clockSource.NewTimer(secondsToDuration(in.WaitTimeSeconds))
	defer deadline.Stop()

	for {
		q.mu.Lock()
		notify := q.notifyCh
		q.mu.Unlock()

		select {
		case <-notify:
			if delivered := drain(); len(delivered) > 0 {
				return delivered
			}
		case <-deadline.C():
			return drain()
		case <-ctx.Done():
			return nil
		}
	}
}

// drainNonFIFO implements the standard-queue half of spec §4.1.3.
func (q *Queue) drainNonFIFO(max, visibilityTimeout int, now int64) []*Message {
	var delivered []*Message
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(delivered) < max && len(q.ready) > 0 {
		msg := q.ready[0]
		q.ready = q.ready[1:]
		if res := q.runReceivePipeline(now, msg, visibilityTimeout); res.delivered {
			delivered = append(delivered, res.message)
		}
	}
	return delivered
}

// drainFIFO implements the FIFO half of spec §4.1.3: each group is
// visited under its own advisory lock, skipped entirely if it already
// has an in-flight message, and drained in enqueue order.
func (q *Queue) drainFIFO(max, visibilityTimeout int, now int64) []*Message {
	q.mu.Lock()
	order := append([]string(nil), q.groupOrder...)
	q.mu.Unlock()

	var delivered []*Message
	for _, groupID := range order {
		if len(delivered) >= max {
			break
		}
		q.groupLocks.With(groupID, func() {
			delivered = append(delivered, q.drainOneFIFOGroup(groupID, max-len(delivered), visibilityTimeout, now)...)
		})
	}
	return delivered
}

func (q *Queue) drainOneFIFOGroup(groupID string, max, visibilityTimeout int, now int64) []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	g, ok := q.groups[groupID]
	if !ok || g.inFlightCount > 0 {
		return nil
	}

	var delivered []*Message
	for len(delivered) < max && len(g.messages) > 0 {
		msg := g.messages[0]
		g.messages = g.messages[1:]
		res := q.runReceivePipeline(now, msg, visibilityTimeout)
		if res.delivered {
			g.inFlightCount++
			delivered = append(delivered, res.message)
		}
	}
	return delivered
}
