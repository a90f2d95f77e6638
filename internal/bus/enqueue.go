package bus

import (
	"time"

	"github.com/go-ess/ess-queue-ess/internal/buserrors"
	"github.com/go-ess/ess-queue-ess/internal/clock"
)

// SendInput carries the fields spec §4.1.2 "send" takes from a caller.
type SendInput struct {
	Body                   string
	Attributes             map[string]MessageAttributeValue
	DelaySeconds           int
	MessageGroupID         string
	MessageDeduplicationID string
}

// Send implements spec §4.1.2's six-step enqueue algorithm.
func (q *Queue) Send(in SendInput) (msg *Message, err error) {
	defer func() { q.bus.recordUsage("sqs", "SendMessage", q.Arn, err) }()

	if err = validateSize(in.Body, in.Attributes); err != nil {
		return nil, err
	}
	if q.FIFO && in.MessageGroupID == "" {
		return nil, buserrors.New(buserrors.CodeInvalidParameter, "FIFO queues require MessageGroupId")
	}

	dedupID := in.MessageDeduplicationID
	if q.FIFO && dedupID == "" {
		dedupID = sha256Base64(in.Body)
	}

	msg = &Message{
		MessageID:  newMessageID(),
		Body:       in.Body,
		MD5OfBody:  md5Hex(in.Body),
		Attributes: in.Attributes,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	msg.SentTimestamp = q.clockSource.Now()

	if existing, dup := q.checkDedup(in.MessageGroupID, dedupID); dup {
		return existing, nil
	}

	if in.DelaySeconds > 0 && !q.FIFO {
		msg.state = stateDelayed
		msg.visibleAt = q.clockSource.Now().Add(secondsToDuration(in.DelaySeconds))
		q.delayed = append(q.delayed, msg)
		timer := q.clockSource.NewTimer(secondsToDuration(in.DelaySeconds))
		msg.timer = timer
		q.totalSent++
		go q.promoteDelayed(timer, msg)
		return msg, nil
	}

	q.place(msg, in.MessageGroupID, dedupID)
	q.totalSent++
	q.wakeWaiters()
	return msg, nil
}

// enqueueRedriven implements spec §4.1.7: the DLQ-redirect and
// move-worker redrive paths both funnel through a queue's own enqueue
// rules rather than a bypass. msg already carries the preserved
// messageId/body/md5/attributes; SentTimestamp is stamped fresh here.
func (q *Queue) enqueueRedriven(msg *Message) error {
	if q.FIFO && msg.MessageGroupID == "" {
		return buserrors.New(buserrors.CodeInvalidParameter, "FIFO dead-letter queue requires MessageGroupId on redriven message")
	}
	dedupID := msg.MessageDeduplicationID
	if q.FIFO && dedupID == "" {
		dedupID = sha256Base64(msg.Body)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.checkDedup(msg.MessageGroupID, dedupID); dup {
		return nil
	}

	msg.SentTimestamp = q.clockSource.Now()
	q.place(msg, msg.MessageGroupID, dedupID)
	q.totalSent++
	q.wakeWaiters()
	return nil
}

// place inserts msg into the ready structure appropriate to the queue
// (spec §4.1.1): the shared ready list for standard queues, or the
// message's group sequence for FIFO queues, assigning a fresh
// SequenceNumber in the latter case. Caller holds q.mu.
func (q *Queue) place(msg *Message, groupID, dedupID string) {
	msg.state = stateReady
	if q.FIFO {
		msg.MessageGroupID = groupID
		msg.MessageDeduplicationID = dedupID
		msg.SequenceNumber = q.bus.sequencer.Next()
		g := q.groupFor(groupID)
		g.messages = append(g.messages, msg)
		q.registerDedup(groupID, dedupID, msg)
		return
	}
	q.ready = append(q.ready, msg)
}

func (q *Queue) groupFor(groupID string) *fifoGroup {
	g, ok := q.groups[groupID]
	if !ok {
		g = &fifoGroup{dedupIDs: map[string]*dedupEntry{}}
		q.groups[groupID] = g
		q.groupOrder = append(q.groupOrder, groupID)
	}
	return g
}

// checkDedup implements spec §4.1.2 step 4: a queue-scoped cache by
// default, or a per-group cache for "fair" FIFO queues (dedup scope
// messageGroup with per-message-group-id throughput). Caller holds q.mu.
func (q *Queue) checkDedup(groupID, dedupID string) (*Message, bool) {
	if !q.FIFO || dedupID == "" {
		return nil, false
	}
	if q.DeduplicationScope == DedupScopeMessageGroup && q.ThroughputLimit == ThroughputPerMessageGroupID {
		if e, ok := q.groupFor(groupID).dedupIDs[dedupID]; ok {
			return e.message, true
		}
		return nil, false
	}
	if e, ok := q.dedupIDs[dedupID]; ok {
		return e.message, true
	}
	return nil, false
}

// registerDedup records a freshly enqueued message under its
// deduplication id. Caller holds q.mu.
func (q *Queue) registerDedup(groupID, dedupID string, msg *Message) {
	if !q.FIFO || dedupID == "" {
		return
	}
	if q.DeduplicationScope == DedupScopeMessageGroup && q.ThroughputLimit == ThroughputPerMessageGroupID {
		q.groupFor(groupID).dedupIDs[dedupID] = &dedupEntry{message: msg}
		return
	}
	q.dedupIDs[dedupID] = &dedupEntry{message: msg}
}

// promoteDelayed moves a delayed non-FIFO message into the ready list
// once its timer fires (spec §4.1.2 step 5).
func (q *Queue) promoteDelayed(timer clock.Timer, msg *Message) {
	<-timer.C()

	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.delayed {
		if m == msg {
			q.delayed = append(q.delayed[:i], q.delayed[i+1:]...)
			break
		}
	}
	msg.state = stateReady
	msg.timer = nil
	q.ready = append(q.ready, msg)
	q.wakeWaiters()
}

func secondsToDuration(s int) time.Duration {
	if s < 0 {
		s = 0
	}
	return time.Duration(s) * time.Second
}
