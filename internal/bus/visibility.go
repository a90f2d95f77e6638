package bus

import (
	"github.com/go-ess/ess-queue-ess/internal/buserrors"
)

// armVisibilityTimer (re)arms the visibility timer for an in-flight
// message, canceling any previously running watcher first so repeated
// changeMessageVisibility calls never leak a goroutine blocked on a
// stopped timer (spec §4.1.5). Caller holds q.mu.
func (q *Queue) armVisibilityTimer(msg *Message, seconds int) {
	q.cancelWatcher(msg)

	done := make(chan struct{})
	msg.watchDone = done
	timer := q.clockSource.NewTimer(secondsToDuration(seconds))
	msg.timer = timer
	handle := msg.receipt

	go func() {
		select {
		case <-timer.C():
			q.expireVisibility(handle)
		case <-done:
			timer.Stop()
		}
	}()
}

// cancelWatcher stops msg's current watcher goroutine, if any. Caller
// holds q.mu.
func (q *Queue) cancelWatcher(msg *Message) {
	if msg.watchDone != nil {
		close(msg.watchDone)
		msg.watchDone = nil
	}
}

// expireVisibility is the timer-fire path of the in-flight state machine
// (spec §4.1.4): only the first of timer-fire/delete/changeVisibility(0)
// to find the handle present acts; the others see it already removed.
func (q *Queue) expireVisibility(handle string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.inFlight[handle]
	if !ok {
		return
	}
	delete(q.inFlight, handle)
	msg.watchDone = nil
	q.reenqueueAfterInFlight(msg)
}

// reenqueueAfterInFlight places msg back into its ready structure: the
// tail of the shared ready list for standard queues (no ordering is
// promised between non-FIFO messages), or the head of its group's
// sequence for FIFO queues, per spec §4.1.4. Caller holds q.mu.
func (q *Queue) reenqueueAfterInFlight(msg *Message) {
	msg.receipt = ""
	msg.timer = nil
	msg.state = stateReady

	if q.FIFO {
		g := q.groupFor(msg.MessageGroupID)
		g.messages = append([]*Message{msg}, g.messages...)
		g.inFlightCount--
		if g.inFlightCount < 0 {
			g.inFlightCount = 0
		}
	} else {
		q.ready = append(q.ready, msg)
	}
	q.wakeWaiters()
}

// Delete implements spec §4.1.4's delete transition.
func (q *Queue) Delete(receiptHandle string) (err error) {
	defer func() { q.bus.recordUsage("sqs", "DeleteMessage", q.Arn, err) }()

	rh, err := decodeReceiptHandle(receiptHandle)
	if err != nil {
		return err
	}
	if rh.queueArn != q.Arn {
		return buserrors.New(buserrors.CodeReceiptHandleInvalid, "receipt handle does not belong to this queue")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.inFlight[receiptHandle]
	if !ok {
		return buserrors.New(buserrors.CodeReceiptHandleInvalid, "receipt handle not found or expired")
	}
	delete(q.inFlight, receiptHandle)
	q.cancelWatcher(msg)
	q.totalDeleted++

	if q.FIFO {
		g, ok := q.groups[msg.MessageGroupID]
		if ok {
			g.inFlightCount--
			if g.inFlightCount < 0 {
				g.inFlightCount = 0
			}
			if g.inFlightCount == 0 && len(g.messages) == 0 {
				delete(q.groups, msg.MessageGroupID)
				q.groupOrder = removeString(q.groupOrder, msg.MessageGroupID)
			}
		}
	}
	return nil
}

// ChangeVisibility implements spec §4.1.4/§4.1.5: t=0 is an immediate
// re-enqueue that invalidates the handle; t>0 reschedules the timer.
func (q *Queue) ChangeVisibility(receiptHandle string, seconds int) (err error) {
	defer func() { q.bus.recordUsage("sqs", "ChangeMessageVisibility", q.Arn, err) }()

	rh, err := decodeReceiptHandle(receiptHandle)
	if err != nil {
		return err
	}
	if rh.queueArn != q.Arn {
		return buserrors.New(buserrors.CodeReceiptHandleInvalid, "receipt handle does not belong to this queue")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.inFlight[receiptHandle]
	if !ok {
		return buserrors.New(buserrors.CodeReceiptHandleInvalid, "receipt handle not found or expired")
	}

	if seconds <= 0 {
		delete(q.inFlight, receiptHandle)
		q.cancelWatcher(msg)
		q.reenqueueAfterInFlight(msg)
		return nil
	}

	q.armVisibilityTimer(msg, seconds)
	return nil
}

// Purge implements spec §4.1.6: drop every ready, delayed and in-flight
// message and clear the dedup/group state, in bounded steps.
func (q *Queue) Purge() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, msg := range q.inFlight {
		q.cancelWatcher(msg)
	}
	for _, msg := range q.delayed {
		if msg.timer != nil {
			msg.timer.Stop()
		}
	}

	q.ready = nil
	q.delayed = nil
	q.inFlight = map[string]*Message{}
	q.dedupIDs = map[string]*dedupEntry{}
	q.groups = map[string]*fifoGroup{}
	q.groupOrder = nil
	q.wakeWaiters()
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
