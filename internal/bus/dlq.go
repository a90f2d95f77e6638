package bus

import (
	"encoding/json"

	"github.com/go-ess/ess-queue-ess/internal/buserrors"
)

// redrivePolicyWire is the JSON shape of the RedrivePolicy queue
// attribute, e.g. {"deadLetterTargetArn":"arn:...","maxReceiveCount":3}.
type redrivePolicyWire struct {
	DeadLetterTargetArn string `json:"deadLetterTargetArn"`
	MaxReceiveCount     int    `json:"maxReceiveCount"`
}

func parseRedrivePolicyJSON(raw string) (*RedrivePolicy, error) {
	var wire redrivePolicyWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, buserrors.New(buserrors.CodeInvalidParameter, "malformed RedrivePolicy: %v", err)
	}
	if wire.DeadLetterTargetArn == "" || wire.MaxReceiveCount < 1 {
		return nil, buserrors.New(buserrors.CodeInvalidParameter, "RedrivePolicy requires deadLetterTargetArn and maxReceiveCount >= 1")
	}
	return &RedrivePolicy{DeadLetterTargetArn: wire.DeadLetterTargetArn, MaxReceiveCount: wire.MaxReceiveCount}, nil
}

// receivePipelineResult is what running one message through the receive
// pipeline produced.
type receivePipelineResult struct {
	delivered bool
	message   *Message
}

// runReceivePipeline implements spec §4.1.3's shared per-message receive
// step, used by both non-FIFO drain and FIFO group drain: redirect to the
// DLQ once the receive count has reached the threshold (§9 open question:
// the redirect happens on the *next* receive attempt, so the message is
// delivered at most N-1 times), otherwise stamp receive bookkeeping and
// hand back a receipt.
func (q *Queue) runReceivePipeline(now int64, msg *Message, visibilityTimeout int) receivePipelineResult {
	if q.RedrivePolicy != nil && msg.ApproximateReceiveCount >= q.RedrivePolicy.MaxReceiveCount {
		q.redirectToDLQ(msg)
		return receivePipelineResult{delivered: false}
	}

	msg.ApproximateReceiveCount++
	if msg.ApproximateFirstReceiveTimestamp.IsZero() {
		msg.ApproximateFirstReceiveTimestamp = q.clockSource.Now()
	}
	msg.receipt = newReceiptHandle(q.Arn, msg.MessageID, now)
	msg.state = stateInFlight
	q.inFlight[msg.receipt] = msg
	q.armVisibilityTimer(msg, visibilityTimeout)

	return receivePipelineResult{delivered: true, message: msg}
}

// redirectToDLQ implements spec §4.1.7: enqueue via the DLQ's own rules,
// stripping receive bookkeeping and stamping provenance. Caller holds the
// source queue's lock (or the source group's lock for FIFO); the DLQ is a
// different queue with its own lock, acquired inside enqueueRedriven.
func (q *Queue) redirectToDLQ(msg *Message) {
	dlqName, err := q.bus.arnName(q.RedrivePolicy.DeadLetterTargetArn)
	if err != nil {
		q.logger.Warn().Str("target", q.RedrivePolicy.DeadLetterTargetArn).Msg("redrive policy target ARN malformed")
		return
	}
	dlq, ok := q.bus.lookupQueueByName(dlqName)
	if !ok {
		q.logger.Warn().Str("dlq", dlqName).Msg("dead-letter queue missing at redirect time")
		return
	}

	redriven := msg.clone()
	redriven.DeadLetterQueueSourceArn = q.Arn

	q.totalDLQOut++
	if err := dlq.enqueueRedriven(redriven); err != nil {
		q.logger.Warn().Err(err).Str("dlq", dlqName).Msg("failed to enqueue message into dead-letter queue")
	}
}
