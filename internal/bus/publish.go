package bus

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/go-ess/ess-queue-ess/internal/buserrors"
	"github.com/go-ess/ess-queue-ess/internal/filter"
)

// PublishInput carries the fields spec §4.2 step 1-5 needs from a
// Publish or PublishBatch entry.
type PublishInput struct {
	Message                string
	Subject                string
	Attributes             map[string]MessageAttributeValue
	MessageGroupID         string
	MessageDeduplicationID string
}

// PublishResult is what a successful publish hands back to the caller.
type PublishResult struct {
	MessageID string
}

// notificationEnvelope is the JSON shape materialized for non-raw
// delivery (spec §4.2 step 3).
type notificationEnvelope struct {
	Type              string                    `json:"Type"`
	MessageID         string                    `json:"MessageId"`
	TopicArn          string                    `json:"TopicArn"`
	Subject           string                    `json:"Subject,omitempty"`
	Message           string                    `json:"Message"`
	Timestamp         string                    `json:"Timestamp"`
	SignatureVersion  string                    `json:"SignatureVersion"`
	Signature         string                    `json:"Signature"`
	SigningCertURL    string                    `json:"SigningCertURL"`
	UnsubscribeURL    string                    `json:"UnsubscribeURL"`
	MessageAttributes map[string]envelopeAttr   `json:"MessageAttributes,omitempty"`
}

type envelopeAttr struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// Publish implements spec §4.2: evaluate every plan entry's filter
// policy, materialize raw or envelope delivery, and deliver through the
// destination queue's own send path. A plan entry whose queue has since
// disappeared is skipped, not failed.
func (t *Topic) Publish(in PublishInput) (result PublishResult, err error) {
	defer func() { t.bus.recordUsage("sns", "Publish", t.Arn, err) }()

	if err = validatePublishSize(in.Message, in.Subject, in.Attributes); err != nil {
		return PublishResult{}, err
	}

	messageID := uuid.New().String()
	plan := *t.plan.Load()

	attrs := toFilterAttributes(in.Attributes)
	for _, entry := range plan {
		if entry.sub.matcher != nil && !entry.sub.matcher.Match(attrs) {
			continue
		}
		t.deliverOne(entry, messageID, in)
	}

	return PublishResult{MessageID: messageID}, nil
}

// deliverOne materializes and sends one plan entry's copy of a publish,
// per spec §4.2 steps 2-5. Delivery errors (size, dedup) are logged and
// swallowed: a single misconfigured destination must not fail the rest
// of the fan-out.
func (t *Topic) deliverOne(entry planEntry, messageID string, in PublishInput) {
	queue, ok := t.bus.lookupQueueByName(entry.queue.Name)
	if !ok {
		return
	}

	var body string
	var sqsAttrs map[string]MessageAttributeValue

	if entry.sub.Raw {
		body = in.Message
		sqsAttrs = in.Attributes
	} else {
		body = t.buildEnvelope(messageID, in)
		sqsAttrs = map[string]MessageAttributeValue{
			"TopicArn": {DataType: "String", StringValue: t.Arn},
		}
	}

	send := SendInput{
		Body:                   body,
		Attributes:             sqsAttrs,
		MessageGroupID:         in.MessageGroupID,
		MessageDeduplicationID: in.MessageDeduplicationID,
	}
	if _, err := queue.Send(send); err != nil {
		t.bus.logger.Warn().Err(err).Str("topic", t.Arn).Str("queue", queue.Name).Msg("publish fan-out delivery failed")
	}
}

func (t *Topic) buildEnvelope(messageID string, in PublishInput) string {
	env := notificationEnvelope{
		Type:             "Notification",
		MessageID:        messageID,
		TopicArn:         t.Arn,
		Subject:          in.Subject,
		Message:          in.Message,
		Timestamp:        t.bus.clockSource.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		SignatureVersion: "1",
		Signature:        "EXAMPLE",
		SigningCertURL:   "EXAMPLE",
		UnsubscribeURL:   "EXAMPLE",
	}
	if len(in.Attributes) > 0 {
		env.MessageAttributes = make(map[string]envelopeAttr, len(in.Attributes))
		for k, v := range in.Attributes {
			env.MessageAttributes[k] = envelopeAttr{Type: v.DataType, Value: v.StringValue}
		}
	}
	raw, _ := json.Marshal(env)
	return string(raw)
}

// PublishBatchEntry is one entry of a PublishBatch request.
type PublishBatchEntry struct {
	ID    string
	Input PublishInput
}

// PublishBatchResult is one entry's outcome.
type PublishBatchResult struct {
	ID        string
	MessageID string
	Err       error
}

// PublishBatch implements spec §4.2's PublishBatch: each entry attempted
// independently, a batch-total size check applied up front, partial
// failure reported per entry rather than aborting.
func (t *Topic) PublishBatch(entries []PublishBatchEntry) (results []PublishBatchResult, err error) {
	defer func() { t.bus.recordUsage("sns", "PublishBatch", t.Arn, err) }()

	total := 0
	for _, e := range entries {
		total += len(e.Input.Message) + len(e.Input.Subject) + attributesByteLen(e.Input.Attributes)
	}
	if total > maxPublishSize {
		return nil, buserrors.New(buserrors.CodeBatchRequestTooLong, "publish batch total size %d exceeds maximum %d", total, maxPublishSize)
	}

	results = make([]PublishBatchResult, 0, len(entries))
	for _, e := range entries {
		res, err := t.Publish(e.Input)
		results = append(results, PublishBatchResult{ID: e.ID, MessageID: res.MessageID, Err: err})
	}
	return results, nil
}

func toFilterAttributes(attrs map[string]MessageAttributeValue) map[string]filter.Attribute {
	out := make(map[string]filter.Attribute, len(attrs))
	for k, v := range attrs {
		value := v.StringValue
		if v.BinaryValue != nil {
			value = string(v.BinaryValue)
		}
		out[k] = filter.Attribute{DataType: v.DataType, Value: value}
	}
	return out
}
