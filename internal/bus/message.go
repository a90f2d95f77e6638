package bus

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/go-ess/ess-queue-ess/internal/buserrors"
	"github.com/go-ess/ess-queue-ess/internal/clock"
)

// maxMessageSize is the 1 MiB cap on body + attribute bytes (spec §4.1.2 step 1).
const maxMessageSize = 1 << 20

// maxPublishSize is the 256 KiB cap on a single SNS publish payload (spec §4.2).
const maxPublishSize = 256 * 1024

// MessageAttributeValue is a user-supplied message attribute, following
// the SQS/SNS wire shape (DataType + one of StringValue/BinaryValue).
type MessageAttributeValue struct {
	DataType    string
	StringValue string
	BinaryValue []byte
}

func (v MessageAttributeValue) byteLen(name string) int {
	n := len(name) + len(v.DataType)
	if v.BinaryValue != nil {
		n += len(v.BinaryValue)
	} else {
		n += len(v.StringValue)
	}
	return n
}

// attributesByteLen sums the wire size of a message-attribute map, per
// spec §4.1.2 step 1.
func attributesByteLen(attrs map[string]MessageAttributeValue) int {
	total := 0
	for name, v := range attrs {
		total += v.byteLen(name)
	}
	return total
}

// state is the message's place in the state machine described in spec §3.
type state int

const (
	stateReady state = iota
	stateDelayed
	stateInFlight
)

// Message is one SQS message, carrying both user data and the system
// attributes the emulator maintains (spec §3 Message).
type Message struct {
	MessageID         string
	Body              string
	MD5OfBody         string
	Attributes        map[string]MessageAttributeValue
	MD5OfAttributes   string

	// System attributes.
	ApproximateReceiveCount          int
	SentTimestamp                    time.Time
	ApproximateFirstReceiveTimestamp time.Time
	MessageGroupID                   string
	MessageDeduplicationID           string
	SequenceNumber                   string
	DeadLetterQueueSourceArn         string

	state     state
	visibleAt time.Time   // for stateDelayed: insertion time; for stateInFlight: expiry time
	receipt   string      // current receipt handle, empty unless in flight
	timer     clock.Timer // visibility/delay timer backing the current watcher, if any
	watchDone chan struct{} // closed to cancel the in-flight watcher goroutine
}

func newMessageID() string { return uuid.New().String() }

// ReceiptHandle exposes the message's current receipt handle, empty
// unless the message is in flight.
func (m *Message) ReceiptHandle() string { return m.receipt }

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256Base64(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// validateSize enforces the 1 MiB send cap (spec §4.1.2 step 1).
func validateSize(body string, attrs map[string]MessageAttributeValue) error {
	size := len(body) + attributesByteLen(attrs)
	if size > maxMessageSize {
		return buserrors.New(buserrors.CodeMessageTooLarge, "message size %d exceeds maximum %d", size, maxMessageSize)
	}
	return nil
}

// validatePublishSize enforces the 256 KiB SNS publish cap (spec §4.2).
func validatePublishSize(message, subject string, attrs map[string]MessageAttributeValue) error {
	size := len(message) + len(subject) + attributesByteLen(attrs)
	if size > maxPublishSize {
		return buserrors.New(buserrors.CodeInvalidParameter, "publish payload %d exceeds maximum %d", size, maxPublishSize)
	}
	return nil
}

// clone produces the redriven copy of a message used both by the
// receive-pipeline DLQ path (§4.1.7) and by the move-worker (§4.3):
// messageId, body, md5 and user attributes survive; receive/first-receive/
// sent timestamps are stripped so the destination stamps its own arrival.
func (m *Message) clone() *Message {
	attrs := make(map[string]MessageAttributeValue, len(m.Attributes))
	for k, v := range m.Attributes {
		attrs[k] = v
	}
	return &Message{
		MessageID:                m.MessageID,
		Body:                     m.Body,
		MD5OfBody:                m.MD5OfBody,
		Attributes:               attrs,
		MD5OfAttributes:          m.MD5OfAttributes,
		MessageGroupID:           m.MessageGroupID,
		MessageDeduplicationID:   m.MessageDeduplicationID,
		DeadLetterQueueSourceArn: m.DeadLetterQueueSourceArn,
	}
}
