package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-ess/ess-queue-ess/internal/arn"
	"github.com/go-ess/ess-queue-ess/internal/buserrors"
	"github.com/go-ess/ess-queue-ess/internal/clock"
	"github.com/go-ess/ess-queue-ess/internal/groupmutex"
)

// DeduplicationScope values (spec §3).
const (
	DedupScopeQueue        = "queue"
	DedupScopeMessageGroup = "messageGroup"
)

// ThroughputLimit values (spec §3).
const (
	ThroughputPerQueue          = "perQueue"
	ThroughputPerMessageGroupID = "perMessageGroupId"
)

const (
	defaultVisibilityTimeout = 30
	defaultMaxReceiveCount   = 10
)

// RedrivePolicy is a queue's optional dead-letter configuration (spec §3).
type RedrivePolicy struct {
	DeadLetterTargetArn string
	MaxReceiveCount     int
}

// dedupEntry is one deduplication-cache row: the id maps to the message
// actually enqueued, so a duplicate send can return its messageId.
type dedupEntry struct {
	message *Message
}

// fifoGroup is one message-group's ordered sequence plus its own
// dedup cache (used only when DeduplicationScope is "messageGroup") and
// a count of messages from this group currently in flight — nonzero
// makes the whole group ineligible for receive (spec §4.1.3).
type fifoGroup struct {
	messages      []*Message
	dedupIDs      map[string]*dedupEntry
	inFlightCount int
}

// Queue is QueueCore: the per-queue state spec §4.1 describes.
type Queue struct {
	Name    string
	Arn     string
	URL     string
	FIFO    bool

	VisibilityTimeout      int
	DeduplicationScope     string
	ThroughputLimit        string
	RedrivePolicy          *RedrivePolicy
	Attributes             map[string]string
	Tags                   map[string]string
	Policy                 string
	CreatedTimestamp       time.Time
	LastModifiedTimestamp  time.Time

	mu         sync.Mutex
	ready      []*Message
	delayed    []*Message
	inFlight   map[string]*Message // receipt handle -> message
	dedupIDs   map[string]*dedupEntry
	groups     map[string]*fifoGroup
	groupOrder []string
	notifyCh   chan struct{}

	dlqReferents map[string]struct{} // names of queues that point their RedrivePolicy at this one

	totalSent, totalDeleted, totalDLQOut int64

	bus         *Bus
	groupLocks  *groupmutex.Table
	clockSource clock.Provider
	logger      zerolog.Logger
}

// Key implements pagination.Keyed.
func (q *Queue) Key() string { return q.Name }

func newQueue(b *Bus, name string, part arn.Partition, attrs map[string]string) *Queue {
	q := &Queue{
		Name:                  name,
		Arn:                   part.Queue(name),
		URL:                   part.QueueURL(b.serviceURLBase, name),
		FIFO:                  isFIFOName(name),
		VisibilityTimeout:     defaultVisibilityTimeout,
		DeduplicationScope:    DedupScopeQueue,
		ThroughputLimit:       ThroughputPerQueue,
		Attributes:            map[string]string{},
		Tags:                  map[string]string{},
		CreatedTimestamp:      b.clockSource.Now(),
		LastModifiedTimestamp: b.clockSource.Now(),
		inFlight:              map[string]*Message{},
		dedupIDs:              map[string]*dedupEntry{},
		groups:                map[string]*fifoGroup{},
		notifyCh:              make(chan struct{}),
		dlqReferents:          map[string]struct{}{},
		bus:                   b,
		groupLocks:            groupmutex.NewTable(),
		clockSource:           b.clockSource,
		logger:                b.logger.With().Str("queue", name).Logger(),
	}
	for k, v := range attrs {
		q.Attributes[k] = v
	}
	return q
}

func isFIFOName(name string) bool {
	return len(name) > 5 && name[len(name)-5:] == ".fifo"
}

// wakeWaiters broadcasts to anyone long-polling on this queue. Caller
// must hold q.mu.
func (q *Queue) wakeWaiters() {
	close(q.notifyCh)
	q.notifyCh = make(chan struct{})
}

// ApproximateCounts returns the queue's live computed attributes (spec §3).
func (q *Queue) ApproximateCounts() (visible, notVisible, delayed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, g := range q.groups {
		visible += len(g.messages)
	}
	visible += len(q.ready)
	notVisible = len(q.inFlight)
	delayed = len(q.delayed)
	return
}

// SetRedrivePolicy validates that the target DLQ exists before attaching
// the policy (spec §3 invariant: "redrive policy's target must exist at
// the moment of policy-set").
func (q *Queue) SetRedrivePolicy(p *RedrivePolicy) error {
	if p == nil {
		q.mu.Lock()
		old := q.RedrivePolicy
		q.RedrivePolicy = nil
		q.mu.Unlock()
		if old != nil {
			q.bus.removeDLQReferent(old.DeadLetterTargetArn, q.Name)
		}
		return nil
	}
	if p.MaxReceiveCount < 1 {
		return buserrors.New(buserrors.CodeInvalidParameter, "maxReceiveCount must be >= 1")
	}
	dlqName, err := arn.Name(p.DeadLetterTargetArn)
	if err != nil {
		return err
	}
	dlq, ok := q.bus.lookupQueueByName(dlqName)
	if !ok {
		return buserrors.New(buserrors.CodeInvalidParameter, "redrive policy target queue %q does not exist", dlqName)
	}

	q.mu.Lock()
	old := q.RedrivePolicy
	q.RedrivePolicy = p
	q.mu.Unlock()

	if old != nil && old.DeadLetterTargetArn != p.DeadLetterTargetArn {
		q.bus.removeDLQReferent(old.DeadLetterTargetArn, q.Name)
	}
	dlq.addDLQReferent(q.Name)
	return nil
}

func (q *Queue) addDLQReferent(referent string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dlqReferents[referent] = struct{}{}
}

func (q *Queue) removeDLQReferentLocal(referent string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.dlqReferents, referent)
}

// IsReferencedAsDLQ reports whether any live queue still points its
// RedrivePolicy at this one (spec §3: "a queue referenced as a DLQ
// cannot be deleted while referenced").
func (q *Queue) IsReferencedAsDLQ() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dlqReferents) > 0
}

// SetTags merges the given key/value pairs into the queue's tags
// (spec §5 lock-discipline: Tags is mutable queue state like any other
// and must be guarded by q.mu, not touched bare from the wire layer).
func (q *Queue) SetTags(tags map[string]string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for k, v := range tags {
		q.Tags[k] = v
	}
}

// RemoveTags deletes the given keys from the queue's tags.
func (q *Queue) RemoveTags(keys []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, k := range keys {
		delete(q.Tags, k)
	}
}

// TagsSnapshot returns a copy of the queue's current tags, safe to read
// without racing a concurrent SetTags/RemoveTags.
func (q *Queue) TagsSnapshot() map[string]string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]string, len(q.Tags))
	for k, v := range q.Tags {
		out[k] = v
	}
	return out
}

// SetAttributes merges user-defined attributes and applies recognized
// ones (visibility timeout, redrive policy, dedup scope, throughput
// limit) to their dedicated fields.
func (q *Queue) SetAttributes(attrs map[string]string) error {
	for k, v := range attrs {
		switch k {
		case "VisibilityTimeout":
			n, err := parsePositiveInt(v)
			if err != nil {
				return buserrors.New(buserrors.CodeInvalidParameter, "invalid VisibilityTimeout %q", v)
			}
			q.mu.Lock()
			q.VisibilityTimeout = n
			q.mu.Unlock()
		case "DeduplicationScope":
			if v != DedupScopeQueue && v != DedupScopeMessageGroup {
				return buserrors.New(buserrors.CodeInvalidParameter, "invalid DeduplicationScope %q", v)
			}
			q.mu.Lock()
			q.DeduplicationScope = v
			q.mu.Unlock()
		case "FifoThroughputLimit":
			if v != ThroughputPerQueue && v != ThroughputPerMessageGroupID {
				return buserrors.New(buserrors.CodeInvalidParameter, "invalid FifoThroughputLimit %q", v)
			}
			q.mu.Lock()
			q.ThroughputLimit = v
			q.mu.Unlock()
		case "Policy":
			q.mu.Lock()
			q.Policy = v
			q.mu.Unlock()
		case "RedrivePolicy":
			rp, err := parseRedrivePolicyJSON(v)
			if err != nil {
				return err
			}
			if err := q.SetRedrivePolicy(rp); err != nil {
				return err
			}
		default:
			q.mu.Lock()
			q.Attributes[k] = v
			q.mu.Unlock()
		}
	}
	q.mu.Lock()
	q.LastModifiedTimestamp = q.clockSource.Now()
	q.mu.Unlock()
	return nil
}

func parsePositiveInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}
