// Package bus is the in-process message bus: queues, topics,
// subscriptions and message-move tasks, and the operations spec §4
// defines over them. It has no knowledge of any wire protocol; the
// wire/sqsapi and wire/snsapi packages translate HTTP requests into
// calls against a *Bus.
package bus

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-ess/ess-queue-ess/internal/arn"
	"github.com/go-ess/ess-queue-ess/internal/buserrors"
	"github.com/go-ess/ess-queue-ess/internal/clock"
	"github.com/go-ess/ess-queue-ess/internal/usage"
)

// Bus owns every queue and topic in the emulator, generalizing the
// teacher's QueueManager into a single root that also tracks topics,
// subscriptions and move tasks (spec §4).
type Bus struct {
	mu         sync.RWMutex
	queues     map[string]*Queue
	topics     map[string]*Topic
	moveTasks  map[string]*MoveTask

	sequencer      *sequencer
	clockSource    clock.Provider
	logger         zerolog.Logger
	serviceURLBase string
	arnPartition   arn.Partition
	usageTracker   *usage.Tracker
	moveWorkerTick time.Duration
}

// Config bundles the knobs a Bus needs at construction (spec §7's
// config-driven startup, generalized from the teacher's config.go).
type Config struct {
	Clock          clock.Provider
	Logger         zerolog.Logger
	ServiceURLBase string
	Partition      arn.Partition

	// MoveWorkerTick is the polling interval each running move task
	// uses to drain its per-second batch. Defaults to one second.
	MoveWorkerTick time.Duration
}

// New constructs an empty Bus.
func New(cfg Config) *Bus {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.MoveWorkerTick <= 0 {
		cfg.MoveWorkerTick = time.Second
	}
	return &Bus{
		queues:         map[string]*Queue{},
		topics:         map[string]*Topic{},
		moveTasks:      map[string]*MoveTask{},
		sequencer:      newSequencer(cfg.Clock.Now()),
		clockSource:    cfg.Clock,
		logger:         cfg.Logger,
		serviceURLBase: cfg.ServiceURLBase,
		arnPartition:   cfg.Partition,
		usageTracker:   usage.New(),
		moveWorkerTick: cfg.MoveWorkerTick,
	}
}

// Usage exposes the bus's IAM usage tracker for the admin surface.
func (b *Bus) Usage() *usage.Tracker { return b.usageTracker }

// recordUsage implements spec §4.4's "record a usage event via the
// tracker on both success and failure" for every BusFacade entry point.
func (b *Bus) recordUsage(service, action, resource string, err error) {
	b.usageTracker.Record(usage.Event{Service: service, Action: action, Resource: resource, Succeeded: err == nil})
}

// CreateQueue implements spec §4.1.1. Re-creating a queue with identical
// attributes is idempotent; re-creating with different attributes is
// QueueNameExists, mirroring the teacher's "return existing" shortcut
// generalized to spec's stricter equality check.
func (b *Bus) CreateQueue(name string, attrs map[string]string) (q *Queue, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() { b.recordUsage("sqs", "CreateQueue", b.arnPartition.Queue(name), err) }()

	if existing, ok := b.queues[name]; ok {
		if !sameAttributes(existing.Attributes, attrs) {
			return nil, buserrors.New(buserrors.CodeQueueNameExists, "queue %q already exists with different attributes", name)
		}
		return existing, nil
	}

	q = newQueue(b, name, b.arnPartition, attrs)
	if err = q.SetAttributes(attrs); err != nil {
		return nil, err
	}
	b.queues[name] = q
	return q, nil
}

func sameAttributes(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// GetQueue looks up a queue by name.
func (b *Bus) GetQueue(name string) (*Queue, error) {
	q, ok := b.lookupQueueByName(name)
	if !ok {
		return nil, buserrors.New(buserrors.CodeQueueDoesNotExist, "queue %q does not exist", name)
	}
	return q, nil
}

// GetQueueByURL resolves a queue from the URL the client addressed it
// with, per the teacher's URL-keyed routing style.
func (b *Bus) GetQueueByURL(queueURL string) (*Queue, error) {
	name, err := arn.NameFromQueueURL(queueURL)
	if err != nil {
		return nil, err
	}
	return b.GetQueue(name)
}

func (b *Bus) lookupQueueByName(name string) (*Queue, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.queues[name]
	return q, ok
}

// arnName last-colon-splits an ARN, wrapping internal/arn.Name so
// callers in this package have a single entry point for the operation.
func (b *Bus) arnName(a string) (string, error) {
	return arn.Name(a)
}

// ParseArnName exposes internal/arn.Name to the wire layer so handlers
// don't need their own import of internal/arn for this one operation.
func ParseArnName(a string) (string, error) {
	return arn.Name(a)
}

// TopicArnFromSubscriptionArn strips a subscription ARN's trailing
// ":<uuid>" segment to recover its owning topic's ARN.
func TopicArnFromSubscriptionArn(subscriptionArn string) (string, error) {
	idx := strings.LastIndex(subscriptionArn, ":")
	if idx < 0 {
		return "", buserrors.New(buserrors.CodeInvalidParameter, "malformed subscription ARN %q", subscriptionArn)
	}
	return subscriptionArn[:idx], nil
}

// DeleteQueue implements spec §4.1.1's delete, refusing while the queue
// is still referenced as a DLQ target (spec §3 invariant).
func (b *Bus) DeleteQueue(name string) (err error) {
	defer func() { b.recordUsage("sqs", "DeleteQueue", b.arnPartition.Queue(name), err) }()

	b.mu.Lock()
	q, ok := b.queues[name]
	if !ok {
		b.mu.Unlock()
		return buserrors.New(buserrors.CodeQueueDoesNotExist, "queue %q does not exist", name)
	}
	if q.IsReferencedAsDLQ() {
		b.mu.Unlock()
		return buserrors.New(buserrors.CodeInvalidParameter, "queue %q is referenced as a dead-letter target and cannot be deleted", name)
	}
	delete(b.queues, name)
	b.mu.Unlock()

	q.mu.Lock()
	redrive := q.RedrivePolicy
	q.mu.Unlock()
	if redrive != nil {
		b.removeDLQReferent(redrive.DeadLetterTargetArn, q.Name)
	}

	q.Purge()
	return nil
}

// ListQueues returns every queue whose name has the given prefix, in no
// particular order; callers sort by name via pagination.Page.
func (b *Bus) ListQueues(prefix string) []*Queue {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Queue
	for name, q := range b.queues {
		if prefix == "" || hasPrefix(name, prefix) {
			out = append(out, q)
		}
	}
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// removeDLQReferent clears name from the referent set of whatever queue
// targetArn names, tolerating a target that no longer exists.
func (b *Bus) removeDLQReferent(targetArn, referentName string) {
	targetName, err := arn.Name(targetArn)
	if err != nil {
		return
	}
	if dlq, ok := b.lookupQueueByName(targetName); ok {
		dlq.removeDLQReferentLocal(referentName)
	}
}

// Now returns the bus's clock-sourced current time, used by wire
// handlers that need to stamp responses without reaching into a queue.
func (b *Bus) Now() time.Time { return b.clockSource.Now() }

// Clock exposes the bus's time source, e.g. for the move-worker.
func (b *Bus) Clock() clock.Provider { return b.clockSource }

// Logger exposes the bus's base logger.
func (b *Bus) Logger() zerolog.Logger { return b.logger }

// Partition exposes the bus's ARN partition, e.g. for the wire layer to
// build resource URLs consistently with queue/topic construction.
func (b *Bus) Partition() arn.Partition { return b.arnPartition }
