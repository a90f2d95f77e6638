package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/go-ess/ess-queue-ess/internal/arn"
	"github.com/go-ess/ess-queue-ess/internal/buserrors"
	"github.com/go-ess/ess-queue-ess/internal/clock"
)

// MoveTaskStatus is one of the states a move task's lifecycle passes
// through (spec §4.3).
type MoveTaskStatus string

const (
	MoveTaskRunning    MoveTaskStatus = "RUNNING"
	MoveTaskCancelling MoveTaskStatus = "CANCELLING"
	MoveTaskCancelled  MoveTaskStatus = "CANCELLED"
	MoveTaskCompleted  MoveTaskStatus = "COMPLETED"
	MoveTaskFailed     MoveTaskStatus = "FAILED"
)

// MoveTask redrives messages out of a DLQ at a bounded rate, one tick
// at a time, per spec §4.3.
type MoveTask struct {
	TaskHandle           string
	SourceArn            string
	DestinationArn       string // empty: resolve per-message from DeadLetterQueueSourceArn
	MaxNumberOfMessagesPerSecond int
	StartedTimestamp     time.Time

	status      atomic.Value // MoveTaskStatus
	approxMoved atomic.Int64
	approxToMove atomic.Int64

	mu    sync.Mutex
	timer clock.Timer
	done  chan struct{}
}

func (t *MoveTask) Status() MoveTaskStatus {
	if v, ok := t.status.Load().(MoveTaskStatus); ok {
		return v
	}
	return MoveTaskRunning
}

func (t *MoveTask) setStatus(s MoveTaskStatus) { t.status.Store(s) }

// ApproximateMessagesMoved and ApproximateMessagesToMove report the
// task's live counters (spec §4.4 "record... on both success and
// failure" generalized to move-task progress reporting).
func (t *MoveTask) ApproximateMessagesMoved() int64  { return t.approxMoved.Load() }
func (t *MoveTask) ApproximateMessagesToMove() int64 { return t.approxToMove.Load() }

// Key implements pagination.Keyed.
func (t *MoveTask) Key() string { return t.TaskHandle }

// StartMessageMoveTask implements spec §4.3's start: starting a task
// when one is already RUNNING for the same source fails.
func (b *Bus) StartMessageMoveTask(sourceArn, destinationArn string, rateLimitPerSecond int) (task *MoveTask, err error) {
	defer func() { b.recordUsage("sqs", "StartMessageMoveTask", sourceArn, err) }()

	sourceName, err := arnNameOrErr(sourceArn)
	if err != nil {
		return nil, err
	}
	source, ok := b.lookupQueueByName(sourceName)
	if !ok {
		return nil, buserrors.New(buserrors.CodeInvalidParameter, "move task source queue %q does not exist", sourceName)
	}
	if !source.IsReferencedAsDLQ() {
		return nil, buserrors.New(buserrors.CodeInvalidParameter, "move task source queue %q is not a dead-letter target of any queue", sourceName)
	}
	if rateLimitPerSecond <= 0 {
		rateLimitPerSecond = 1000
	}

	b.mu.Lock()
	for _, existing := range b.moveTasks {
		if existing.SourceArn == sourceArn && existing.Status() == MoveTaskRunning {
			b.mu.Unlock()
			return nil, buserrors.New(buserrors.CodeUnsupportedOperation, "a move task is already running for source %q", sourceArn)
		}
	}

	task = &MoveTask{
		TaskHandle:                   uuid.New().String(),
		SourceArn:                    sourceArn,
		DestinationArn:               destinationArn,
		MaxNumberOfMessagesPerSecond: rateLimitPerSecond,
		StartedTimestamp:             b.clockSource.Now(),
		done:                         make(chan struct{}),
	}
	task.setStatus(MoveTaskRunning)
	visible, _, _ := source.ApproximateCounts()
	task.approxToMove.Store(int64(visible))
	b.moveTasks[task.TaskHandle] = task
	b.mu.Unlock()

	b.runMoveWorker(task, source)
	return task, nil
}

// runMoveWorker drives task's per-second tick against the bus clock
// until it completes, is cancelled, or its source drains (spec §4.3).
func (b *Bus) runMoveWorker(task *MoveTask, source *Queue) {
	timer := b.clockSource.NewTimer(b.moveWorkerTick)
	task.mu.Lock()
	task.timer = timer
	task.mu.Unlock()

	go func() {
		for {
			select {
			case <-task.done:
				return
			case <-timer.C():
				if task.Status() != MoveTaskRunning {
					return
				}
				moved, drained := b.moveOneTick(task, source)
				task.approxMoved.Add(int64(moved))
				remaining := task.approxToMove.Add(int64(-moved))
				if remaining <= 0 || drained {
					task.setStatus(MoveTaskCompleted)
					task.mu.Lock()
					timer.Stop()
					task.mu.Unlock()
					return
				}
				timer = b.clockSource.NewTimer(b.moveWorkerTick)
				task.mu.Lock()
				task.timer = timer
				task.mu.Unlock()
			}
		}
	}()
}

// moveOneTick moves up to the task's per-second rate limit from source,
// fanning the per-message redirect work out across an errgroup since
// resolving each message's destination is an independent lookup (spec
// §4.3, §9 domain-stack note on bounded concurrent fan-out).
func (b *Bus) moveOneTick(task *MoveTask, source *Queue) (moved int, drained bool) {
	var batch []*Message
	for i := 0; i < task.MaxNumberOfMessagesPerSecond; i++ {
		source.mu.Lock()
		if len(source.ready) == 0 {
			source.mu.Unlock()
			break
		}
		msg := source.ready[0]
		source.ready = source.ready[1:]
		source.mu.Unlock()
		batch = append(batch, msg)
	}
	if len(batch) == 0 {
		return 0, true
	}

	var g errgroup.Group
	var movedCount atomic.Int64
	for _, msg := range batch {
		msg := msg
		g.Go(func() error {
			if b.moveOneMessage(task, msg) {
				movedCount.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(movedCount.Load()), false
}

// moveOneMessage implements spec §4.3's per-message redirect: clone,
// resolve destination (explicit or from DeadLetterQueueSourceArn), drop
// silently if the destination no longer exists.
func (b *Bus) moveOneMessage(task *MoveTask, msg *Message) bool {
	destArn := task.DestinationArn
	if destArn == "" {
		destArn = msg.DeadLetterQueueSourceArn
	}
	if destArn == "" {
		return false
	}
	destName, err := arnNameOrErr(destArn)
	if err != nil {
		return false
	}
	dest, ok := b.lookupQueueByName(destName)
	if !ok {
		return false
	}

	redriven := msg.clone()
	if err := dest.enqueueRedriven(redriven); err != nil {
		return false
	}
	return true
}

// CancelMessageMoveTask implements spec §4.3's cancelMoveTask: RUNNING
// transitions to CANCELLED and the timer is disposed.
func (b *Bus) CancelMessageMoveTask(taskHandle string) (err error) {
	defer func() { b.recordUsage("sqs", "CancelMessageMoveTask", taskHandle, err) }()

	b.mu.RLock()
	task, ok := b.moveTasks[taskHandle]
	b.mu.RUnlock()
	if !ok {
		return buserrors.New(buserrors.CodeMoveTaskNotFound, "move task %q does not exist", taskHandle)
	}
	if task.Status() != MoveTaskRunning {
		return buserrors.New(buserrors.CodeUnsupportedOperation, "move task %q is not running", taskHandle)
	}
	task.setStatus(MoveTaskCancelling)
	close(task.done)
	task.mu.Lock()
	if task.timer != nil {
		task.timer.Stop()
	}
	task.mu.Unlock()
	task.setStatus(MoveTaskCancelled)
	return nil
}

// ListMessageMoveTasks returns every move task known to the bus,
// optionally filtered to a single source ARN.
func (b *Bus) ListMessageMoveTasks(sourceArn string) []*MoveTask {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*MoveTask
	for _, t := range b.moveTasks {
		if sourceArn == "" || t.SourceArn == sourceArn {
			out = append(out, t)
		}
	}
	return out
}

func arnNameOrErr(a string) (string, error) {
	return arn.Name(a)
}
