package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMoveTaskDrainsSourceIntoDestination(t *testing.T) {
	b, fake := testBus(t)
	dlq, err := b.CreateQueue("orders-dlq", nil)
	require.NoError(t, err)
	dest, err := b.CreateQueue("orders", nil)
	require.NoError(t, err)
	require.NoError(t, dest.SetRedrivePolicy(&RedrivePolicy{DeadLetterTargetArn: dlq.Arn, MaxReceiveCount: 3}))

	for i := 0; i < 3; i++ {
		_, err := dlq.Send(SendInput{Body: "redrive-me"})
		require.NoError(t, err)
	}

	task, err := b.StartMessageMoveTask(dlq.Arn, dest.Arn, 10)
	require.NoError(t, err)
	require.Equal(t, MoveTaskRunning, task.Status())
	require.EqualValues(t, 3, task.ApproximateMessagesToMove())

	fake.Advance(time.Second)
	waitForCondition(t, func() bool { return task.Status() == MoveTaskCompleted })

	require.EqualValues(t, 3, task.ApproximateMessagesMoved())
	visible, _, _ := dest.ApproximateCounts()
	require.Equal(t, 3, visible)
	srcVisible, _, _ := dlq.ApproximateCounts()
	require.Zero(t, srcVisible)
}

func TestMoveTaskRejectsDuplicateRunningSource(t *testing.T) {
	b, _ := testBus(t)
	dlq, err := b.CreateQueue("orders-dlq", nil)
	require.NoError(t, err)
	dest, err := b.CreateQueue("orders", nil)
	require.NoError(t, err)
	require.NoError(t, dest.SetRedrivePolicy(&RedrivePolicy{DeadLetterTargetArn: dlq.Arn, MaxReceiveCount: 3}))

	_, err = dlq.Send(SendInput{Body: "one"})
	require.NoError(t, err)

	_, err = b.StartMessageMoveTask(dlq.Arn, dest.Arn, 1)
	require.NoError(t, err)

	_, err = b.StartMessageMoveTask(dlq.Arn, dest.Arn, 1)
	require.Error(t, err)
}

func TestMoveTaskRejectsNonDLQSource(t *testing.T) {
	b, _ := testBus(t)
	notDLQ, err := b.CreateQueue("orders", nil)
	require.NoError(t, err)
	dest, err := b.CreateQueue("orders-archive", nil)
	require.NoError(t, err)

	_, err = notDLQ.Send(SendInput{Body: "one"})
	require.NoError(t, err)

	_, err = b.StartMessageMoveTask(notDLQ.Arn, dest.Arn, 1)
	require.Error(t, err)
}

func TestMoveTaskCancelStopsFurtherProgress(t *testing.T) {
	b, fake := testBus(t)
	dlq, err := b.CreateQueue("orders-dlq", nil)
	require.NoError(t, err)
	dest, err := b.CreateQueue("orders", nil)
	require.NoError(t, err)
	require.NoError(t, dest.SetRedrivePolicy(&RedrivePolicy{DeadLetterTargetArn: dlq.Arn, MaxReceiveCount: 3}))

	for i := 0; i < 5; i++ {
		_, err := dlq.Send(SendInput{Body: "redrive-me"})
		require.NoError(t, err)
	}

	task, err := b.StartMessageMoveTask(dlq.Arn, dest.Arn, 1)
	require.NoError(t, err)

	fake.Advance(time.Second)
	waitForCondition(t, func() bool { return task.ApproximateMessagesMoved() >= 1 })

	require.NoError(t, b.CancelMessageMoveTask(task.TaskHandle))
	require.Equal(t, MoveTaskCancelled, task.Status())

	moved := task.ApproximateMessagesMoved()
	fake.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, moved, task.ApproximateMessagesMoved())
}
