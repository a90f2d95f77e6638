package bus

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-ess/ess-queue-ess/internal/arn"
	"github.com/go-ess/ess-queue-ess/internal/buserrors"
	"github.com/go-ess/ess-queue-ess/internal/clock"
)

func testBus(t *testing.T) (*Bus, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := New(Config{
		Clock:          fake,
		Logger:         zerolog.Nop(),
		ServiceURLBase: "https://sqs.us-east-1.amazonaws.com",
		Partition:      arn.Partition{Partition: "aws", Region: "us-east-1", Account: "000000000000"},
	})
	return b, fake
}

func TestCreateQueueIdempotentOnSameAttributes(t *testing.T) {
	b, _ := testBus(t)

	q1, err := b.CreateQueue("orders", map[string]string{"VisibilityTimeout": "30"})
	require.NoError(t, err)

	q2, err := b.CreateQueue("orders", map[string]string{"VisibilityTimeout": "30"})
	require.NoError(t, err)
	require.Same(t, q1, q2)
}

func TestCreateQueueConflictsOnDifferentAttributes(t *testing.T) {
	b, _ := testBus(t)

	_, err := b.CreateQueue("orders", map[string]string{"VisibilityTimeout": "30"})
	require.NoError(t, err)

	_, err = b.CreateQueue("orders", map[string]string{"VisibilityTimeout": "60"})
	require.Error(t, err)
	require.True(t, buserrors.Is(err, buserrors.CodeQueueNameExists))
}

func TestSendReceiveDeleteRoundTrip(t *testing.T) {
	b, _ := testBus(t)
	q, err := b.CreateQueue("orders", nil)
	require.NoError(t, err)

	sent, err := q.Send(SendInput{Body: "hello"})
	require.NoError(t, err)
	require.Equal(t, md5Hex("hello"), sent.MD5OfBody)

	delivered := q.Receive(context.Background(), ReceiveInput{MaxNumberOfMessages: 10})
	require.Len(t, delivered, 1)
	require.Equal(t, sent.MessageID, delivered[0].MessageID)
	require.NotEmpty(t, delivered[0].ReceiptHandle())

	visible, notVisible, _ := q.ApproximateCounts()
	require.Equal(t, 0, visible)
	require.Equal(t, 1, notVisible)

	require.NoError(t, q.Delete(delivered[0].ReceiptHandle()))
	require.ErrorContains(t, q.Delete(delivered[0].ReceiptHandle()), string(buserrors.CodeReceiptHandleInvalid))
}

func TestReceiveHidesMessageForVisibilityTimeout(t *testing.T) {
	b, fake := testBus(t)
	q, err := b.CreateQueue("orders", map[string]string{"VisibilityTimeout": "30"})
	require.NoError(t, err)

	_, err = q.Send(SendInput{Body: "hello"})
	require.NoError(t, err)

	delivered := q.Receive(context.Background(), ReceiveInput{MaxNumberOfMessages: 10})
	require.Len(t, delivered, 1)

	// Still invisible before the timeout elapses.
	none := q.Receive(context.Background(), ReceiveInput{MaxNumberOfMessages: 10})
	require.Empty(t, none)

	fake.Advance(31 * time.Second)
	waitForCondition(t, func() bool {
		visible, _, _ := q.ApproximateCounts()
		return visible == 1
	})

	again := q.Receive(context.Background(), ReceiveInput{MaxNumberOfMessages: 10})
	require.Len(t, again, 1)
	require.Equal(t, 2, again[0].ApproximateReceiveCount)
}

func TestChangeVisibilityZeroIsImmediateReenqueue(t *testing.T) {
	b, _ := testBus(t)
	q, err := b.CreateQueue("orders", nil)
	require.NoError(t, err)

	_, err = q.Send(SendInput{Body: "hello"})
	require.NoError(t, err)

	delivered := q.Receive(context.Background(), ReceiveInput{MaxNumberOfMessages: 1})
	require.Len(t, delivered, 1)
	handle := delivered[0].ReceiptHandle()

	require.NoError(t, q.ChangeVisibility(handle, 0))
	require.ErrorContains(t, q.ChangeVisibility(handle, 30), string(buserrors.CodeReceiptHandleInvalid))

	again := q.Receive(context.Background(), ReceiveInput{MaxNumberOfMessages: 1})
	require.Len(t, again, 1)
}

func TestDeduplicationReturnsFirstMessageID(t *testing.T) {
	b, _ := testBus(t)
	q, err := b.CreateQueue("orders.fifo", nil)
	require.NoError(t, err)

	first, err := q.Send(SendInput{Body: "hello", MessageGroupID: "g1", MessageDeduplicationID: "dup-1"})
	require.NoError(t, err)

	second, err := q.Send(SendInput{Body: "hello again", MessageGroupID: "g1", MessageDeduplicationID: "dup-1"})
	require.NoError(t, err)
	require.Equal(t, first.MessageID, second.MessageID)
}

func TestFIFOPreservesEnqueueOrderWithinGroup(t *testing.T) {
	b, _ := testBus(t)
	q, err := b.CreateQueue("orders.fifo", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := q.Send(SendInput{Body: string(rune('a' + i)), MessageGroupID: "g1"})
		require.NoError(t, err)
	}

	delivered := q.Receive(context.Background(), ReceiveInput{MaxNumberOfMessages: 10})
	require.Len(t, delivered, 3)
	require.Equal(t, "a", delivered[0].Body)
	require.Equal(t, "b", delivered[1].Body)
	require.Equal(t, "c", delivered[2].Body)

	require.NoError(t, q.Delete(delivered[0].ReceiptHandle()))

	again := q.Receive(context.Background(), ReceiveInput{MaxNumberOfMessages: 10})
	require.Empty(t, again, "a group with an in-flight message yields no more until it is cleared")
}

func TestFIFORequiresMessageGroupID(t *testing.T) {
	b, _ := testBus(t)
	q, err := b.CreateQueue("orders.fifo", nil)
	require.NoError(t, err)

	_, err = q.Send(SendInput{Body: "hello"})
	require.Error(t, err)
	require.True(t, buserrors.Is(err, buserrors.CodeInvalidParameter))
}

func TestDeadLetterRedirectAfterMaxReceiveCount(t *testing.T) {
	b, fake := testBus(t)
	dlq, err := b.CreateQueue("orders-dlq", nil)
	require.NoError(t, err)

	q, err := b.CreateQueue("orders", map[string]string{"VisibilityTimeout": "10"})
	require.NoError(t, err)
	require.NoError(t, q.SetRedrivePolicy(&RedrivePolicy{DeadLetterTargetArn: dlq.Arn, MaxReceiveCount: 2}))

	_, err = q.Send(SendInput{Body: "poison"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		delivered := q.Receive(context.Background(), ReceiveInput{MaxNumberOfMessages: 1})
		require.Len(t, delivered, 1, "delivery %d", i+1)
		fake.Advance(11 * time.Second)
		waitForCondition(t, func() bool {
			v, _, _ := q.ApproximateCounts()
			return v == 1
		})
	}

	// The third receive attempt finds ApproximateReceiveCount already at
	// the threshold and redirects instead of delivering again.
	delivered := q.Receive(context.Background(), ReceiveInput{MaxNumberOfMessages: 1})
	require.Empty(t, delivered)

	waitForCondition(t, func() bool {
		v, _, _ := dlq.ApproximateCounts()
		return v == 1
	})

	moved := dlq.Receive(context.Background(), ReceiveInput{MaxNumberOfMessages: 1})
	require.Len(t, moved, 1)
	require.Equal(t, "poison", moved[0].Body)
	require.Equal(t, q.Arn, moved[0].DeadLetterQueueSourceArn)
}

func TestQueueReferencedAsDLQCannotBeDeleted(t *testing.T) {
	b, _ := testBus(t)
	dlq, err := b.CreateQueue("orders-dlq", nil)
	require.NoError(t, err)
	q, err := b.CreateQueue("orders", nil)
	require.NoError(t, err)
	require.NoError(t, q.SetRedrivePolicy(&RedrivePolicy{DeadLetterTargetArn: dlq.Arn, MaxReceiveCount: 3}))

	err = b.DeleteQueue("orders-dlq")
	require.Error(t, err)

	require.NoError(t, q.SetRedrivePolicy(nil))
	require.NoError(t, b.DeleteQueue("orders-dlq"))
}

func TestPurgeClearsAllState(t *testing.T) {
	b, _ := testBus(t)
	q, err := b.CreateQueue("orders", nil)
	require.NoError(t, err)

	_, err = q.Send(SendInput{Body: "one"})
	require.NoError(t, err)
	_, err = q.Send(SendInput{Body: "two", DelaySeconds: 5})
	require.NoError(t, err)

	q.Purge()

	visible, notVisible, delayed := q.ApproximateCounts()
	require.Zero(t, visible)
	require.Zero(t, notVisible)
	require.Zero(t, delayed)
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition was never satisfied")
}
