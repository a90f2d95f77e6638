package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReceiptHandleRoundTrip(t *testing.T) {
	handle := newReceiptHandle("arn:aws:sqs:us-east-1:000000000000:orders", "msg-1", 1700000000)

	rh, err := decodeReceiptHandle(handle)
	require.NoError(t, err)
	require.Equal(t, "arn:aws:sqs:us-east-1:000000000000:orders", rh.queueArn)
	require.Equal(t, "msg-1", rh.messageID)
	require.EqualValues(t, 1700000000, rh.issuedAt)
}

func TestDecodeReceiptHandleRejectsMalformedInput(t *testing.T) {
	_, err := decodeReceiptHandle("not-base64!!")
	require.Error(t, err)

	_, err = decodeReceiptHandle("dG9vIGZldyBwYXJ0cw==") // "too few parts", 3 words
	require.Error(t, err)
}
