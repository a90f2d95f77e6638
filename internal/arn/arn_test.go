package arn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionQueueAndTopicArn(t *testing.T) {
	p := Partition{Partition: "aws", Region: "us-east-1", Account: "000000000000"}
	require.Equal(t, "arn:aws:sqs:us-east-1:000000000000:orders", p.Queue("orders"))
	require.Equal(t, "arn:aws:sns:us-east-1:000000000000:order-events", p.Topic("order-events"))
}

func TestPartitionQueueURL(t *testing.T) {
	p := Partition{Partition: "aws", Region: "us-east-1", Account: "000000000000"}
	require.Equal(t, "https://sqs.us-east-1.amazonaws.com/000000000000/orders",
		p.QueueURL("https://sqs.us-east-1.amazonaws.com/", "orders"))
}

func TestNameLastColonSplit(t *testing.T) {
	name, err := Name("arn:aws:sqs:us-east-1:000000000000:orders")
	require.NoError(t, err)
	require.Equal(t, "orders", name)
}

func TestNameRejectsMalformedArn(t *testing.T) {
	_, err := Name("not-an-arn")
	require.Error(t, err)
}

func TestNameFromQueueURL(t *testing.T) {
	name, err := NameFromQueueURL("https://sqs.us-east-1.amazonaws.com/000000000000/orders")
	require.NoError(t, err)
	require.Equal(t, "orders", name)

	_, err = NameFromQueueURL("no-slashes-here")
	require.Error(t, err)
}
