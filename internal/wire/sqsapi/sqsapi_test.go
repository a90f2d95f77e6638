package sqsapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-ess/ess-queue-ess/internal/arn"
	"github.com/go-ess/ess-queue-ess/internal/bus"
)

func testHandler(t *testing.T) *Handler {
	t.Helper()
	b := bus.New(bus.Config{
		Logger:         zerolog.Nop(),
		ServiceURLBase: "https://sqs.us-east-1.amazonaws.com",
		Partition:      arn.Partition{Partition: "aws", Region: "us-east-1", Account: "000000000000"},
	})
	return New(b, zerolog.Nop())
}

func doAction(t *testing.T, h *Handler, action string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set("X-Amz-Target", "AmazonSQS."+action)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateSendReceiveDeleteOverHTTP(t *testing.T) {
	h := testHandler(t)

	createRec := doAction(t, h, "CreateQueue", map[string]interface{}{"QueueName": "orders"})
	require.Equal(t, http.StatusOK, createRec.Code)
	var created struct{ QueueUrl string }
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	require.NotEmpty(t, created.QueueUrl)

	sendRec := doAction(t, h, "SendMessage", map[string]interface{}{"QueueUrl": created.QueueUrl, "MessageBody": "hello"})
	require.Equal(t, http.StatusOK, sendRec.Code)
	var sent struct{ MessageId, MD5OfMessageBody string }
	require.NoError(t, json.Unmarshal(sendRec.Body.Bytes(), &sent))
	require.NotEmpty(t, sent.MessageId)

	recvRec := doAction(t, h, "ReceiveMessage", map[string]interface{}{"QueueUrl": created.QueueUrl, "MaxNumberOfMessages": 10})
	require.Equal(t, http.StatusOK, recvRec.Code)
	var received struct {
		Messages []struct {
			MessageId     string
			ReceiptHandle string
			Body          string
		}
	}
	require.NoError(t, json.Unmarshal(recvRec.Body.Bytes(), &received))
	require.Len(t, received.Messages, 1)
	require.Equal(t, "hello", received.Messages[0].Body)

	deleteRec := doAction(t, h, "DeleteMessage", map[string]interface{}{"QueueUrl": created.QueueUrl, "ReceiptHandle": received.Messages[0].ReceiptHandle})
	require.Equal(t, http.StatusOK, deleteRec.Code)
}

func TestUnknownActionReturnsBadRequest(t *testing.T) {
	h := testHandler(t)
	rec := doAction(t, h, "NotARealAction", map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiveMessageFiltersSystemAttributeNames(t *testing.T) {
	h := testHandler(t)
	createRec := doAction(t, h, "CreateQueue", map[string]interface{}{"QueueName": "orders"})
	var created struct{ QueueUrl string }
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	doAction(t, h, "SendMessage", map[string]interface{}{"QueueUrl": created.QueueUrl, "MessageBody": "hello"})

	recvRec := doAction(t, h, "ReceiveMessage", map[string]interface{}{
		"QueueUrl":                    created.QueueUrl,
		"MaxNumberOfMessages":         10,
		"MessageSystemAttributeNames": []string{"SentTimestamp"},
	})
	require.Equal(t, http.StatusOK, recvRec.Code)
	var received struct {
		Messages []struct {
			Attributes map[string]string
		}
	}
	require.NoError(t, json.Unmarshal(recvRec.Body.Bytes(), &received))
	require.Len(t, received.Messages, 1)
	require.Equal(t, map[string]string{"SentTimestamp": received.Messages[0].Attributes["SentTimestamp"]}, received.Messages[0].Attributes)
	require.NotEmpty(t, received.Messages[0].Attributes["SentTimestamp"])
}

func TestSendMessageBatchRejectsMoreThanTenEntries(t *testing.T) {
	h := testHandler(t)
	createRec := doAction(t, h, "CreateQueue", map[string]interface{}{"QueueName": "orders"})
	var created struct{ QueueUrl string }
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	entries := make([]map[string]interface{}, 11)
	for i := range entries {
		entries[i] = map[string]interface{}{"Id": string(rune('a' + i)), "MessageBody": "x"}
	}
	rec := doAction(t, h, "SendMessageBatch", map[string]interface{}{"QueueUrl": created.QueueUrl, "Entries": entries})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
