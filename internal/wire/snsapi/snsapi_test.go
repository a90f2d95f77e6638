package snsapi

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-ess/ess-queue-ess/internal/arn"
	"github.com/go-ess/ess-queue-ess/internal/bus"
)

func testEnv(t *testing.T) (*Handler, *bus.Bus) {
	t.Helper()
	b := bus.New(bus.Config{
		Logger:         zerolog.Nop(),
		ServiceURLBase: "https://sqs.us-east-1.amazonaws.com",
		Partition:      arn.Partition{Partition: "aws", Region: "us-east-1", Account: "000000000000"},
	})
	return New(b, zerolog.Nop()), b
}

func doForm(t *testing.T, h *Handler, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/sns", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateTopicSubscribeAndPublishOverHTTP(t *testing.T) {
	h, b := testEnv(t)
	q, err := b.CreateQueue("orders", nil)
	require.NoError(t, err)

	createRec := doForm(t, h, url.Values{"Action": {"CreateTopic"}, "Name": {"order-events"}})
	require.Equal(t, http.StatusOK, createRec.Code)

	var created struct {
		XMLName xml.Name `xml:"CreateTopicResponse"`
		Result  struct {
			TopicArn string `xml:"TopicArn"`
		} `xml:"CreateTopicResult"`
	}
	require.NoError(t, xml.Unmarshal(createRec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Result.TopicArn)

	subRec := doForm(t, h, url.Values{
		"Action":   {"Subscribe"},
		"TopicArn": {created.Result.TopicArn},
		"Protocol": {"sqs"},
		"Endpoint": {q.Arn},
		"Attributes.entry.1.key":   {"RawMessageDelivery"},
		"Attributes.entry.1.value": {"true"},
	})
	require.Equal(t, http.StatusOK, subRec.Code)

	pubRec := doForm(t, h, url.Values{
		"Action":   {"Publish"},
		"TopicArn": {created.Result.TopicArn},
		"Message":  {"hello"},
	})
	require.Equal(t, http.StatusOK, pubRec.Code)

	delivered := q.Receive(context.Background(), bus.ReceiveInput{MaxNumberOfMessages: 1})
	require.Len(t, delivered, 1)
	require.Equal(t, "hello", delivered[0].Body)
}

func TestSubscribeRejectsUnknownTopic(t *testing.T) {
	h, b := testEnv(t)
	_, err := b.CreateQueue("orders", nil)
	require.NoError(t, err)

	rec := doForm(t, h, url.Values{
		"Action":   {"Subscribe"},
		"TopicArn": {"arn:aws:sns:us-east-1:000000000000:does-not-exist"},
		"Protocol": {"sqs"},
	})
	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestUnknownActionReturnsBadRequest(t *testing.T) {
	h, _ := testEnv(t)
	rec := doForm(t, h, url.Values{"Action": {"NotARealAction"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
