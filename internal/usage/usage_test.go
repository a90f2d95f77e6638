package usage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordAndEventsSnapshot(t *testing.T) {
	tr := New()
	tr.Record(Event{Service: "sqs", Action: "SendMessage", Resource: "arn:aws:sqs:us-east-1:000000000000:orders", Succeeded: true})

	events := tr.Events()
	require.Len(t, events, 1)

	tr.Record(Event{Service: "sqs", Action: "DeleteMessage", Succeeded: true})
	require.Len(t, tr.Events(), 2)
	require.Len(t, events, 1, "Events must return a snapshot, not a live view")
}

func TestIAMPolicyDocumentGroupsByService(t *testing.T) {
	tr := New()
	tr.Record(Event{Service: "sqs", Action: "SendMessage", Resource: "arn:aws:sqs:us-east-1:000000000000:orders", Succeeded: true})
	tr.Record(Event{Service: "sqs", Action: "ReceiveMessage", Resource: "arn:aws:sqs:us-east-1:000000000000:orders", Succeeded: true})
	tr.Record(Event{Service: "sns", Action: "Publish", Resource: "arn:aws:sns:us-east-1:000000000000:order-events", Succeeded: true})

	raw, err := tr.IAMPolicyDocument()
	require.NoError(t, err)

	var doc struct {
		Version   string
		Statement []struct {
			Effect   string
			Action   []string
			Resource []string
		}
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.Statement, 2)

	var sqsActions, snsActions int
	for _, s := range doc.Statement {
		for _, a := range s.Action {
			if a == "sqs:SendMessage" || a == "sqs:ReceiveMessage" {
				sqsActions++
			}
			if a == "sns:Publish" {
				snsActions++
			}
		}
	}
	require.Equal(t, 2, sqsActions)
	require.Equal(t, 1, snsActions)
}

func TestIAMPolicyDocumentDefaultsResourceToWildcard(t *testing.T) {
	tr := New()
	tr.Record(Event{Service: "sqs", Action: "ListQueues", Succeeded: true})

	raw, err := tr.IAMPolicyDocument()
	require.NoError(t, err)
	require.Contains(t, string(raw), `"*"`)
}
