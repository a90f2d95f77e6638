// Package sqsapi is the SQS wire surface: JSON-over-HTTP with
// X-Amz-Target action dispatch, generalizing the teacher's sqsHandler
// dual JSON/XML dispatcher onto the internal/bus operations (spec §6).
package sqsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/go-ess/ess-queue-ess/internal/buserrors"
	"github.com/go-ess/ess-queue-ess/internal/bus"
	"github.com/go-ess/ess-queue-ess/internal/pagination"
)

// Handler is the SQS service endpoint.
type Handler struct {
	Bus    *bus.Bus
	Logger zerolog.Logger
}

func New(b *bus.Bus, logger zerolog.Logger) *Handler {
	return &Handler{Bus: b, Logger: logger}
}

// ServeHTTP dispatches on the X-Amz-Target header, falling back to the
// Query protocol's Action form field, exactly like the teacher's
// sqsHandler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := h.actionFor(r)
	h.Logger.Debug().Str("action", action).Msg("sqs request")

	switch action {
	case "CreateQueue":
		h.createQueue(w, r)
	case "DeleteQueue":
		h.deleteQueue(w, r)
	case "ListQueues":
		h.listQueues(w, r)
	case "GetQueueUrl":
		h.getQueueURL(w, r)
	case "SendMessage":
		h.sendMessage(w, r)
	case "SendMessageBatch":
		h.sendMessageBatch(w, r)
	case "ReceiveMessage":
		h.receiveMessage(w, r)
	case "DeleteMessage":
		h.deleteMessage(w, r)
	case "DeleteMessageBatch":
		h.deleteMessageBatch(w, r)
	case "ChangeMessageVisibility":
		h.changeMessageVisibility(w, r)
	case "GetQueueAttributes":
		h.getQueueAttributes(w, r)
	case "SetQueueAttributes":
		h.setQueueAttributes(w, r)
	case "PurgeQueue":
		h.purgeQueue(w, r)
	case "TagQueue":
		h.tagQueue(w, r)
	case "UntagQueue":
		h.untagQueue(w, r)
	case "ListQueueTags":
		h.listQueueTags(w, r)
	case "StartMessageMoveTask":
		h.startMessageMoveTask(w, r)
	case "ListMessageMoveTasks":
		h.listMessageMoveTasks(w, r)
	case "CancelMessageMoveTask":
		h.cancelMessageMoveTask(w, r)
	default:
		writeError(w, "InvalidAction", "unknown action: "+action, http.StatusBadRequest)
	}
}

func (h *Handler) actionFor(r *http.Request) string {
	if target := r.Header.Get("X-Amz-Target"); target != "" {
		parts := strings.Split(target, ".")
		if len(parts) == 2 {
			return parts[1]
		}
	}
	_ = r.ParseForm()
	return r.FormValue("Action")
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"__type": code, "message": message})
}

func writeBusError(w http.ResponseWriter, err error) {
	writeError(w, string(buserrors.CodeFor(err)), err.Error(), buserrors.StatusFor(err))
}

func queueURLFor(r *http.Request, q *bus.Queue) string {
	if strings.HasPrefix(q.URL, "http") {
		return q.URL
	}
	return "http://" + r.Host + "/" + q.Name
}

// --- CreateQueue ---

type createQueueRequest struct {
	QueueName  string            `json:"QueueName"`
	Attributes map[string]string `json:"Attributes"`
	Tags       map[string]string `json:"tags"`
}

func (h *Handler) createQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	if req.QueueName == "" {
		writeError(w, "MissingParameter", "QueueName is required", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.CreateQueue(req.QueueName, req.Attributes)
	if err != nil {
		writeBusError(w, err)
		return
	}
	if len(req.Tags) > 0 {
		q.SetTags(req.Tags)
	}
	writeJSON(w, map[string]string{"QueueUrl": queueURLFor(r, q)})
}

// --- DeleteQueue ---

func (h *Handler) deleteQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueUrl string `json:"QueueUrl"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.GetQueueByURL(req.QueueUrl)
	if err != nil {
		writeBusError(w, err)
		return
	}
	if err := h.Bus.DeleteQueue(q.Name); err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, map[string]string{})
}

// --- ListQueues ---

func (h *Handler) listQueues(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueNamePrefix string `json:"QueueNamePrefix"`
		NextToken       string `json:"NextToken"`
		MaxResults      int    `json:"MaxResults"`
	}
	_ = decodeJSON(r, &req)
	queues := h.Bus.ListQueues(req.QueueNamePrefix)

	page, next, err := pagination.Page(queues, req.NextToken, req.MaxResults)
	if err != nil {
		writeBusError(w, err)
		return
	}
	urls := make([]string, 0, len(page))
	for _, q := range page {
		urls = append(urls, queueURLFor(r, q))
	}
	resp := map[string]interface{}{"QueueUrls": urls}
	if next != "" {
		resp["NextToken"] = next
	}
	writeJSON(w, resp)
}

// --- GetQueueUrl ---

func (h *Handler) getQueueURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueName string `json:"QueueName"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.GetQueue(req.QueueName)
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, map[string]string{"QueueUrl": queueURLFor(r, q)})
}

// --- SendMessage ---

type messageAttributeWire struct {
	DataType    string `json:"DataType"`
	StringValue string `json:"StringValue"`
	BinaryValue []byte `json:"BinaryValue"`
}

func toBusAttributes(wire map[string]messageAttributeWire) map[string]bus.MessageAttributeValue {
	out := make(map[string]bus.MessageAttributeValue, len(wire))
	for k, v := range wire {
		out[k] = bus.MessageAttributeValue{DataType: v.DataType, StringValue: v.StringValue, BinaryValue: v.BinaryValue}
	}
	return out
}

type sendMessageRequest struct {
	QueueUrl               string                           `json:"QueueUrl"`
	MessageBody            string                           `json:"MessageBody"`
	DelaySeconds           int                              `json:"DelaySeconds"`
	MessageAttributes      map[string]messageAttributeWire  `json:"MessageAttributes"`
	MessageGroupId         string                           `json:"MessageGroupId"`
	MessageDeduplicationId string                           `json:"MessageDeduplicationId"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.GetQueueByURL(req.QueueUrl)
	if err != nil {
		writeBusError(w, err)
		return
	}
	msg, err := q.Send(bus.SendInput{
		Body:                   req.MessageBody,
		Attributes:             toBusAttributes(req.MessageAttributes),
		DelaySeconds:           req.DelaySeconds,
		MessageGroupID:         req.MessageGroupId,
		MessageDeduplicationID: req.MessageDeduplicationId,
	})
	if err != nil {
		writeBusError(w, err)
		return
	}
	resp := map[string]string{
		"MessageId": msg.MessageID,
		"MD5OfMessageBody": msg.MD5OfBody,
	}
	if msg.SequenceNumber != "" {
		resp["SequenceNumber"] = msg.SequenceNumber
	}
	writeJSON(w, resp)
}

// --- SendMessageBatch ---

type sendMessageBatchEntry struct {
	Id                     string                          `json:"Id"`
	MessageBody            string                          `json:"MessageBody"`
	DelaySeconds           int                             `json:"DelaySeconds"`
	MessageAttributes      map[string]messageAttributeWire `json:"MessageAttributes"`
	MessageGroupId         string                          `json:"MessageGroupId"`
	MessageDeduplicationId string                          `json:"MessageDeduplicationId"`
}

func (h *Handler) sendMessageBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueUrl string                  `json:"QueueUrl"`
		Entries  []sendMessageBatchEntry `json:"Entries"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	if len(req.Entries) == 0 {
		writeBusError(w, buserrors.New(buserrors.CodeEmptyBatchRequest, "batch request is empty"))
		return
	}
	if len(req.Entries) > 10 {
		writeBusError(w, buserrors.New(buserrors.CodeTooManyBatchEntries, "batch may contain at most 10 entries"))
		return
	}
	q, err := h.Bus.GetQueueByURL(req.QueueUrl)
	if err != nil {
		writeBusError(w, err)
		return
	}

	seen := map[string]bool{}
	successful := []map[string]string{}
	failed := []map[string]string{}
	for _, e := range req.Entries {
		if e.Id == "" {
			writeBusError(w, buserrors.New(buserrors.CodeInvalidBatchEntryId, "batch entry id must not be empty"))
			return
		}
		if seen[e.Id] {
			writeBusError(w, buserrors.New(buserrors.CodeBatchEntryIdsNotDistinct, "batch entry ids must be distinct"))
			return
		}
		seen[e.Id] = true

		msg, err := q.Send(bus.SendInput{
			Body:                   e.MessageBody,
			Attributes:             toBusAttributes(e.MessageAttributes),
			DelaySeconds:           e.DelaySeconds,
			MessageGroupID:         e.MessageGroupId,
			MessageDeduplicationID: e.MessageDeduplicationId,
		})
		if err != nil {
			failed = append(failed, map[string]string{"Id": e.Id, "Code": string(buserrors.CodeFor(err)), "Message": err.Error()})
			continue
		}
		successful = append(successful, map[string]string{"Id": e.Id, "MessageId": msg.MessageID, "MD5OfMessageBody": msg.MD5OfBody, "SequenceNumber": msg.SequenceNumber})
	}
	writeJSON(w, map[string]interface{}{"Successful": successful, "Failed": failed})
}

// --- ReceiveMessage ---

func (h *Handler) receiveMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueUrl                    string   `json:"QueueUrl"`
		MaxNumberOfMessages         int      `json:"MaxNumberOfMessages"`
		VisibilityTimeout           *int     `json:"VisibilityTimeout"`
		WaitTimeSeconds             int      `json:"WaitTimeSeconds"`
		MessageSystemAttributeNames []string `json:"MessageSystemAttributeNames"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.GetQueueByURL(req.QueueUrl)
	if err != nil {
		writeBusError(w, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	messages := q.Receive(ctx, bus.ReceiveInput{
		MaxNumberOfMessages:         req.MaxNumberOfMessages,
		VisibilityTimeout:           req.VisibilityTimeout,
		WaitTimeSeconds:             req.WaitTimeSeconds,
		MessageSystemAttributeNames: req.MessageSystemAttributeNames,
	})

	out := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageWire(m, req.MessageSystemAttributeNames))
	}
	writeJSON(w, map[string]interface{}{"Messages": out})
}

func messageWire(m *bus.Message, attributeNames []string) map[string]interface{} {
	all := map[string]string{
		"ApproximateReceiveCount": strconv.Itoa(m.ApproximateReceiveCount),
		"SentTimestamp":           strconv.FormatInt(m.SentTimestamp.UnixMilli(), 10),
		"MessageGroupId":          m.MessageGroupID,
		"MessageDeduplicationId":  m.MessageDeduplicationID,
		"SequenceNumber":          m.SequenceNumber,
	}
	return map[string]interface{}{
		"MessageId":     m.MessageID,
		"ReceiptHandle": m.ReceiptHandle(),
		"MD5OfBody":     m.MD5OfBody,
		"Body":          m.Body,
		"Attributes":    filterSystemAttributes(all, attributeNames),
	}
}

// filterSystemAttributes implements spec §4.1.3's
// messageSystemAttributeNames: an empty list or an explicit "All" keeps
// every attribute; otherwise only the named ones survive.
func filterSystemAttributes(all map[string]string, names []string) map[string]string {
	if len(names) == 0 {
		return all
	}
	for _, n := range names {
		if n == "All" {
			return all
		}
	}
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}
	out := make(map[string]string, len(wanted))
	for k, v := range all {
		if _, ok := wanted[k]; ok {
			out[k] = v
		}
	}
	return out
}

// --- DeleteMessage ---

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueUrl      string `json:"QueueUrl"`
		ReceiptHandle string `json:"ReceiptHandle"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.GetQueueByURL(req.QueueUrl)
	if err != nil {
		writeBusError(w, err)
		return
	}
	if err := q.Delete(req.ReceiptHandle); err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, map[string]string{})
}

// --- DeleteMessageBatch ---

func (h *Handler) deleteMessageBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueUrl string `json:"QueueUrl"`
		Entries  []struct {
			Id            string `json:"Id"`
			ReceiptHandle string `json:"ReceiptHandle"`
		} `json:"Entries"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.GetQueueByURL(req.QueueUrl)
	if err != nil {
		writeBusError(w, err)
		return
	}

	successful := []map[string]string{}
	failed := []map[string]string{}
	for _, e := range req.Entries {
		if err := q.Delete(e.ReceiptHandle); err != nil {
			failed = append(failed, map[string]string{"Id": e.Id, "Code": string(buserrors.CodeFor(err)), "Message": err.Error()})
			continue
		}
		successful = append(successful, map[string]string{"Id": e.Id})
	}
	writeJSON(w, map[string]interface{}{"Successful": successful, "Failed": failed})
}

// --- ChangeMessageVisibility ---

func (h *Handler) changeMessageVisibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueUrl          string `json:"QueueUrl"`
		ReceiptHandle     string `json:"ReceiptHandle"`
		VisibilityTimeout int    `json:"VisibilityTimeout"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.GetQueueByURL(req.QueueUrl)
	if err != nil {
		writeBusError(w, err)
		return
	}
	if err := q.ChangeVisibility(req.ReceiptHandle, req.VisibilityTimeout); err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, map[string]string{})
}

// --- GetQueueAttributes / SetQueueAttributes ---

func (h *Handler) getQueueAttributes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueUrl string `json:"QueueUrl"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.GetQueueByURL(req.QueueUrl)
	if err != nil {
		writeBusError(w, err)
		return
	}
	visible, notVisible, delayed := q.ApproximateCounts()
	attrs := map[string]string{
		"QueueArn":                              q.Arn,
		"VisibilityTimeout":                     strconv.Itoa(q.VisibilityTimeout),
		"ApproximateNumberOfMessages":            strconv.Itoa(visible),
		"ApproximateNumberOfMessagesNotVisible":  strconv.Itoa(notVisible),
		"ApproximateNumberOfMessagesDelayed":      strconv.Itoa(delayed),
		"CreatedTimestamp":                       strconv.FormatInt(q.CreatedTimestamp.Unix(), 10),
		"LastModifiedTimestamp":                  strconv.FormatInt(q.LastModifiedTimestamp.Unix(), 10),
	}
	for k, v := range q.Attributes {
		attrs[k] = v
	}
	writeJSON(w, map[string]interface{}{"Attributes": attrs})
}

func (h *Handler) setQueueAttributes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueUrl   string            `json:"QueueUrl"`
		Attributes map[string]string `json:"Attributes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.GetQueueByURL(req.QueueUrl)
	if err != nil {
		writeBusError(w, err)
		return
	}
	if err := q.SetAttributes(req.Attributes); err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, map[string]string{})
}

// --- PurgeQueue ---

func (h *Handler) purgeQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueUrl string `json:"QueueUrl"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.GetQueueByURL(req.QueueUrl)
	if err != nil {
		writeBusError(w, err)
		return
	}
	q.Purge()
	writeJSON(w, map[string]string{})
}

// --- Tags ---

func (h *Handler) tagQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueUrl string            `json:"QueueUrl"`
		Tags     map[string]string `json:"Tags"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.GetQueueByURL(req.QueueUrl)
	if err != nil {
		writeBusError(w, err)
		return
	}
	q.SetTags(req.Tags)
	writeJSON(w, map[string]string{})
}

func (h *Handler) untagQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueUrl string   `json:"QueueUrl"`
		TagKeys  []string `json:"TagKeys"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.GetQueueByURL(req.QueueUrl)
	if err != nil {
		writeBusError(w, err)
		return
	}
	q.RemoveTags(req.TagKeys)
	writeJSON(w, map[string]string{})
}

func (h *Handler) listQueueTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueueUrl string `json:"QueueUrl"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	q, err := h.Bus.GetQueueByURL(req.QueueUrl)
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"Tags": q.TagsSnapshot()})
}

// --- Move tasks ---

func (h *Handler) startMessageMoveTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceArn                    string `json:"SourceArn"`
		DestinationArn               string `json:"DestinationArn"`
		MaxNumberOfMessagesPerSecond int    `json:"MaxNumberOfMessagesPerSecond"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	task, err := h.Bus.StartMessageMoveTask(req.SourceArn, req.DestinationArn, req.MaxNumberOfMessagesPerSecond)
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, map[string]string{"TaskHandle": task.TaskHandle})
}

func (h *Handler) listMessageMoveTasks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceArn  string `json:"SourceArn"`
		MaxResults int    `json:"MaxResults"`
	}
	_ = decodeJSON(r, &req)
	tasks := h.Bus.ListMessageMoveTasks(req.SourceArn)

	page, _, err := pagination.Page(tasks, "", req.MaxResults)
	if err != nil {
		writeBusError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(page))
	for _, t := range page {
		out = append(out, map[string]interface{}{
			"TaskHandle":                   t.TaskHandle,
			"SourceArn":                    t.SourceArn,
			"DestinationArn":               t.DestinationArn,
			"Status":                       string(t.Status()),
			"ApproximateNumberOfMessagesMoved":  t.ApproximateMessagesMoved(),
			"ApproximateNumberOfMessagesToMove": t.ApproximateMessagesToMove(),
		})
	}
	writeJSON(w, map[string]interface{}{"Results": out})
}

func (h *Handler) cancelMessageMoveTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskHandle string `json:"TaskHandle"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "InvalidParameterValue", "malformed request body", http.StatusBadRequest)
		return
	}
	if err := h.Bus.CancelMessageMoveTask(req.TaskHandle); err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, map[string]string{})
}
