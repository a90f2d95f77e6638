// Package snsapi is the SNS wire surface: form-urlencoded query-style
// POST with an Action field, XML responses, generalizing the teacher's
// dispatch-by-action style onto the topic service's own wire shape
// (spec §6).
package snsapi

import (
	"encoding/xml"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-ess/ess-queue-ess/internal/buserrors"
	"github.com/go-ess/ess-queue-ess/internal/bus"
	"github.com/go-ess/ess-queue-ess/internal/pagination"
)

// Handler is the SNS service endpoint.
type Handler struct {
	Bus    *bus.Bus
	Logger zerolog.Logger
}

func New(b *bus.Bus, logger zerolog.Logger) *Handler {
	return &Handler{Bus: b, Logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, "InvalidParameter", "failed to parse request", http.StatusBadRequest)
		return
	}
	action := r.FormValue("Action")
	h.Logger.Debug().Str("action", action).Msg("sns request")

	switch action {
	case "CreateTopic":
		h.createTopic(w, r)
	case "DeleteTopic":
		h.deleteTopic(w, r)
	case "ListTopics":
		h.listTopics(w, r)
	case "GetTopicAttributes":
		h.getTopicAttributes(w, r)
	case "SetTopicAttributes":
		h.setTopicAttributes(w, r)
	case "Subscribe":
		h.subscribe(w, r)
	case "Unsubscribe":
		h.unsubscribe(w, r)
	case "ListSubscriptionsByTopic":
		h.listSubscriptionsByTopic(w, r)
	case "SetSubscriptionAttributes":
		h.setSubscriptionAttributes(w, r)
	case "Publish":
		h.publish(w, r)
	case "PublishBatch":
		h.publishBatch(w, r)
	case "AddPermission":
		h.addPermission(w, r)
	case "RemovePermission":
		h.removePermission(w, r)
	case "TagResource":
		h.tagResource(w, r)
	default:
		writeError(w, "InvalidAction", "unknown action: "+action, http.StatusBadRequest)
	}
}

const xmlns = "https://sns.amazonaws.com/doc/2010-03-31/"

type responseMetadata struct {
	RequestID string `xml:"RequestId"`
}

func writeAction(w http.ResponseWriter, action string, result interface{}) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)

	env := struct {
		XMLName          xml.Name
		XMLNS            string           `xml:"xmlns,attr"`
		Result           interface{}      `xml:",omitempty"`
		ResponseMetadata responseMetadata `xml:"ResponseMetadata"`
	}{
		XMLName:          xml.Name{Local: action + "Response"},
		XMLNS:            xmlns,
		Result:           result,
		ResponseMetadata: responseMetadata{RequestID: uuid.New().String()},
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	_ = enc.Encode(env)
}

func writeError(w http.ResponseWriter, code, message string, status int) {
	type errorBody struct {
		Type    string `xml:"Type"`
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	}
	resp := struct {
		XMLName xml.Name  `xml:"ErrorResponse"`
		Error   errorBody `xml:"Error"`
	}{Error: errorBody{Type: "Sender", Code: code, Message: message}}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	_ = enc.Encode(resp)
}

func writeBusError(w http.ResponseWriter, err error) {
	writeError(w, string(buserrors.CodeFor(err)), err.Error(), buserrors.StatusFor(err))
}

func parseAttributes(form map[string][]string, prefix string) map[string]string {
	attrs := map[string]string{}
	for i := 1; ; i++ {
		nameKey := prefix + "." + strconv.Itoa(i) + ".Name"
		valueKey := prefix + "." + strconv.Itoa(i) + ".Value"
		names, ok := form[nameKey]
		if !ok || len(names) == 0 || names[0] == "" {
			break
		}
		value := ""
		if vs, ok := form[valueKey]; ok && len(vs) > 0 {
			value = vs[0]
		}
		attrs[names[0]] = value
	}
	return attrs
}

// --- Topics ---

func (h *Handler) createTopic(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("Name")
	if name == "" {
		writeError(w, "InvalidParameter", "Name is required", http.StatusBadRequest)
		return
	}
	attrs := parseAttributes(r.Form, "Attributes.entry")
	t, err := h.Bus.CreateTopic(name, attrs)
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeAction(w, "CreateTopic", struct {
		XMLName  xml.Name `xml:"CreateTopicResult"`
		TopicArn string   `xml:"TopicArn"`
	}{TopicArn: t.Arn})
}

func (h *Handler) deleteTopic(w http.ResponseWriter, r *http.Request) {
	name, err := h.topicNameFromArn(r)
	if err != nil {
		writeBusError(w, err)
		return
	}
	if err := h.Bus.DeleteTopic(name); err != nil {
		writeBusError(w, err)
		return
	}
	writeAction(w, "DeleteTopic", nil)
}

func (h *Handler) listTopics(w http.ResponseWriter, r *http.Request) {
	topics := h.Bus.ListTopics()
	page, next, err := pagination.Page(topics, r.FormValue("NextToken"), 100)
	if err != nil {
		writeBusError(w, err)
		return
	}
	type member struct {
		TopicArn string `xml:"TopicArn"`
	}
	members := make([]member, 0, len(page))
	for _, t := range page {
		members = append(members, member{TopicArn: t.Arn})
	}
	writeAction(w, "ListTopics", struct {
		XMLName   xml.Name `xml:"ListTopicsResult"`
		Topics    struct {
			Member []member `xml:"member"`
		} `xml:"Topics"`
		NextToken string `xml:"NextToken,omitempty"`
	}{
		Topics: struct {
			Member []member `xml:"member"`
		}{Member: members},
		NextToken: next,
	})
}

func (h *Handler) getTopicAttributes(w http.ResponseWriter, r *http.Request) {
	name, err := h.topicNameFromArn(r)
	if err != nil {
		writeBusError(w, err)
		return
	}
	t, err := h.Bus.GetTopic(name)
	if err != nil {
		writeBusError(w, err)
		return
	}
	type entry struct {
		Key   string `xml:"key"`
		Value string `xml:"value"`
	}
	attrs := map[string]string{"TopicArn": t.Arn, "DisplayName": t.DisplayName, "Policy": t.Policy}
	for k, v := range t.Attributes {
		attrs[k] = v
	}
	entries := make([]entry, 0, len(attrs))
	for k, v := range attrs {
		entries = append(entries, entry{Key: k, Value: v})
	}
	writeAction(w, "GetTopicAttributes", struct {
		XMLName    xml.Name `xml:"GetTopicAttributesResult"`
		Attributes struct {
			Entry []entry `xml:"entry"`
		} `xml:"Attributes"`
	}{Attributes: struct {
		Entry []entry `xml:"entry"`
	}{Entry: entries}})
}

func (h *Handler) setTopicAttributes(w http.ResponseWriter, r *http.Request) {
	name, err := h.topicNameFromArn(r)
	if err != nil {
		writeBusError(w, err)
		return
	}
	t, err := h.Bus.GetTopic(name)
	if err != nil {
		writeBusError(w, err)
		return
	}
	attrName := r.FormValue("AttributeName")
	attrValue := r.FormValue("AttributeValue")
	if err := t.SetAttributes(map[string]string{attrName: attrValue}); err != nil {
		writeBusError(w, err)
		return
	}
	writeAction(w, "SetTopicAttributes", nil)
}

func (h *Handler) topicNameFromArn(r *http.Request) (string, error) {
	topicArn := r.FormValue("TopicArn")
	return arnName(topicArn)
}

// --- Subscriptions ---

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	name, err := h.topicNameFromArn(r)
	if err != nil {
		writeBusError(w, err)
		return
	}
	t, err := h.Bus.GetTopic(name)
	if err != nil {
		writeBusError(w, err)
		return
	}
	protocol := r.FormValue("Protocol")
	endpoint := r.FormValue("Endpoint")
	raw := r.FormValue("Attributes.entry.1.key") == "RawMessageDelivery" && r.FormValue("Attributes.entry.1.value") == "true"
	filterPolicy := filterPolicyFromForm(r.Form)

	sub, err := t.Subscribe(protocol, endpoint, filterPolicy, raw)
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeAction(w, "Subscribe", struct {
		XMLName         xml.Name `xml:"SubscribeResult"`
		SubscriptionArn string   `xml:"SubscriptionArn"`
	}{SubscriptionArn: sub.SubscriptionArn})
}

func filterPolicyFromForm(form map[string][]string) string {
	attrs := parseAttributes(form, "Attributes.entry")
	return attrs["FilterPolicy"]
}

func (h *Handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	subArn := r.FormValue("SubscriptionArn")
	topicArn, err := topicArnFromSubscriptionArn(subArn)
	if err != nil {
		writeBusError(w, err)
		return
	}
	name, err := arnName(topicArn)
	if err != nil {
		writeBusError(w, err)
		return
	}
	t, err := h.Bus.GetTopic(name)
	if err != nil {
		writeBusError(w, err)
		return
	}
	if err := t.Unsubscribe(subArn); err != nil {
		writeBusError(w, err)
		return
	}
	writeAction(w, "Unsubscribe", nil)
}

func (h *Handler) listSubscriptionsByTopic(w http.ResponseWriter, r *http.Request) {
	name, err := h.topicNameFromArn(r)
	if err != nil {
		writeBusError(w, err)
		return
	}
	t, err := h.Bus.GetTopic(name)
	if err != nil {
		writeBusError(w, err)
		return
	}
	type member struct {
		SubscriptionArn string `xml:"SubscriptionArn"`
		TopicArn        string `xml:"TopicArn"`
		Protocol        string `xml:"Protocol"`
		Endpoint        string `xml:"Endpoint"`
	}
	subs := t.ListSubscriptions()
	page, next, err := pagination.Page(subs, r.FormValue("NextToken"), 100)
	if err != nil {
		writeBusError(w, err)
		return
	}
	members := make([]member, 0, len(page))
	for _, s := range page {
		members = append(members, member{SubscriptionArn: s.SubscriptionArn, TopicArn: s.TopicArn, Protocol: s.Protocol, Endpoint: s.Endpoint})
	}
	writeAction(w, "ListSubscriptionsByTopic", struct {
		XMLName       xml.Name `xml:"ListSubscriptionsByTopicResult"`
		Subscriptions struct {
			Member []member `xml:"member"`
		} `xml:"Subscriptions"`
		NextToken string `xml:"NextToken,omitempty"`
	}{
		Subscriptions: struct {
			Member []member `xml:"member"`
		}{Member: members},
		NextToken: next,
	})
}

func (h *Handler) setSubscriptionAttributes(w http.ResponseWriter, r *http.Request) {
	subArn := r.FormValue("SubscriptionArn")
	topicArn, err := topicArnFromSubscriptionArn(subArn)
	if err != nil {
		writeBusError(w, err)
		return
	}
	name, err := arnName(topicArn)
	if err != nil {
		writeBusError(w, err)
		return
	}
	t, err := h.Bus.GetTopic(name)
	if err != nil {
		writeBusError(w, err)
		return
	}
	attrName := r.FormValue("AttributeName")
	attrValue := r.FormValue("AttributeValue")
	if err := t.SetSubscriptionAttributes(subArn, attrName, attrValue); err != nil {
		writeBusError(w, err)
		return
	}
	writeAction(w, "SetSubscriptionAttributes", nil)
}

// --- Publish ---

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	name, err := h.topicNameFromArn(r)
	if err != nil {
		writeBusError(w, err)
		return
	}
	t, err := h.Bus.GetTopic(name)
	if err != nil {
		writeBusError(w, err)
		return
	}
	in := bus.PublishInput{
		Message:                r.FormValue("Message"),
		Subject:                r.FormValue("Subject"),
		Attributes:             messageAttributesFromForm(r.Form),
		MessageGroupID:         r.FormValue("MessageGroupId"),
		MessageDeduplicationID: r.FormValue("MessageDeduplicationId"),
	}
	res, err := t.Publish(in)
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeAction(w, "Publish", struct {
		XMLName   xml.Name `xml:"PublishResult"`
		MessageId string   `xml:"MessageId"`
	}{MessageId: res.MessageID})
}

func messageAttributesFromForm(form map[string][]string) map[string]bus.MessageAttributeValue {
	out := map[string]bus.MessageAttributeValue{}
	for i := 1; ; i++ {
		prefix := "MessageAttributes.entry." + strconv.Itoa(i)
		names, ok := form[prefix+".Name"]
		if !ok || len(names) == 0 {
			break
		}
		dataType := ""
		if vs, ok := form[prefix+".Value.DataType"]; ok && len(vs) > 0 {
			dataType = vs[0]
		}
		value := ""
		if vs, ok := form[prefix+".Value.StringValue"]; ok && len(vs) > 0 {
			value = vs[0]
		}
		out[names[0]] = bus.MessageAttributeValue{DataType: dataType, StringValue: value}
	}
	return out
}

func (h *Handler) publishBatch(w http.ResponseWriter, r *http.Request) {
	name, err := h.topicNameFromArn(r)
	if err != nil {
		writeBusError(w, err)
		return
	}
	t, err := h.Bus.GetTopic(name)
	if err != nil {
		writeBusError(w, err)
		return
	}

	var entries []bus.PublishBatchEntry
	for i := 1; ; i++ {
		prefix := "PublishBatchRequestEntries.member." + strconv.Itoa(i)
		ids, ok := r.Form[prefix+".Id"]
		if !ok || len(ids) == 0 {
			break
		}
		msgs := r.Form[prefix+".Message"]
		msg := ""
		if len(msgs) > 0 {
			msg = msgs[0]
		}
		entries = append(entries, bus.PublishBatchEntry{ID: ids[0], Input: bus.PublishInput{Message: msg}})
	}

	results, err := t.PublishBatch(entries)
	if err != nil {
		writeBusError(w, err)
		return
	}
	type successMember struct {
		Id        string `xml:"Id"`
		MessageId string `xml:"MessageId"`
	}
	type failedMember struct {
		Id      string `xml:"Id"`
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	}
	var successful []successMember
	var failed []failedMember
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, failedMember{Id: r.ID, Code: string(buserrors.CodeFor(r.Err)), Message: r.Err.Error()})
			continue
		}
		successful = append(successful, successMember{Id: r.ID, MessageId: r.MessageID})
	}
	writeAction(w, "PublishBatch", struct {
		XMLName    xml.Name `xml:"PublishBatchResult"`
		Successful struct {
			Member []successMember `xml:"member"`
		} `xml:"Successful"`
		Failed struct {
			Member []failedMember `xml:"member"`
		} `xml:"Failed"`
	}{
		Successful: struct {
			Member []successMember `xml:"member"`
		}{Member: successful},
		Failed: struct {
			Member []failedMember `xml:"member"`
		}{Member: failed},
	})
}

// --- Permissions ---

func (h *Handler) addPermission(w http.ResponseWriter, r *http.Request) {
	name, err := h.topicNameFromArn(r)
	if err != nil {
		writeBusError(w, err)
		return
	}
	t, err := h.Bus.GetTopic(name)
	if err != nil {
		writeBusError(w, err)
		return
	}
	label := r.FormValue("Label")
	stmt := bus.PolicyStatement{
		Effect:    "Allow",
		Principal: map[string]string{"AWS": r.FormValue("AWSAccountId.member.1")},
		Action:    "SNS:" + r.FormValue("ActionName.member.1"),
		Resource:  r.FormValue("TopicArn"),
	}
	if err := t.AddPermission(label, stmt); err != nil {
		writeBusError(w, err)
		return
	}
	writeAction(w, "AddPermission", nil)
}

func (h *Handler) removePermission(w http.ResponseWriter, r *http.Request) {
	name, err := h.topicNameFromArn(r)
	if err != nil {
		writeBusError(w, err)
		return
	}
	t, err := h.Bus.GetTopic(name)
	if err != nil {
		writeBusError(w, err)
		return
	}
	label := r.FormValue("Label")
	if err := t.RemovePermission(label); err != nil {
		writeBusError(w, err)
		return
	}
	writeAction(w, "RemovePermission", nil)
}

func (h *Handler) tagResource(w http.ResponseWriter, r *http.Request) {
	name, err := h.topicNameFromArn(r)
	if err != nil {
		writeBusError(w, err)
		return
	}
	t, err := h.Bus.GetTopic(name)
	if err != nil {
		writeBusError(w, err)
		return
	}
	tags := parseAttributes(r.Form, "Tags.member")
	t.SetTags(tags)
	writeAction(w, "TagResource", nil)
}

func arnName(a string) (string, error) {
	return bus.ParseArnName(a)
}

func topicArnFromSubscriptionArn(subArn string) (string, error) {
	return bus.TopicArnFromSubscriptionArn(subArn)
}
