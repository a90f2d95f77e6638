package bus

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/go-ess/ess-queue-ess/internal/arn"
	"github.com/go-ess/ess-queue-ess/internal/buserrors"
	"github.com/go-ess/ess-queue-ess/internal/filter"
)

// Subscription is one SNS subscription (spec §3 Subscription). Only the
// "sqs" protocol is supported; others are rejected at subscribe time.
type Subscription struct {
	SubscriptionArn string
	TopicArn        string
	Protocol        string
	Endpoint        string // queue ARN
	Raw             bool
	FilterPolicy    string

	matcher *filter.Matcher // compiled at subscribe time / SetSubscriptionAttributes
}

// Key implements pagination.Keyed.
func (s *Subscription) Key() string { return s.SubscriptionArn }

// planEntry is one (subscription, target queue) pair in a topic's
// compiled PublishPlan (spec §4.2).
type planEntry struct {
	sub   *Subscription
	queue *Queue
}

// Topic is TopicCore: a topic's attributes plus its compiled fan-out
// plan (spec §4.2).
type Topic struct {
	Name                  string
	Arn                   string
	DisplayName           string
	Policy                string
	Attributes            map[string]string
	Tags                  map[string]string
	CreatedTimestamp      time.Time
	LastModifiedTimestamp time.Time

	mu            sync.RWMutex
	subscriptions map[string]*Subscription // subscriptionArn -> subscription
	plan          atomic.Pointer[[]planEntry]

	bus *Bus
}

// Key implements pagination.Keyed.
func (t *Topic) Key() string { return t.Name }

func newTopic(b *Bus, name string, part arn.Partition, attrs map[string]string) *Topic {
	t := &Topic{
		Name:                  name,
		Arn:                   part.Topic(name),
		Attributes:            map[string]string{},
		Tags:                  map[string]string{},
		CreatedTimestamp:      b.clockSource.Now(),
		LastModifiedTimestamp: b.clockSource.Now(),
		subscriptions:         map[string]*Subscription{},
		bus:                   b,
	}
	for k, v := range attrs {
		t.Attributes[k] = v
		if k == "DisplayName" {
			t.DisplayName = v
		}
	}
	empty := []planEntry{}
	t.plan.Store(&empty)
	return t
}

// CreateTopic implements spec §4.2's topic half of §4.1.1-style
// create-or-return semantics.
func (b *Bus) CreateTopic(name string, attrs map[string]string) (t *Topic, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() { b.recordUsage("sns", "CreateTopic", b.arnPartition.Topic(name), err) }()

	if existing, ok := b.topics[name]; ok {
		return existing, nil
	}
	t = newTopic(b, name, b.arnPartition, attrs)
	b.topics[name] = t
	return t, nil
}

// GetTopic looks up a topic by name.
func (b *Bus) GetTopic(name string) (*Topic, error) {
	b.mu.RLock()
	t, ok := b.topics[name]
	b.mu.RUnlock()
	if !ok {
		return nil, buserrors.New(buserrors.CodeTopicNotFound, "topic %q does not exist", name)
	}
	return t, nil
}

// DeleteTopic implements spec §4.2's delete: all subscriptions are
// destroyed along with the topic (spec §3 Subscription lifecycle).
func (b *Bus) DeleteTopic(name string) (err error) {
	defer func() { b.recordUsage("sns", "DeleteTopic", b.arnPartition.Topic(name), err) }()

	b.mu.Lock()
	t, ok := b.topics[name]
	if !ok {
		b.mu.Unlock()
		return buserrors.New(buserrors.CodeTopicNotFound, "topic %q does not exist", name)
	}
	delete(b.topics, name)
	b.mu.Unlock()

	t.mu.Lock()
	t.subscriptions = map[string]*Subscription{}
	t.mu.Unlock()
	return nil
}

// ListTopics returns every topic, ordered by name by the caller via
// pagination.Page.
func (b *Bus) ListTopics() []*Topic {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Topic, 0, len(b.topics))
	for _, t := range b.topics {
		out = append(out, t)
	}
	return out
}

// Subscribe implements spec §3 Subscription creation: only protocol
// "sqs" is accepted, the endpoint must be a resolvable queue ARN, and
// the filter policy (if any) is compiled once up front.
func (t *Topic) Subscribe(protocol, endpoint, filterPolicyJSON string, raw bool) (sub *Subscription, err error) {
	defer func() { t.bus.recordUsage("sns", "Subscribe", t.Arn, err) }()

	if protocol != "sqs" {
		return nil, buserrors.New(buserrors.CodeInvalidParameter, "unsupported subscription protocol %q", protocol)
	}
	queueName, err := arn.Name(endpoint)
	if err != nil {
		return nil, err
	}
	if _, ok := t.bus.lookupQueueByName(queueName); !ok {
		return nil, buserrors.New(buserrors.CodeInvalidParameter, "subscription endpoint %q does not exist", endpoint)
	}

	sub = &Subscription{
		SubscriptionArn: t.Arn + ":" + uuid.New().String(),
		TopicArn:        t.Arn,
		Protocol:        protocol,
		Endpoint:        endpoint,
		Raw:             raw,
	}
	if filterPolicyJSON != "" {
		m, err := filter.Compile(filterPolicyJSON)
		if err != nil {
			return nil, err
		}
		sub.FilterPolicy = filterPolicyJSON
		sub.matcher = m
	}

	t.mu.Lock()
	t.subscriptions[sub.SubscriptionArn] = sub
	t.mu.Unlock()

	t.rebuildPlan()
	return sub, nil
}

// Unsubscribe implements spec §3: removing a subscription invalidates
// any existing plan that references it, forcing a rebuild.
func (t *Topic) Unsubscribe(subscriptionArn string) (err error) {
	defer func() { t.bus.recordUsage("sns", "Unsubscribe", subscriptionArn, err) }()

	t.mu.Lock()
	if _, ok := t.subscriptions[subscriptionArn]; !ok {
		t.mu.Unlock()
		return buserrors.New(buserrors.CodeSubscriptionNotFound, "subscription %q does not exist", subscriptionArn)
	}
	delete(t.subscriptions, subscriptionArn)
	t.mu.Unlock()

	t.rebuildPlan()
	return nil
}

// GetSubscription looks up a subscription by ARN.
func (t *Topic) GetSubscription(subscriptionArn string) (*Subscription, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sub, ok := t.subscriptions[subscriptionArn]
	if !ok {
		return nil, buserrors.New(buserrors.CodeSubscriptionNotFound, "subscription %q does not exist", subscriptionArn)
	}
	return sub, nil
}

// ListSubscriptions returns every subscription on this topic.
func (t *Topic) ListSubscriptions() []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Subscription, 0, len(t.subscriptions))
	for _, s := range t.subscriptions {
		out = append(out, s)
	}
	return out
}

// SetSubscriptionAttributes updates RawMessageDelivery or FilterPolicy
// on an existing subscription, recompiling the matcher and forcing a
// plan rebuild (spec §4.2 Filter-policy evaluation note).
func (t *Topic) SetSubscriptionAttributes(subscriptionArn, name, value string) error {
	t.mu.Lock()
	sub, ok := t.subscriptions[subscriptionArn]
	if !ok {
		t.mu.Unlock()
		return buserrors.New(buserrors.CodeSubscriptionNotFound, "subscription %q does not exist", subscriptionArn)
	}
	switch name {
	case "RawMessageDelivery":
		sub.Raw = value == "true"
	case "FilterPolicy":
		if value == "" {
			sub.FilterPolicy = ""
			sub.matcher = nil
		} else {
			m, err := filter.Compile(value)
			if err != nil {
				t.mu.Unlock()
				return err
			}
			sub.FilterPolicy = value
			sub.matcher = m
		}
	default:
		t.mu.Unlock()
		return buserrors.New(buserrors.CodeInvalidParameter, "unsupported subscription attribute %q", name)
	}
	t.mu.Unlock()

	t.rebuildPlan()
	return nil
}

// rebuildPlan recomputes the topic's PublishPlan: an immutable
// snapshot swapped in via a single atomic pointer so publish never
// blocks on subscribe/unsubscribe (spec §4.2, §9's REDESIGN note on
// atomic-pointer plan publication).
func (t *Topic) rebuildPlan() {
	t.mu.RLock()
	subs := make([]*Subscription, 0, len(t.subscriptions))
	for _, s := range t.subscriptions {
		subs = append(subs, s)
	}
	t.mu.RUnlock()

	entries := make([]planEntry, 0, len(subs))
	for _, sub := range subs {
		queueName, err := arn.Name(sub.Endpoint)
		if err != nil {
			continue
		}
		q, ok := t.bus.lookupQueueByName(queueName)
		if !ok {
			continue // stale endpoint; publish simply skips it
		}
		entries = append(entries, planEntry{sub: sub, queue: q})
	}
	t.plan.Store(&entries)
}

// RebuildPlanIfStale recomputes the plan on demand. Nothing in the bus
// calls it: CreateQueue and DeleteQueue do not rebuild any topic's plan,
// which is rebuilt only on Subscribe, Unsubscribe and
// SetSubscriptionAttributes. Publish resolves each plan entry's queue by
// name at delivery time, so a queue deleted since the last rebuild is
// skipped; an entry dropped by a rebuild while its queue was missing
// stays out of the plan until the next rebuild.
func (t *Topic) RebuildPlanIfStale() { t.rebuildPlan() }

// SetAttributes merges topic attributes, tracking DisplayName and
// Policy in their dedicated fields like Queue.SetAttributes does.
func (t *Topic) SetAttributes(attrs map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range attrs {
		switch k {
		case "DisplayName":
			t.DisplayName = v
			t.Attributes[k] = v
		case "Policy":
			t.Policy = v
		default:
			t.Attributes[k] = v
		}
	}
	t.LastModifiedTimestamp = t.bus.clockSource.Now()
	return nil
}

// SetTags merges the given key/value pairs into the topic's tags, under
// t.mu like every other piece of mutable topic state.
func (t *Topic) SetTags(tags map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range tags {
		t.Tags[k] = v
	}
}

// RemoveTags deletes the given keys from the topic's tags.
func (t *Topic) RemoveTags(keys []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range keys {
		delete(t.Tags, k)
	}
}

// TagsSnapshot returns a copy of the topic's current tags.
func (t *Topic) TagsSnapshot() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.Tags))
	for k, v := range t.Tags {
		out[k] = v
	}
	return out
}

// PolicyStatement is one statement of a topic's permission Policy
// document (spec §4.2 Permissions).
type PolicyStatement struct {
	Sid       string      `json:"Sid"`
	Effect    string      `json:"Effect"`
	Principal interface{} `json:"Principal"`
	Action    interface{} `json:"Action"`
	Resource  interface{} `json:"Resource"`
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []PolicyStatement `json:"Statement"`
}

// AddPermission appends a statement keyed by Sid=label, rejecting
// duplicate labels (spec §4.2 Permissions).
func (t *Topic) AddPermission(label string, stmt PolicyStatement) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc := t.decodePolicyLocked()
	for _, s := range doc.Statement {
		if s.Sid == label {
			return buserrors.New(buserrors.CodeInvalidParameter, "permission label %q already exists", label)
		}
	}
	stmt.Sid = label
	doc.Statement = append(doc.Statement, stmt)
	return t.encodePolicyLocked(doc)
}

// RemovePermission removes the statement with the given Sid, deleting
// the Policy attribute entirely once no statements remain.
func (t *Topic) RemovePermission(label string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc := t.decodePolicyLocked()
	idx := -1
	for i, s := range doc.Statement {
		if s.Sid == label {
			idx = i
			break
		}
	}
	if idx < 0 {
		return buserrors.New(buserrors.CodeInvalidParameter, "permission label %q does not exist", label)
	}
	doc.Statement = append(doc.Statement[:idx], doc.Statement[idx+1:]...)
	if len(doc.Statement) == 0 {
		t.Policy = ""
		return nil
	}
	return t.encodePolicyLocked(doc)
}

func (t *Topic) decodePolicyLocked() policyDocument {
	doc := policyDocument{Version: "2008-10-17"}
	if t.Policy == "" {
		return doc
	}
	_ = json.Unmarshal([]byte(t.Policy), &doc)
	return doc
}

func (t *Topic) encodePolicyLocked(doc policyDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return buserrors.New(buserrors.CodeInternalError, "failed to encode policy: %v", err)
	}
	t.Policy = string(raw)
	return nil
}
