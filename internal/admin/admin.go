// Package admin is the read-only operator dashboard: a queue/topic
// summary API plus a small embedded HTML page, adapted from the
// teacher's admin handlers (spec §6 "nothing substantive" CLI/admin
// surface, generalized to also surface topics and move tasks).
package admin

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/go-ess/ess-queue-ess/internal/bus"
)

//go:embed admin.html
var dashboardHTML []byte

// Handler serves the admin dashboard and its JSON API.
type Handler struct {
	Bus *bus.Bus
}

func New(b *bus.Bus) *Handler { return &Handler{Bus: b} }

// Dashboard serves the static HTML shell; it fetches its data from API.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write(dashboardHTML)
}

type queueSummary struct {
	Name                  string `json:"name"`
	Arn                   string `json:"arn"`
	URL                   string `json:"url"`
	FIFO                  bool   `json:"fifo"`
	VisibleCount          int    `json:"visible_count"`
	NotVisibleCount       int    `json:"not_visible_count"`
	DelayedCount          int    `json:"delayed_count"`
	HasRedrivePolicy      bool   `json:"has_redrive_policy"`
	IsReferencedAsDLQ     bool   `json:"is_referenced_as_dlq"`
}

type topicSummary struct {
	Name              string `json:"name"`
	Arn               string `json:"arn"`
	SubscriptionCount int    `json:"subscription_count"`
}

type moveTaskSummary struct {
	TaskHandle     string `json:"task_handle"`
	SourceArn      string `json:"source_arn"`
	DestinationArn string `json:"destination_arn"`
	Status         string `json:"status"`
	Moved          int64  `json:"moved"`
	ToMove         int64  `json:"to_move"`
}

// API serves the JSON snapshot the dashboard polls.
func (h *Handler) API(w http.ResponseWriter, r *http.Request) {
	queues := h.Bus.ListQueues("")
	queueOut := make([]queueSummary, 0, len(queues))
	for _, q := range queues {
		visible, notVisible, delayed := q.ApproximateCounts()
		queueOut = append(queueOut, queueSummary{
			Name:              q.Name,
			Arn:               q.Arn,
			URL:               q.URL,
			FIFO:              q.FIFO,
			VisibleCount:      visible,
			NotVisibleCount:   notVisible,
			DelayedCount:      delayed,
			HasRedrivePolicy:  q.RedrivePolicy != nil,
			IsReferencedAsDLQ: q.IsReferencedAsDLQ(),
		})
	}

	topics := h.Bus.ListTopics()
	topicOut := make([]topicSummary, 0, len(topics))
	for _, t := range topics {
		topicOut = append(topicOut, topicSummary{Name: t.Name, Arn: t.Arn, SubscriptionCount: len(t.ListSubscriptions())})
	}

	tasks := h.Bus.ListMessageMoveTasks("")
	taskOut := make([]moveTaskSummary, 0, len(tasks))
	for _, t := range tasks {
		taskOut = append(taskOut, moveTaskSummary{
			TaskHandle:     t.TaskHandle,
			SourceArn:      t.SourceArn,
			DestinationArn: t.DestinationArn,
			Status:         string(t.Status()),
			Moved:          t.ApproximateMessagesMoved(),
			ToMove:         t.ApproximateMessagesToMove(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"queues":     queueOut,
		"topics":     topicOut,
		"move_tasks": taskOut,
	})
}

// Policy serves the usage tracker's generated least-privilege IAM
// policy document (internal/usage), net new relative to the teacher.
func (h *Handler) Policy(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Bus.Usage().IAMPolicyDocument()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

// Events serves the raw recorded API call log backing Policy, so an
// operator can see exactly which calls drove the generated policy.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.Bus.Usage().Events())
}
