// Package arn builds and parses the ARNs and queue URLs the bus emits,
// per spec §6 ("ARN and URL formats (emitted bit-exact)") and §4.4
// ("ARN parsing is last-colon-split into name").
package arn

import (
	"fmt"
	"strings"

	"github.com/go-ess/ess-queue-ess/internal/buserrors"
)

// Partition identifies the account/region/partition triple every resource
// ARN in this emulator is minted under.
type Partition struct {
	Partition string
	Region    string
	Account   string
}

// Queue returns the ARN for a queue named name.
func (p Partition) Queue(name string) string {
	return fmt.Sprintf("arn:%s:sqs:%s:%s:%s", p.Partition, p.Region, p.Account, name)
}

// Topic returns the ARN for a topic named name.
func (p Partition) Topic(name string) string {
	return fmt.Sprintf("arn:%s:sns:%s:%s:%s", p.Partition, p.Region, p.Account, name)
}

// QueueURL returns the HTTP URL a client would use to address the named
// queue, relative to the given service-URL base (e.g. "https://sqs.us-east-1.amazonaws.com").
func (p Partition) QueueURL(base, name string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), p.Account, name)
}

// Name last-colon-splits an ARN into its resource name, per §4.4. A
// malformed ARN (fewer than six colon-delimited segments) fails with
// InvalidParameter.
func Name(a string) (string, error) {
	idx := strings.LastIndex(a, ":")
	if idx < 0 || strings.Count(a, ":") < 5 {
		return "", buserrors.New(buserrors.CodeInvalidParameter, "malformed ARN %q", a)
	}
	return a[idx+1:], nil
}

// NameFromQueueURL extracts the queue name from a queue URL of the form
// <base>/<account>/<name>, or from a bare "/name" path as the teacher
// used before ARNs existed.
func NameFromQueueURL(queueURL string) (string, error) {
	trimmed := strings.TrimRight(queueURL, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "", buserrors.New(buserrors.CodeInvalidParameter, "malformed queue URL %q", queueURL)
	}
	name := trimmed[idx+1:]
	if name == "" {
		return "", buserrors.New(buserrors.CodeInvalidParameter, "malformed queue URL %q", queueURL)
	}
	return name, nil
}
