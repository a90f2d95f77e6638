// Package pagination implements the deterministic-order, opaque-token
// pagination shared by every bus list operation (spec §2 PaginatedList,
// §4.4 "List operations sort deterministically... before pagination").
package pagination

import (
	"encoding/base64"
	"sort"

	"github.com/go-ess/ess-queue-ess/internal/buserrors"
)

// Keyed is anything that can be sorted and paginated by a natural string key.
type Keyed interface {
	Key() string
}

// Page runs a stable sort of items by Key, then returns the slice of items
// starting just after token (empty token means "from the start"), up to
// maxItems long, plus a continuation token for the next page (empty when
// the list is exhausted).
func Page[T Keyed](items []T, token string, maxItems int) ([]T, string, error) {
	sorted := append([]T(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key() < sorted[j].Key() })

	start := 0
	if token != "" {
		after, err := decode(token)
		if err != nil {
			return nil, "", err
		}
		start = sort.Search(len(sorted), func(i int) bool { return sorted[i].Key() > after })
	}

	if maxItems <= 0 {
		maxItems = len(sorted)
	}

	end := start + maxItems
	if end > len(sorted) {
		end = len(sorted)
	}
	if start > len(sorted) {
		start = len(sorted)
	}

	page := sorted[start:end]

	var next string
	if end < len(sorted) {
		next = encode(page[len(page)-1].Key())
	}
	return page, next, nil
}

func encode(key string) string {
	return base64.URLEncoding.EncodeToString([]byte(key))
}

func decode(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", buserrors.New(buserrors.CodeInvalidParameter, "malformed continuation token")
	}
	return string(raw), nil
}
