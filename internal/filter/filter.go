// Package filter compiles an SNS subscription filter policy into a
// matcher built once at subscribe time (spec §9: "implement it as a
// precompiled matcher built at subscribe-time... rather than re-parsing
// on every publish"), then evaluates it against a publish's message
// attributes.
//
// The policy language supported is the literal-match subset spec §4.2
// calls out: JSON literal equality, "anything-but", "exists", numeric
// comparison operators, and prefix matching.
package filter

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/go-ess/ess-queue-ess/internal/buserrors"
)

// Attribute is the minimal shape of an SNS/SQS message attribute value
// the matcher needs to see.
type Attribute struct {
	DataType string // "String", "Number", "String.Array", "Binary"
	Value    string // raw string form; for String.Array, a JSON array literal
}

// Matcher is a compiled filter policy, safe for concurrent use by many
// publishes against the same subscription.
type Matcher struct {
	// raw is the parsed policy document (top-level attribute name -> list
	// of predicate JSON values, gjson-accessible without re-parsing on
	// every Match call).
	raw gjson.Result
	ok  bool
}

// Compile parses policyJSON once. An empty string compiles to a Matcher
// that matches everything (no filter policy set).
func Compile(policyJSON string) (*Matcher, error) {
	if strings.TrimSpace(policyJSON) == "" {
		return &Matcher{ok: false}, nil
	}
	parsed := gjson.Parse(policyJSON)
	if !parsed.IsObject() {
		return nil, buserrors.New(buserrors.CodeInvalidParameter, "filter policy must be a JSON object")
	}
	return &Matcher{raw: parsed, ok: true}, nil
}

// Match reports whether every top-level attribute named in the policy
// matches attrs, per spec §4.2 step 1 ("a message passes when every
// top-level attribute in the policy matches").
func (m *Matcher) Match(attrs map[string]Attribute) bool {
	if !m.ok {
		return true
	}
	matched := true
	m.raw.ForEach(func(key, predicates gjson.Result) bool {
		if !matchAttribute(predicates, attrs[key.String()], key.String() != "" && hasKey(attrs, key.String())) {
			matched = false
			return false
		}
		return true
	})
	return matched
}

func hasKey(attrs map[string]Attribute, key string) bool {
	_, ok := attrs[key]
	return ok
}

// matchAttribute evaluates one top-level policy entry (an array of
// predicates, OR'd together) against the (possibly absent) attribute.
func matchAttribute(predicates gjson.Result, attr Attribute, present bool) bool {
	if !predicates.IsArray() {
		return false
	}
	matchedAny := false
	predicates.ForEach(func(_, pred gjson.Result) bool {
		if matchPredicate(pred, attr, present) {
			matchedAny = true
			return false
		}
		return true
	})
	return matchedAny
}

func matchPredicate(pred gjson.Result, attr Attribute, present bool) bool {
	switch {
	case pred.IsObject():
		return matchOperator(pred, attr, present)
	case pred.Type == gjson.String:
		return present && valueMatchesLiteral(attr, pred.String())
	case pred.Type == gjson.Number:
		return present && numericEquals(attr, pred.Num)
	default:
		return false
	}
}

func matchOperator(pred gjson.Result, attr Attribute, present bool) bool {
	if exists := pred.Get("exists"); exists.Exists() {
		want := exists.Bool()
		return present == want
	}
	if anythingBut := pred.Get("anything-but"); anythingBut.Exists() {
		if !present {
			return false
		}
		if anythingBut.IsArray() {
			match := false
			anythingBut.ForEach(func(_, v gjson.Result) bool {
				if valueMatchesLiteral(attr, v.String()) {
					match = true
					return false
				}
				return true
			})
			return !match
		}
		return !valueMatchesLiteral(attr, anythingBut.String())
	}
	if prefix := pred.Get("prefix"); prefix.Exists() {
		return present && strings.HasPrefix(attr.Value, prefix.String())
	}
	if numeric := pred.Get("numeric"); numeric.Exists() && numeric.IsArray() {
		return present && matchNumeric(numeric, attr)
	}
	return false
}

// matchNumeric evaluates the [op, value, op, value, ...] operand array of
// a {"numeric": [...]} predicate, ANDing successive (operator, bound)
// pairs (AWS's range-predicate form).
func matchNumeric(numeric gjson.Result, attr Attribute) bool {
	n, err := strconv.ParseFloat(attr.Value, 64)
	if err != nil {
		return false
	}
	items := numeric.Array()
	if len(items) < 2 {
		return false
	}
	for i := 0; i+1 < len(items); i += 2 {
		op := items[i].String()
		bound := items[i+1].Float()
		if !compareNumeric(n, op, bound) {
			return false
		}
	}
	return true
}

func compareNumeric(n float64, op string, bound float64) bool {
	switch op {
	case "=":
		return n == bound
	case "!=":
		return n != bound
	case ">":
		return n > bound
	case ">=":
		return n >= bound
	case "<":
		return n < bound
	case "<=":
		return n <= bound
	default:
		return false
	}
}

func numericEquals(attr Attribute, want float64) bool {
	n, err := strconv.ParseFloat(attr.Value, 64)
	if err != nil {
		return false
	}
	return n == want
}

// valueMatchesLiteral compares a string literal from the policy against
// the attribute, handling String.Array attributes by checking membership.
func valueMatchesLiteral(attr Attribute, literal string) bool {
	if attr.DataType == "String.Array" {
		arr := gjson.Parse(attr.Value)
		match := false
		arr.ForEach(func(_, v gjson.Result) bool {
			if v.String() == literal {
				match = true
				return false
			}
			return true
		})
		return match
	}
	return attr.Value == literal
}
