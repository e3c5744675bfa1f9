package faas

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// TriggerKindTag discriminates the TriggerSpec union (§3).
type TriggerKindTag string

const (
	KindNewBlock             TriggerKindTag = "NewBlock"
	KindNewTransaction       TriggerKindTag = "NewTransaction"
	KindContractNotification TriggerKindTag = "ContractNotification"
	KindSchedule             TriggerKindTag = "Schedule"
	KindHTTP                 TriggerKindTag = "Http"
)

// TriggerSpec is the declared (kind, parameters, filter) a function is
// deployed with; TriggerSubscription is the persisted, registered form of
// one entry of Function.Triggers.
type TriggerSpec struct {
	Kind TriggerKindTag

	// ContractNotification fields.
	ContractHash string
	EventName    string // optional

	// Schedule fields.
	Cron string

	// Http fields.
	Path   string
	Method string

	Filter Filter
}

// FilterOperator is one comparison a FilterClause may apply.
type FilterOperator string

const (
	OpEq          FilterOperator = "eq"
	OpNe          FilterOperator = "ne"
	OpGt          FilterOperator = "gt"
	OpGe          FilterOperator = "ge"
	OpLt          FilterOperator = "lt"
	OpLe          FilterOperator = "le"
	OpIn          FilterOperator = "in"
	OpContains    FilterOperator = "contains"
	OpMatchesRgx  FilterOperator = "matches-regex"
)

// FilterClause is one (field-path, operator, literal) rule.
type FilterClause struct {
	FieldPath string
	Operator  FilterOperator
	Literal   interface{}
}

// Filter is a conjunction of FilterClauses: a subscription matches iff every
// clause is true (§4.1).
type Filter []FilterClause

// Hash returns a stable content hash used for the uniqueness constraint on
// (function-id, kind, filter-hash).
func (f Filter) Hash() string {
	b, _ := json.Marshal(f)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// TriggerSubscription is the persisted, registered form of a TriggerSpec
// bound to a function (§3).
type TriggerSubscription struct {
	ID         string
	FunctionID string
	Spec       TriggerSpec
}

// Key returns the uniqueness key (function-id, kind, filter-hash).
func (s TriggerSubscription) Key() string {
	return fmt.Sprintf("%s|%s|%s", s.FunctionID, s.Spec.Kind, s.Spec.Filter.Hash())
}

// Matches evaluates the subscription's filter and kind-specific constraints
// against an event payload expressed as a flat field map (dotted paths
// already resolved by the caller, e.g. ingest.Event.Fields()).
func (s TriggerSubscription) Matches(kind TriggerKindTag, fields map[string]interface{}) bool {
	if s.Spec.Kind != kind {
		return false
	}
	if kind == KindContractNotification {
		if s.Spec.ContractHash != "" && fmt.Sprint(fields["contract_hash"]) != s.Spec.ContractHash {
			return false
		}
		if s.Spec.EventName != "" && fmt.Sprint(fields["event_name"]) != s.Spec.EventName {
			return false
		}
	}
	for _, clause := range s.Spec.Filter {
		if !evalClause(clause, fields) {
			return false
		}
	}
	return true
}

func evalClause(c FilterClause, fields map[string]interface{}) bool {
	v, ok := fields[c.FieldPath]
	if !ok {
		return false
	}
	switch c.Operator {
	case OpEq:
		return fmt.Sprint(v) == fmt.Sprint(c.Literal)
	case OpNe:
		return fmt.Sprint(v) != fmt.Sprint(c.Literal)
	case OpGt, OpGe, OpLt, OpLe:
		return compareNumeric(v, c.Literal, c.Operator)
	case OpIn:
		lits, ok := c.Literal.([]interface{})
		if !ok {
			return false
		}
		for _, lit := range lits {
			if fmt.Sprint(lit) == fmt.Sprint(v) {
				return true
			}
		}
		return false
	case OpContains:
		s, ok := v.(string)
		if !ok {
			return false
		}
		sub := fmt.Sprint(c.Literal)
		return len(s) >= len(sub) && indexOf(s, sub) >= 0
	case OpMatchesRgx:
		re, err := regexp.Compile(fmt.Sprint(c.Literal))
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprint(v))
	default:
		return false
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func compareNumeric(v, lit interface{}, op FilterOperator) bool {
	a, aok := toFloat(v)
	b, bok := toFloat(lit)
	if !aok || !bok {
		return false
	}
	switch op {
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// SortSubscriptions orders subscriptions deterministically by ID, used when
// round-robin across functions needs a stable starting order.
func SortSubscriptions(subs []TriggerSubscription) {
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
}
