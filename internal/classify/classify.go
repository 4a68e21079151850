// Package classify maps a normalized incident to a category and a
// runbook ID via an ordered set of deterministic rules. No semantic
// guessing: when nothing matches, the outcome is Unclassified and the
// incident goes to the human-review queue.
package classify

import (
	"strings"

	"github.com/soarhq/riposte/internal/model"
)

// Result is the classifier outcome. Unclassified is a first-class
// result, not an error.
type Result struct {
	Classified bool   `json:"classified"`
	Category   string `json:"category,omitempty"`
	RunbookID  string `json:"runbook_id,omitempty"`
	RuleID     string `json:"rule_id,omitempty"`
	Reason     string `json:"reason"`
}

// Classifier applies ordered rules in three stages: exact, pattern,
// then hint fallback. Within a stage, declaration order breaks ties.
type Classifier struct {
	exact   []Rule
	pattern []Rule
	hint    []Rule
}

// New builds a classifier from an ordered rule list, partitioning by
// stage while preserving declaration order within each.
func New(rules []Rule) *Classifier {
	c := &Classifier{}
	for _, r := range rules {
		switch r.Kind {
		case KindExact:
			c.exact = append(c.exact, r)
		case KindPattern:
			c.pattern = append(c.pattern, r)
		case KindHint:
			c.hint = append(c.hint, r)
		}
	}
	return c
}

// Classify returns the first matching rule's category and runbook.
// Malformed events (missing id or target asset) short-circuit to
// Unclassified — classification must never crash on bad input.
func (c *Classifier) Classify(ev *model.IncidentEvent) Result {
	if ev == nil || ev.ID == "" {
		return Result{Reason: "malformed event: missing id"}
	}
	if ev.TargetAsset.IsZero() {
		return Result{Reason: "malformed event: missing target asset"}
	}

	for _, r := range c.exact {
		if fieldValue(ev, r.Field) == r.Equals {
			return matched(r)
		}
	}
	for _, r := range c.pattern {
		if matchGlob(r.Pattern, fieldValue(ev, r.Field)) {
			return matched(r)
		}
	}
	for _, r := range c.hint {
		if strings.EqualFold(fieldValue(ev, r.Field), r.Equals) {
			return matched(r)
		}
	}

	return Result{Reason: "no rule matched"}
}

func matched(r Rule) Result {
	return Result{
		Classified: true,
		Category:   r.Category,
		RunbookID:  r.Runbook,
		RuleID:     r.ID,
		Reason:     "rule " + r.ID,
	}
}

// fieldValue extracts the rule's field from the event. Unknown fields
// yield "" and therefore never match.
func fieldValue(ev *model.IncidentEvent, field string) string {
	switch field {
	case "source":
		return ev.Source
	case "category_hint":
		return ev.CategoryHint
	case "severity":
		return string(ev.Severity)
	case "target_type":
		return string(ev.TargetAsset.Type)
	case "target_value":
		return ev.TargetAsset.Value
	}
	if key, ok := strings.CutPrefix(field, "attr:"); ok {
		return ev.Attr(key)
	}
	return ""
}
