// Package progress extracts epoch progress and metrics from training output.
//
// Parsing is driven by a table of rules. Every rule is tried on every line,
// so a single line may produce several events. The parser holds no state
// between lines.
package progress

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/CZERTAINLY/Trainer/internal/model"
)

const number = `([-+]?[\d.]+(?:[eE][-+]?\d+)?)`

// Rule matches one kind of fact in a line.
//
// A metric rule reports the group named value, or the first group. The
// metric is named after the group called name when the pattern has one and
// it matched, otherwise after the rule.
//
// An epoch rule reports the groups named current and total, or the first two
// groups.
type Rule struct {
	Name    string
	Kind    string
	Pattern *regexp.Regexp

	value, name    int
	current, total int
}

// NewRule compiles pattern and checks it has the groups its kind needs.
func NewRule(name, kind, pattern string) (Rule, error) {
	if kind == "" {
		kind = model.RuleKindMetric
	}
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", name, err)
	}
	r := Rule{
		Name:    name,
		Kind:    kind,
		Pattern: rx,
		name:    rx.SubexpIndex("name"),
	}
	switch kind {
	case model.RuleKindMetric:
		if name == "" && r.name < 0 {
			return Rule{}, errors.New("metric rule without a name needs a name group")
		}
		r.value = group(rx, "value", 1)
		if r.value < 0 {
			return Rule{}, fmt.Errorf("rule %s: pattern %q has no value group", name, pattern)
		}
	case model.RuleKindEpoch:
		r.current = group(rx, "current", 1)
		r.total = group(rx, "total", 2)
		if r.current < 0 || r.total < 0 {
			return Rule{}, fmt.Errorf("rule %s: pattern %q needs current and total groups", name, pattern)
		}
	default:
		return Rule{}, fmt.Errorf("rule %s: unsupported kind %q", name, kind)
	}
	return r, nil
}

func MustRule(name, kind, pattern string) Rule {
	r, err := NewRule(name, kind, pattern)
	if err != nil {
		panic(err)
	}
	return r
}

func group(rx *regexp.Regexp, named string, positional int) int {
	if i := rx.SubexpIndex(named); i > 0 {
		return i
	}
	if rx.NumSubexp() >= positional {
		return positional
	}
	return -1
}

// metric builds a case insensitive rule for "label: number". The label may
// end a longer name, box_loss reports loss.
func metric(label string) Rule {
	return MustRule(label, model.RuleKindMetric, `(?i)`+regexp.QuoteMeta(label)+`\s*:\s*`+number)
}

// DefaultRules returns the built-in rule table in matching order.
func DefaultRules() []Rule {
	return []Rule{
		MustRule("epoch", model.RuleKindEpoch, `(?i)\bepoch\s+(\d+)\s*(?:/|of)\s*(\d+)`),
		metric("loss"),
		metric("precision"),
		metric("recall"),
		metric("mAP50"),
		metric("mAP50-95"),
	}
}

// Parser applies the rules to lines.
type Parser struct {
	rules []Rule
}

func New(rules ...Rule) *Parser {
	return &Parser{rules: append([]Rule(nil), rules...)}
}

// Default returns a Parser with DefaultRules.
func Default() *Parser {
	return New(DefaultRules()...)
}

// FromConfig appends the configured rules to the built-in ones, or replaces
// them when cfg.Replace is set. A nil cfg yields the default parser.
func FromConfig(cfg *model.Parser) (*Parser, error) {
	if cfg == nil {
		return Default(), nil
	}
	var rules []Rule
	if !cfg.Replace {
		rules = DefaultRules()
	}
	var errs []error
	for _, c := range cfg.Rules {
		r, err := NewRule(c.Name, c.Kind, c.Pattern)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return New(rules...), nil
}

func (p *Parser) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

// Parse returns the events found in text, in rule order. A rule whose match
// does not hold a valid number is skipped. Parse never fails.
func (p *Parser) Parse(text string) []model.ProgressEvent {
	var ret []model.ProgressEvent
	for _, r := range p.rules {
		m := r.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if e, ok := r.event(m); ok {
			ret = append(ret, e)
		}
	}
	return ret
}

func (r Rule) event(m []string) (model.ProgressEvent, bool) {
	switch r.Kind {
	case model.RuleKindEpoch:
		current, err := strconv.Atoi(m[r.current])
		if err != nil {
			return model.ProgressEvent{}, false
		}
		total, err := strconv.Atoi(m[r.total])
		if err != nil {
			return model.ProgressEvent{}, false
		}
		if current <= 0 || total <= 0 || current > total {
			return model.ProgressEvent{}, false
		}
		return model.Epoch(current, total), true
	default:
		v, err := strconv.ParseFloat(m[r.value], 64)
		if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
			return model.ProgressEvent{}, false
		}
		name := r.Name
		if r.name > 0 && m[r.name] != "" {
			name = m[r.name]
		}
		return model.Metric(name, v), true
	}
}
