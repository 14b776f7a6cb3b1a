// Package rules implements deterministic pattern-matched mutation of
// in-flight traffic. Evaluation is pure over an immutable snapshot; writers
// publish a new snapshot.
package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/tidwall/match"

	"github.com/vsthakur101/webapi-moderator/flow"
)

// Match and action discriminators.
const (
	MatchURL    = "url"
	MatchHeader = "header"
	MatchBody   = "body"
	MatchMethod = "method"

	ActionReplace      = "replace"
	ActionAddHeader    = "add_header"
	ActionRemoveHeader = "remove_header"
	ActionBlock        = "block"

	ApplyRequest  = "request"
	ApplyResponse = "response"
	ApplyBoth     = "both"
)

// Phase selects which side of the flow a pass evaluates.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
)

// MaxEvaluations bounds rule evaluations per flow phase.
const MaxEvaluations = 100

// regexTimeout caps a single regex evaluation; overruns deactivate the
// rule for the flow instead of applying it.
const regexTimeout = 100 * time.Millisecond

// Rule is one mutation rule.
type Rule struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Enabled      bool   `json:"enabled"`
	Priority     int    `json:"priority"`
	MatchType    string `json:"match_type"`
	MatchPattern string `json:"match_pattern"`
	MatchRegex   bool   `json:"match_regex"`
	ActionType   string `json:"action_type"`
	ActionTarget string `json:"action_target"`
	ActionValue  string `json:"action_value"`
	ApplyTo      string `json:"apply_to"`
}

type compiledRule struct {
	Rule
	re *regexp2.Regexp
}

// Snapshot is an immutable, compiled, ordered rule set.
type Snapshot struct {
	rules []*compiledRule
}

// Mutation is one concrete change to apply to a flow.
type Mutation struct {
	RuleID string
	Action string // replace, add_header, remove_header
	Target string
	Value  string
	// Body holds the full replacement body for body-scoped replaces.
	Body []byte
	// header-scoped replaces carry the rewritten header set
	Headers flow.Header
	// URL-scoped replaces rewrite path+query
	Path  string
	Query string
}

// Result is the outcome of one evaluation pass.
type Result struct {
	Blocked     bool
	BlockRuleID string
	Mutations   []Mutation
	RuleErrors  []string
	Evaluations int
}

// Engine holds the active snapshot behind an atomic pointer so readers are
// lock-free.
type Engine struct {
	snap atomic.Pointer[Snapshot]
}

// NewEngine creates an Engine with an empty snapshot.
func NewEngine() *Engine {
	e := &Engine{}
	e.snap.Store(&Snapshot{})
	return e
}

// SetRules compiles and publishes a new snapshot. Rules whose regex fails
// to compile are skipped and reported.
func (e *Engine) SetRules(rs []Rule) []error {
	var errs []error
	compiled := make([]*compiledRule, 0, len(rs))
	for _, r := range rs {
		cr := &compiledRule{Rule: r}
		if r.MatchRegex {
			re, err := regexp2.Compile(r.MatchPattern, regexp2.RE2)
			if err != nil {
				errs = append(errs, fmt.Errorf("rule %s: %w", r.ID, err))
				continue
			}
			re.MatchTimeout = regexTimeout
			cr.re = re
		}
		compiled = append(compiled, cr)
	}

	// priority asc, stable tie-break by insertion order
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority < compiled[j].Priority
	})

	e.snap.Store(&Snapshot{rules: compiled})
	return errs
}

// Snapshot returns the current immutable rule set.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Evaluate runs the snapshot against a flow phase. It is pure: the flow is
// not mutated, the same inputs produce the same result.
func (e *Engine) Evaluate(f *flow.Flow, phase Phase) Result {
	return e.Snapshot().Evaluate(f, phase)
}

// Evaluate runs all applicable rules in order against the flow phase.
func (s *Snapshot) Evaluate(f *flow.Flow, phase Phase) Result {
	var res Result
	for _, r := range s.rules {
		if res.Evaluations >= MaxEvaluations {
			break
		}
		if !r.Enabled || !appliesTo(r.ApplyTo, phase) {
			continue
		}
		res.Evaluations++

		matched, err := r.matches(f, phase)
		if err != nil {
			res.RuleErrors = append(res.RuleErrors, fmt.Sprintf("rule %s: %v", r.ID, err))
			continue
		}
		if !matched {
			continue
		}

		if r.ActionType == ActionBlock {
			res.Blocked = true
			res.BlockRuleID = r.ID
			return res
		}

		m, err := r.mutation(f, phase)
		if err != nil {
			res.RuleErrors = append(res.RuleErrors, fmt.Sprintf("rule %s: %v", r.ID, err))
			continue
		}
		if m != nil {
			res.Mutations = append(res.Mutations, *m)
		}
	}
	return res
}

func appliesTo(applyTo string, phase Phase) bool {
	switch applyTo {
	case ApplyBoth, "":
		return true
	case ApplyRequest:
		return phase == PhaseRequest
	case ApplyResponse:
		return phase == PhaseResponse
	}
	return false
}

func (r *compiledRule) matches(f *flow.Flow, phase Phase) (bool, error) {
	switch r.MatchType {
	case MatchURL:
		return r.matchText(f.URL())
	case MatchMethod:
		return strings.EqualFold(f.Method, r.MatchPattern), nil
	case MatchHeader:
		headers := phaseHeaders(f, phase)
		for _, field := range headers {
			if r.MatchRegex {
				ok, err := r.matchRegex(field.Name + ": " + field.Value)
				if err != nil || ok {
					return ok, err
				}
			} else if strings.EqualFold(field.Name, r.MatchPattern) {
				return true, nil
			}
		}
		return false, nil
	case MatchBody:
		return r.matchText(string(phaseBody(f, phase)))
	}
	return false, fmt.Errorf("unknown match type %q", r.MatchType)
}

func (r *compiledRule) matchText(text string) (bool, error) {
	if r.MatchRegex {
		return r.matchRegex(text)
	}
	if strings.ContainsAny(r.MatchPattern, "*?") {
		return match.Match(text, r.MatchPattern), nil
	}
	return strings.Contains(text, r.MatchPattern), nil
}

func (r *compiledRule) matchRegex(text string) (bool, error) {
	ok, err := r.re.MatchString(text)
	if err != nil {
		// regexp2 reports timeouts as errors; treat as a rule error.
		return false, err
	}
	return ok, nil
}

func (r *compiledRule) mutation(f *flow.Flow, phase Phase) (*Mutation, error) {
	switch r.ActionType {
	case ActionAddHeader:
		return &Mutation{RuleID: r.ID, Action: ActionAddHeader, Target: r.ActionTarget, Value: r.ActionValue}, nil
	case ActionRemoveHeader:
		return &Mutation{RuleID: r.ID, Action: ActionRemoveHeader, Target: r.ActionTarget}, nil
	case ActionReplace:
		return r.replaceMutation(f, phase)
	}
	return nil, fmt.Errorf("unknown action type %q", r.ActionType)
}

// replaceMutation performs the textual replacement on the matched span.
// Header fields are never altered by body replaces.
func (r *compiledRule) replaceMutation(f *flow.Flow, phase Phase) (*Mutation, error) {
	switch r.MatchType {
	case MatchBody:
		body := string(phaseBody(f, phase))
		replaced, err := r.replaceText(body)
		if err != nil {
			return nil, err
		}
		if replaced == body {
			return nil, nil
		}
		return &Mutation{RuleID: r.ID, Action: ActionReplace, Body: []byte(replaced)}, nil
	case MatchURL:
		// replace applies to path?query; scheme/host are routing state
		target := f.Path
		if f.Query != "" {
			target += "?" + f.Query
		}
		replaced, err := r.replaceText(target)
		if err != nil {
			return nil, err
		}
		if replaced == target {
			return nil, nil
		}
		path, query, _ := strings.Cut(replaced, "?")
		return &Mutation{RuleID: r.ID, Action: ActionReplace, Path: path, Query: query}, nil
	case MatchHeader:
		headers := phaseHeaders(f, phase).Clone()
		changed := false
		for i, field := range headers {
			line := field.Name + ": " + field.Value
			var replaced string
			var err error
			if r.MatchRegex {
				replaced, err = r.re.Replace(line, r.ActionValue, -1, -1)
				if err != nil {
					return nil, err
				}
			} else if strings.EqualFold(field.Name, r.MatchPattern) {
				replaced = field.Name + ": " + r.ActionValue
			} else {
				continue
			}
			if replaced == line {
				continue
			}
			name, value, ok := strings.Cut(replaced, ":")
			if !ok {
				continue
			}
			headers[i] = flow.Field{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)}
			changed = true
		}
		if !changed {
			return nil, nil
		}
		return &Mutation{RuleID: r.ID, Action: ActionReplace, Headers: headers}, nil
	}
	return nil, nil
}

func (r *compiledRule) replaceText(text string) (string, error) {
	if r.MatchRegex {
		return r.re.Replace(text, r.ActionValue, -1, -1)
	}
	return strings.ReplaceAll(text, r.MatchPattern, r.ActionValue), nil
}

func phaseHeaders(f *flow.Flow, phase Phase) flow.Header {
	if phase == PhaseResponse {
		return f.ResponseHeaders
	}
	return f.RequestHeaders
}

func phaseBody(f *flow.Flow, phase Phase) []byte {
	if phase == PhaseResponse {
		return f.ResponseBody
	}
	return f.RequestBody
}

// Apply applies a result's mutations to the flow phase and reports whether
// anything changed.
func Apply(f *flow.Flow, phase Phase, res Result) bool {
	changed := false
	for _, m := range res.Mutations {
		switch m.Action {
		case ActionAddHeader:
			h := phaseHeadersPtr(f, phase)
			before := len(*h)
			h.Add(m.Target, m.Value)
			changed = changed || len(*h) != before
		case ActionRemoveHeader:
			h := phaseHeadersPtr(f, phase)
			before := len(*h)
			h.Del(m.Target)
			changed = changed || len(*h) != before
		case ActionReplace:
			switch {
			case m.Body != nil:
				if phase == PhaseResponse {
					f.ResponseBody = m.Body
				} else {
					f.RequestBody = m.Body
				}
				changed = true
			case m.Headers != nil:
				if phase == PhaseResponse {
					f.ResponseHeaders = m.Headers
				} else {
					f.RequestHeaders = m.Headers
				}
				changed = true
			case m.Path != "" || m.Query != "":
				f.Path = m.Path
				f.Query = m.Query
				changed = true
			}
		}
	}
	if changed {
		f.Modified = true
	}
	return changed
}

func phaseHeadersPtr(f *flow.Flow, phase Phase) *flow.Header {
	if phase == PhaseResponse {
		return &f.ResponseHeaders
	}
	return &f.RequestHeaders
}
