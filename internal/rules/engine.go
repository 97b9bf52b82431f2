package rules

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ruleSet is an immutable snapshot of the registered rules. Mutating
// operations build a new set and swap the pointer, so Evaluate never
// takes a lock.
type ruleSet struct {
	rules    []Rule
	compiled map[string][]compiledCondition
}

var emptySet = &ruleSet{compiled: map[string][]compiledCondition{}}

// Engine holds the registered rules and matches events against them.
// Writers serialise on mu; readers load the current snapshot.
type Engine struct {
	mu          sync.Mutex
	snap        atomic.Pointer[ruleSet]
	actionTypes map[string]bool
}

// NewEngine creates an empty engine. actionTypes is the set of action
// type names the dispatcher can execute; rules referencing anything
// else are rejected at registration.
func NewEngine(actionTypes []string) *Engine {
	e := &Engine{actionTypes: make(map[string]bool, len(actionTypes))}
	for _, t := range actionTypes {
		e.actionTypes[t] = true
	}
	e.snap.Store(emptySet)
	return e
}

// validate checks a rule's structure and compiles its conditions.
func (e *Engine) validate(r Rule) ([]compiledCondition, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("rule name must not be empty")
	}
	switch r.Combinator {
	case "", CombinatorAnd, CombinatorOr:
	default:
		return nil, fmt.Errorf("rule %q: unknown combinator %q", r.Name, r.Combinator)
	}
	if len(r.Conditions) == 0 {
		return nil, fmt.Errorf("rule %q has no conditions", r.Name)
	}
	if len(r.Actions) == 0 {
		return nil, fmt.Errorf("rule %q has no actions", r.Name)
	}
	for _, a := range r.Actions {
		if !e.actionTypes[a.Type] {
			return nil, fmt.Errorf("rule %q: unknown action type %q", r.Name, a.Type)
		}
	}

	compiled := make([]compiledCondition, len(r.Conditions))
	for i, c := range r.Conditions {
		cc, err := compileCondition(c)
		if err != nil {
			return nil, fmt.Errorf("rule %q condition %d: %w", r.Name, i, err)
		}
		compiled[i] = cc
	}
	return compiled, nil
}

// Upsert adds a rule, or replaces the existing rule with the same ID.
// A rule without an ID is assigned one; the stored rule is returned.
func (e *Engine) Upsert(r Rule) (Rule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	compiled, err := e.validate(r)
	if err != nil {
		return Rule{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.snap.Load()
	next := &ruleSet{
		rules:    make([]Rule, 0, len(old.rules)+1),
		compiled: make(map[string][]compiledCondition, len(old.compiled)+1),
	}
	replaced := false
	for _, existing := range old.rules {
		if existing.ID == r.ID {
			next.rules = append(next.rules, r)
			replaced = true
			continue
		}
		next.rules = append(next.rules, existing)
		next.compiled[existing.ID] = old.compiled[existing.ID]
	}
	if !replaced {
		next.rules = append(next.rules, r)
	}
	next.compiled[r.ID] = compiled

	e.snap.Store(next)
	return r, nil
}

// Replace swaps the entire rule set atomically. Either every rule
// validates and the set is installed, or nothing changes.
func (e *Engine) Replace(rules []Rule) error {
	next := &ruleSet{
		rules:    make([]Rule, len(rules)),
		compiled: make(map[string][]compiledCondition, len(rules)),
	}
	for i, r := range rules {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		compiled, err := e.validate(r)
		if err != nil {
			return err
		}
		if _, dup := next.compiled[r.ID]; dup {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		next.rules[i] = r
		next.compiled[r.ID] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.Store(next)
	return nil
}

// Delete removes a rule by ID. Returns false if the ID is unknown.
func (e *Engine) Delete(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.snap.Load()
	if _, ok := old.compiled[id]; !ok {
		return false
	}
	next := &ruleSet{
		rules:    make([]Rule, 0, len(old.rules)-1),
		compiled: make(map[string][]compiledCondition, len(old.compiled)-1),
	}
	for _, r := range old.rules {
		if r.ID == id {
			continue
		}
		next.rules = append(next.rules, r)
		next.compiled[r.ID] = old.compiled[r.ID]
	}
	e.snap.Store(next)
	return true
}

// SetEnabled flips a rule's enabled flag without revalidating it.
// Returns false if the ID is unknown.
func (e *Engine) SetEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.snap.Load()
	if _, ok := old.compiled[id]; !ok {
		return false
	}
	next := &ruleSet{
		rules:    make([]Rule, len(old.rules)),
		compiled: old.compiled,
	}
	copy(next.rules, old.rules)
	for i := range next.rules {
		if next.rules[i].ID == id {
			next.rules[i].Enabled = enabled
		}
	}
	e.snap.Store(next)
	return true
}

// Get returns the rule with the given ID.
func (e *Engine) Get(id string) (Rule, bool) {
	for _, r := range e.snap.Load().rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns a copy of the registered rules, sorted by name.
func (e *Engine) Rules() []Rule {
	snap := e.snap.Load()
	out := make([]Rule, len(snap.rules))
	copy(out, snap.rules)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Evaluate matches an event context against every enabled rule and
// returns the rules that matched. The context is a flat field map as
// produced by EventContext.
func (e *Engine) Evaluate(ctx map[string]any) []Rule {
	snap := e.snap.Load()

	var matched []Rule
	for _, r := range snap.rules {
		if !r.Enabled {
			continue
		}
		if evalConditions(snap.compiled[r.ID], r.Combinator, ctx) {
			matched = append(matched, r)
		}
	}
	return matched
}

func evalConditions(conds []compiledCondition, combinator string, ctx map[string]any) bool {
	if combinator == CombinatorOr {
		for _, c := range conds {
			v, ok := ctx[c.field]
			if c.eval(v, ok) {
				return true
			}
		}
		return false
	}
	for _, c := range conds {
		v, ok := ctx[c.field]
		if !c.eval(v, ok) {
			return false
		}
	}
	return true
}
