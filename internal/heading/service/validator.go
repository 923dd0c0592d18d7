package service

import (
	"fmt"

	"github.com/peoplemint/payroll/internal/formula"
	headingdomain "github.com/peoplemint/payroll/internal/heading/domain"
	"github.com/peoplemint/payroll/internal/plugin"
)

// ValidateHeadings checks a full organization heading set: every rule must
// parse, every referenced token must resolve to a heading or a registered
// plugin, the dependency graph must be acyclic, and headings feeding the tax
// base must be ordered before any tax deduction heading.
func ValidateHeadings(headings []headingdomain.Heading, plugins *plugin.Registry) error {
	byToken := make(map[string]headingdomain.Heading, len(headings))
	for _, h := range headings {
		byToken[h.VariableToken()] = h
	}

	deps := make(map[string][]string, len(headings))
	for _, h := range headings {
		rules, err := h.ParsedRules()
		if err != nil {
			return fmt.Errorf("heading %q: %w: %v", h.Name, headingdomain.ErrInvalidRules, err)
		}
		token := h.VariableToken()
		for idx, rule := range rules {
			for _, text := range []string{rule.Condition, rule.Rule} {
				if text == "" {
					continue
				}
				expr, err := formula.Parse(text)
				if err != nil {
					return fmt.Errorf("heading %q rule %d: %w: %v", h.Name, idx, headingdomain.ErrInvalidRules, err)
				}
				for _, ref := range formula.Vars(expr) {
					if _, ok := byToken[ref]; ok {
						deps[token] = append(deps[token], ref)
						continue
					}
					if plugins != nil && plugins.Has(ref) {
						continue
					}
					return fmt.Errorf("heading %q rule %d references %s: %w",
						h.Name, idx, ref, headingdomain.ErrUnknownDependency)
				}
				for _, call := range formula.CallNames(expr) {
					if plugins == nil || !plugins.Has(call) {
						return fmt.Errorf("heading %q rule %d calls %s: %w",
							h.Name, idx, call, headingdomain.ErrUnknownDependency)
					}
				}
			}
		}
	}

	if cycle := findCycle(deps, byToken); cycle != nil {
		return cycle
	}
	return validateTaxOrder(headings, deps, byToken)
}

// findCycle runs a depth-first search over the heading dependency graph and
// reports the first cycle by heading display names.
func findCycle(deps map[string][]string, byToken map[string]headingdomain.Heading) *headingdomain.CyclicDependencyError {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(deps))
	var stack []string

	var visit func(token string) *headingdomain.CyclicDependencyError
	visit = func(token string) *headingdomain.CyclicDependencyError {
		state[token] = inStack
		stack = append(stack, token)
		for _, dep := range deps[token] {
			switch state[dep] {
			case inStack:
				start := 0
				for i, t := range stack {
					if t == dep {
						start = i
						break
					}
				}
				names := make([]string, 0, len(stack)-start+1)
				for _, t := range stack[start:] {
					names = append(names, byToken[t].Name)
				}
				names = append(names, byToken[dep].Name)
				return &headingdomain.CyclicDependencyError{Cycle: names}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[token] = done
		return nil
	}

	for token := range deps {
		if state[token] == unvisited {
			if err := visit(token); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateTaxOrder rejects taxable headings ordered after a tax deduction
// heading; the tax base must be settled before tax evaluates.
func validateTaxOrder(headings []headingdomain.Heading, deps map[string][]string, byToken map[string]headingdomain.Heading) error {
	taxOrder := -1
	for _, h := range headings {
		if h.Type == headingdomain.TypeTaxDeduction && (taxOrder == -1 || h.Order < taxOrder) {
			taxOrder = h.Order
		}
	}
	if taxOrder == -1 {
		return nil
	}
	for _, h := range headings {
		if h.IsTaxable() && h.Order > taxOrder {
			return fmt.Errorf("heading %q (order %d) is taxable but ordered after tax deduction (order %d): %w",
				h.Name, h.Order, taxOrder, headingdomain.ErrTaxHeadingOrder)
		}
	}
	return nil
}
