// Package plugin holds the registry of named value providers referenced by
// payroll rules, plus the builtin providers computed purely from the
// evaluation context.
package plugin

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	"github.com/peoplemint/payroll/internal/formula"
)

// Source records where a resolved value came from, persisted alongside report
// rows for audit.
type Source struct {
	Value         float64 `json:"value"`
	VariableName  string  `json:"variable_name"`
	PluginName    string  `json:"plugin_name"`
	PluginVersion string  `json:"plugin_version,omitempty"`
	Detail        string  `json:"detail,omitempty"`
}

// Context is the read-only evaluation state a provider may consult. The
// closures are supplied by the calculator and stay nil for contexts that
// cannot answer them (package-amount runs, validation).
type Context struct {
	EmployeeID snowflake.ID

	SlotStart time.Time
	SlotEnd   time.Time
	FYStart   time.Time
	FYEnd     time.Time

	SlotDaysCount       int
	RemainingDaysInFY   int
	RemainingMonthsInFY int

	AnnualGross func() (decimal.Decimal, error)
	YTD         func() (decimal.Decimal, error)
}

// UnknownVariableError is raised when a rule references a token that is
// neither a heading variable nor a registered plugin.
type UnknownVariableError struct {
	Token string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown variable %s", e.Token)
}

// Provider resolves one registered token.
type Provider interface {
	Resolve(ctx Context, args []formula.Value) (formula.Value, []Source, error)
}

// Func adapts a function to the Provider interface.
type Func func(ctx Context, args []formula.Value) (formula.Value, []Source, error)

func (f Func) Resolve(ctx Context, args []formula.Value) (formula.Value, []Source, error) {
	return f(ctx, args)
}

type entry struct {
	provider Provider
	name     string
	version  string
}

// Registry maps variable tokens to providers. Safe for concurrent use;
// payroll runs across employees share one registry.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]entry
}

// NewRegistry returns a registry pre-populated with the builtin providers.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]entry)}
	registerBuiltins(r)
	return r
}

// Register installs a provider under an exact variable token, replacing any
// previous registration.
func (r *Registry) Register(token, name, version string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[token] = entry{provider: p, name: name, version: version}
}

// Has reports whether a provider is registered for the token.
func (r *Registry) Has(token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[token]
	return ok
}

// Resolve looks up the token and invokes its provider, stamping the provider
// identity onto the returned sources.
func (r *Registry) Resolve(token string, ctx Context, args []formula.Value) (formula.Value, []Source, error) {
	r.mu.RLock()
	e, ok := r.providers[token]
	r.mu.RUnlock()
	if !ok {
		return formula.Value{}, nil, &UnknownVariableError{Token: token}
	}

	value, sources, err := e.provider.Resolve(ctx, args)
	if err != nil {
		return formula.Value{}, nil, fmt.Errorf("plugin %s: %w", e.name, err)
	}
	if len(sources) == 0 && value.IsNumber() {
		f, _ := value.Number().Float64()
		sources = []Source{{Value: f, VariableName: token}}
	}
	for i := range sources {
		if sources[i].VariableName == "" {
			sources[i].VariableName = token
		}
		sources[i].PluginName = e.name
		sources[i].PluginVersion = e.version
	}
	return value, sources, nil
}
