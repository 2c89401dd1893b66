package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"confirmgate/internal/declaration"
	"confirmgate/internal/events"
	"confirmgate/internal/platform/config"
	"confirmgate/internal/verification"
)

// EventPolicy is the compiled REGISTER policy for one event type.
type EventPolicy struct {
	Roles    []string
	Required []string
	Verify   *verification.Policy
	Forward  *verification.Policy
	Defer    *verification.Policy
}

// Snapshot is an immutable, compiled view of the rules. A confirmation
// reads one snapshot at entry and uses it throughout.
type Snapshot struct {
	Version  int64
	Registry *declaration.Registry
	Events   map[events.EventType]EventPolicy
}

// Policy returns the policy for t. Unknown event types get an empty policy.
func (s *Snapshot) Policy(t events.EventType) EventPolicy {
	return s.Events[t]
}

// Compile builds a snapshot from raw rules.
func Compile(rules config.RulesConfig, version int64) (*Snapshot, error) {
	registry, err := declaration.NewRegistry(rules.Fields)
	if err != nil {
		return nil, fmt.Errorf("field registry: %w", err)
	}
	snap := &Snapshot{
		Version:  version,
		Registry: registry,
		Events:   make(map[events.EventType]EventPolicy, len(rules.Events)),
	}
	for name, ev := range rules.Events {
		for _, path := range ev.Required {
			if _, ok := registry.Lookup(path); !ok {
				return nil, fmt.Errorf("event %s: required field %s is not registered", name, path)
			}
		}
		policy := EventPolicy{
			Roles:    append([]string(nil), ev.Roles...),
			Required: append([]string(nil), ev.Required...),
		}
		if policy.Verify, err = verification.CompilePolicy(ev.VerifyWhen); err != nil {
			return nil, fmt.Errorf("event %s verify_when: %w", name, err)
		}
		if policy.Forward, err = verification.CompilePolicy(ev.ForwardWhen); err != nil {
			return nil, fmt.Errorf("event %s forward_when: %w", name, err)
		}
		if policy.Defer, err = verification.CompilePolicy(ev.DeferWhen); err != nil {
			return nil, fmt.Errorf("event %s defer_when: %w", name, err)
		}
		snap.Events[events.EventType(name)] = policy
	}
	return snap, nil
}

// RuleSet holds the current snapshot and swaps it on reload.
type RuleSet struct {
	load    func() (config.RulesConfig, error)
	current atomic.Pointer[Snapshot]
	version atomic.Int64
	logger  *slog.Logger
}

// NewRuleSet loads and compiles the first snapshot.
func NewRuleSet(load func() (config.RulesConfig, error), logger *slog.Logger) (*RuleSet, error) {
	if load == nil {
		return nil, fmt.Errorf("rules loader is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	rs := &RuleSet{load: load, logger: logger}
	if err := rs.Reload(context.Background()); err != nil {
		return nil, err
	}
	return rs, nil
}

func (rs *RuleSet) Current() *Snapshot {
	return rs.current.Load()
}

// Reload compiles fresh rules and swaps them in. On failure the previous
// snapshot stays current.
func (rs *RuleSet) Reload(ctx context.Context) error {
	raw, err := rs.load()
	if err != nil {
		rs.logger.ErrorContext(ctx, "rules reload failed", "error", err)
		return fmt.Errorf("load rules: %w", err)
	}
	snap, err := Compile(raw, rs.version.Load()+1)
	if err != nil {
		rs.logger.ErrorContext(ctx, "rules reload rejected", "error", err)
		return fmt.Errorf("compile rules: %w", err)
	}
	rs.version.Store(snap.Version)
	rs.current.Store(snap)
	rs.logger.InfoContext(ctx, "rules loaded",
		"version", snap.Version,
		"fields", snap.Registry.Len(),
		"event_types", len(snap.Events),
	)
	return nil
}
