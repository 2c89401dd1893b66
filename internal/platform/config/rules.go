package config

import (
	"fmt"
	"sort"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"confirmgate/internal/declaration"
)

// RulesConfig is the reloadable part of the configuration: the field
// registry and per event type confirmation rules.
type RulesConfig struct {
	Fields []declaration.FieldSpec `koanf:"fields"`
	Events map[string]EventRules   `koanf:"events"`
}

// EventRules configures REGISTER handling for one event type. The *_when
// fields are CEL expressions over `declaration` and `event`.
type EventRules struct {
	Roles       []string `koanf:"roles"`
	Required    []string `koanf:"required"`
	VerifyWhen  string   `koanf:"verify_when"`
	ForwardWhen string   `koanf:"forward_when"`
	DeferWhen   string   `koanf:"defer_when"`
}

// DefaultRules verifies every role, forwards nothing and defers nothing.
func DefaultRules() RulesConfig {
	return RulesConfig{
		Fields: declaration.DefaultFields(),
		Events: map[string]EventRules{
			"birth": {
				Roles:      []string{"mother", "father", "informant"},
				Required:   []string{"child.name", "child.dob"},
				VerifyWhen: "true",
			},
			"death": {
				Roles:      []string{"deceased", "informant", "spouse"},
				Required:   []string{"deceased.name", "deceased.dateOfDeath"},
				VerifyWhen: "true",
			},
		},
	}
}

// LoadRules reads the rules file at path over DefaultRules. File fields
// replace defaults with the same path; file events replace whole event
// entries. An empty path yields the defaults.
func LoadRules(path string) (RulesConfig, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return RulesConfig{}, fmt.Errorf("load rules file %s: %w", path, err)
	}
	var fromFile RulesConfig
	if err := k.Unmarshal("", &fromFile); err != nil {
		return RulesConfig{}, fmt.Errorf("decode rules file %s: %w", path, err)
	}

	rules.Fields = mergeFields(rules.Fields, fromFile.Fields)
	for name, ev := range fromFile.Events {
		rules.Events[name] = ev
	}
	return rules, nil
}

func mergeFields(base, overrides []declaration.FieldSpec) []declaration.FieldSpec {
	byPath := make(map[string]declaration.FieldSpec, len(base)+len(overrides))
	for _, f := range base {
		byPath[f.Path] = f
	}
	for _, f := range overrides {
		byPath[f.Path] = f
	}
	out := make([]declaration.FieldSpec, 0, len(byPath))
	for _, f := range byPath {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
