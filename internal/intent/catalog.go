package intent

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/finchat-kernel/internal/textnorm"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Rule binds an intent to one or more trigger groups. Every group must
// match for the rule to fire (conjunctive: subject noun + comparator);
// within a group any single variant is enough. Variants carry both
// accented and folded spellings so precise phrasing and diacritic-less
// typing both land.
type Rule struct {
	Intent      Intent     `yaml:"intent"`
	Specificity int        `yaml:"specificity"`
	Groups      [][]string `yaml:"groups"`
}

// Catalog is the ordered rule table. Declaration order is part of the
// matching contract: it breaks specificity ties, earlier rule wins.
type Catalog struct {
	Rules []Rule
}

type catalogFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadCatalog parses the embedded rule table. Called once at startup;
// the returned catalog is read-only afterwards.
func LoadCatalog() (*Catalog, error) {
	return parseCatalog(catalogYAML)
}

func parseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rule catalog: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rule catalog is empty")
	}
	for i, r := range f.Rules {
		if r.Intent == "" {
			return nil, fmt.Errorf("rule %d: missing intent", i)
		}
		if len(r.Groups) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no trigger groups", i, r.Intent)
		}
		for gi, g := range r.Groups {
			if len(g) == 0 {
				return nil, fmt.Errorf("rule %d (%s): group %d is empty", i, r.Intent, gi)
			}
			for _, v := range g {
				if v != textnorm.Fold(v) && !containsFoldOf(g, v) {
					return nil, fmt.Errorf("rule %d (%s): accented trigger %q has no folded variant", i, r.Intent, v)
				}
			}
		}
	}
	return &Catalog{Rules: f.Rules}, nil
}

func containsFoldOf(group []string, accented string) bool {
	want := textnorm.Fold(accented)
	for _, v := range group {
		if v == want {
			return true
		}
	}
	return false
}
