package clickmodel

import (
	"sort"
	"strings"

	apperrors "github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
)

// Named model sets accepted wherever a model list is expected.
var modelSets = map[string][]string{
	"test":     {"sdcm", "dcm", "sdbn", "dbn", "ubm", "fcm", "vcm"},
	"test-rel": {"sdcm-rel", "dcm-rel", "sdbn-rel", "dbn-rel", "ubm-rel", "fcm-rel", "vcm-rel"},
	"baseline": {"cm", "dctr", "rctr", "gctr", "pbm"},
}

// Names returns every model name, base kinds first and then Rel variants.
func Names() []string {
	kinds := make([]Kind, 0, len(kindNames))
	for k := range kindNames {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var names []string
	for _, k := range kinds {
		names = append(names, Spec{Kind: k}.Name())
	}
	for _, k := range kinds {
		if k.HasRel() {
			names = append(names, Spec{Kind: k, Rel: true}.Name())
		}
	}
	return names
}

// Expand resolves set names ("test", "test-rel", "baseline", "all") and
// model names into model names, keeping the first occurrence of each.
func Expand(names []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}

	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if name == "all" {
			for _, n := range Names() {
				add(n)
			}
			continue
		}
		if set, ok := modelSets[name]; ok {
			for _, n := range set {
				add(n)
			}
			continue
		}
		spec, err := ParseSpec(name)
		if err != nil {
			return nil, err
		}
		add(spec.Name())
	}
	if len(out) == 0 {
		return nil, apperrors.InvalidConfigError("no models selected")
	}
	return out, nil
}

// Build expands names and constructs one model per name with cfg.
func Build(names []string, cfg Config) ([]*Model, error) {
	expanded, err := Expand(names)
	if err != nil {
		return nil, err
	}
	models := make([]*Model, 0, len(expanded))
	for _, name := range expanded {
		spec, err := ParseSpec(name)
		if err != nil {
			return nil, err
		}
		m, err := New(spec, cfg)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}
