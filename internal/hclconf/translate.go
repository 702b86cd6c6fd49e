package hclconf

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/screwdriver-cd/screwdriver-sub003/internal/config"
)

// translatePipeline converts the HCL-specific pipeline schema into the
// agnostic config model.
func translatePipeline(ps *pipelineSchema) (*config.Pipeline, error) {
	if ps.ID <= 0 {
		return nil, fmt.Errorf("pipeline id must be positive, got %d", ps.ID)
	}

	p := &config.Pipeline{
		ID:          ps.ID,
		Name:        ps.Name,
		Annotations: ps.Annotations,
	}

	seen := make(map[string]bool)
	for _, js := range ps.Jobs {
		if seen[js.Name] {
			return nil, fmt.Errorf("job %q declared twice", js.Name)
		}
		seen[js.Name] = true

		requires, err := decodeRequires(js.Requires)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", js.Name, err)
		}

		p.Jobs = append(p.Jobs, &config.Job{
			Name:        js.Name,
			Image:       js.Image,
			Commands:    js.Commands,
			Requires:    requires,
			Annotations: js.Annotations,
		})
	}
	return p, nil
}

// decodeRequires evaluates the requires expression. Both a single string
// and a list of strings are accepted, mirroring the permissive shape of
// the original workflow configuration.
func decodeRequires(expr hcl.Expression) ([]string, error) {
	if expr == nil {
		return nil, nil
	}

	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to evaluate requires: %w", diags)
	}
	if val.IsNull() {
		return nil, nil
	}

	if val.Type() == cty.String {
		return []string{val.AsString()}, nil
	}

	if !val.CanIterateElements() {
		return nil, fmt.Errorf("requires must be a string or a list of strings, got %s", val.Type().FriendlyName())
	}

	var out []string
	for it := val.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		s, err := convert.Convert(elem, cty.String)
		if err != nil {
			return nil, fmt.Errorf("requires entry is not a string: %w", err)
		}
		out = append(out, s.AsString())
	}
	return out, nil
}
