package sequence

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mxrc/control-core/internal/coreerr"
)

// ParamType is the declared type of a template parameter. Instantiate does
// not check argument values against it.
type ParamType uint8

const (
	ParamString ParamType = iota
	ParamNumber
	ParamBool
)

// ParamSpec declares one required or optional template parameter.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
	Default  any
}

// Template is a SequenceDefinition skeleton with typed parameters and
// ${name} placeholders in action ids and parameter values (spec §4.D).
type Template struct {
	ID     string
	Name   string
	Params []ParamSpec
	Def    SequenceDefinition
}

// Instantiate checks that args holds every required parameter (absent
// optional ones take their Default; value types are not checked),
// substitutes ${name} placeholders throughout the skeleton, and returns a
// concrete SequenceDefinition with a unique instance id. Callers are
// expected to register the result with a sequregistry.Store (spec's
// "registers the resulting concrete sequence").
func (t *Template) Instantiate(args map[string]any) (SequenceDefinition, error) {
	values := make(map[string]any, len(t.Params))
	for _, spec := range t.Params {
		v, ok := args[spec.Name]
		if !ok {
			if spec.Required {
				return SequenceDefinition{}, fmt.Errorf("sequence.Template %q: %w: %q", t.ID, coreerr.ErrMissingParameter, spec.Name)
			}
			v = spec.Default
		}
		values[spec.Name] = v
	}

	instanceID := t.ID + "_" + uuid.NewString()

	out := SequenceDefinition{
		ID:       instanceID,
		Name:     t.Def.Name,
		Version:  t.Def.Version,
		Retry:    t.Def.Retry,
		Branches: make(map[string]Branch, len(t.Def.Branches)),
	}
	for _, step := range t.Def.Steps {
		out.Steps = append(out.Steps, Step{
			StepID:     substitute(step.StepID, values),
			ActionType: step.ActionType,
			ActionID:   substitute(step.ActionID, values),
			Parameters: substituteParams(step.Parameters, values),
		})
	}
	for stepID, branch := range t.Def.Branches {
		out.Branches[substitute(stepID, values)] = substituteBranch(branch, values)
	}

	return out, nil
}

func substitute(s string, values map[string]any) string {
	for name, v := range values {
		placeholder := "${" + name + "}"
		if strings.Contains(s, placeholder) {
			s = strings.ReplaceAll(s, placeholder, fmt.Sprintf("%v", v))
		}
	}
	return s
}

func substituteParams(params map[string]any, values map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			out[k] = substitute(s, values)
		} else {
			out[k] = v
		}
	}
	return out
}

func substituteBranch(b Branch, values map[string]any) Branch {
	out := Branch{Condition: substitute(b.Condition, values)}
	for _, id := range b.TrueSteps {
		out.TrueSteps = append(out.TrueSteps, substitute(id, values))
	}
	for _, id := range b.FalseSteps {
		out.FalseSteps = append(out.FalseSteps, substitute(id, values))
	}
	if b.ParallelGroups != nil {
		out.ParallelGroups = make([][]string, len(b.ParallelGroups))
		for i, group := range b.ParallelGroups {
			for _, id := range group {
				out.ParallelGroups[i] = append(out.ParallelGroups[i], substitute(id, values))
			}
		}
	}
	return out
}
