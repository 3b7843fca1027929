package domain

import (
	"dario.cat/mergo"
)

// BuildContext merges a trigger payload over a definition's default variables.
// The payload wins on conflicts; neither input map is mutated.
func BuildContext(variables, payload map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(variables)+len(payload))

	if len(variables) > 0 {
		if err := mergo.Merge(&merged, variables, mergo.WithOverride); err != nil {
			return nil, err
		}
	}

	if len(payload) > 0 {
		if err := mergo.Merge(&merged, payload, mergo.WithOverride); err != nil {
			return nil, err
		}
	}

	return merged, nil
}
