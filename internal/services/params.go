// Package services holds the concrete command services registered per
// target type: lists and items on SQLite, workflows with incremental
// execution, system introspection, batches delegating back into the
// pipeline, and thin wrappers over the agent directory and session
// store.
package services

import (
	"github.com/basket/taskdeck/internal/apperr"
)

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func requireString(params map[string]any, key string) (string, error) {
	s, ok := stringParam(params, key)
	if !ok || s == "" {
		return "", apperr.Validation("missing parameter", apperr.Violation{Field: "parameters." + key, Message: "required"})
	}
	return s, nil
}

func stringSliceParam(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, apperr.Validation("missing parameter", apperr.Violation{Field: "parameters." + key, Message: "required"})
	}
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			s, ok := e.(string)
			if !ok {
				return nil, apperr.Validation("bad parameter", apperr.Violation{Field: "parameters." + key, Message: "must be an array of strings"})
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, apperr.Validation("bad parameter", apperr.Violation{Field: "parameters." + key, Message: "must be an array of strings"})
	}
}

func boolParam(params map[string]any, key string) (bool, bool) {
	v, ok := params[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
