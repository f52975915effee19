package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// placeholderPattern matches ${task_id} and ${task_id.path.to.field}.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_\-]+)((?:\.[A-Za-z0-9_\-]+)*)\}`)

// resolveParams returns a copy of params with every placeholder replaced by
// the referenced task's stored result. tasks must contain every task the run
// knows about, completed or not.
func resolveParams(taskID string, params map[string]any, tasks map[string]*models.Task) (map[string]any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	out, err := resolveValue(taskID, params, tasks)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func resolveValue(taskID string, v any, tasks map[string]*models.Task) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(taskID, val, tasks)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := resolveValue(taskID, item, tasks)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := resolveValue(taskID, item, tasks)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString substitutes placeholders in s. A string that is exactly one
// placeholder becomes the referenced value itself, keeping its type.
func resolveString(taskID, s string, tasks map[string]*models.Task) (any, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		ref, path := s[matches[0][2]:matches[0][3]], s[matches[0][4]:matches[0][5]]
		val, err := lookupReference(taskID, s, ref, path, tasks)
		if err != nil {
			return nil, err
		}
		return models.CloneValue(val), nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		ref, path := s[m[2]:m[3]], s[m[4]:m[5]]
		val, err := lookupReference(taskID, s[m[0]:m[1]], ref, path, tasks)
		if err != nil {
			return nil, err
		}
		b.WriteString(renderValue(val))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func lookupReference(taskID, placeholder, ref, path string, tasks map[string]*models.Task) (any, error) {
	target, ok := tasks[ref]
	if !ok {
		return nil, &ParameterResolutionError{TaskID: taskID, Reference: placeholder, Err: ErrUnknownReference}
	}
	if target.Status != models.TaskStatusCompleted {
		return nil, &ParameterResolutionError{
			TaskID:    taskID,
			Reference: placeholder,
			Err:       fmt.Errorf("%w: %s is %s", ErrReferenceNotCompleted, ref, target.Status),
		}
	}

	val := target.Result
	if path == "" {
		return val, nil
	}
	for _, field := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		next, err := step(val, field)
		if err != nil {
			return nil, &ParameterResolutionError{TaskID: taskID, Reference: placeholder, Err: err}
		}
		val = next
	}
	return val, nil
}

// step descends one path segment: a map key or a slice index.
func step(v any, field string) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if next, ok := val[field]; ok {
			return next, nil
		}
	case map[string]string:
		if next, ok := val[field]; ok {
			return next, nil
		}
	case []any:
		if i, err := strconv.Atoi(field); err == nil && i >= 0 && i < len(val) {
			return val[i], nil
		}
	case []map[string]any:
		if i, err := strconv.Atoi(field); err == nil && i >= 0 && i < len(val) {
			return val[i], nil
		}
	case nil:
	default:
		// Typed results (structs, typed slices) are walked through their JSON form.
		data, err := json.Marshal(val)
		if err == nil {
			var generic any
			if json.Unmarshal(data, &generic) == nil {
				if _, isStruct := generic.(map[string]any); isStruct {
					return step(generic, field)
				}
				if _, isSlice := generic.([]any); isSlice {
					return step(generic, field)
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrMissingField, field)
}

func renderValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

// renameReferences rewrites placeholders naming oldID to name newID.
// Used when a confirmed replacement task takes over an ambiguous task's slot.
func renameReferences(v any, oldID, newID string) any {
	switch val := v.(type) {
	case string:
		return placeholderPattern.ReplaceAllStringFunc(val, func(m string) string {
			sub := placeholderPattern.FindStringSubmatch(m)
			if sub[1] != oldID {
				return m
			}
			return "${" + newID + sub[2] + "}"
		})
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = renameReferences(item, oldID, newID)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = renameReferences(item, oldID, newID)
		}
		return out
	default:
		return v
	}
}
