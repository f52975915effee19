package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/taskloom/internal/exec"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// ParamEnvPrefix prefixes the environment variables that carry a command
// tool's parameters, e.g. TASKLOOM_PARAM_ITEM_NAME.
const ParamEnvPrefix = "TASKLOOM_PARAM_"

// confirmationKey marks command output that asks for confirmation:
//
//	{"needs_confirmation": {"reason": "...", "items": [...], "options": ["oldest", "latest"]}}
const confirmationKey = "needs_confirmation"

// CommandHandler runs script through runner. Parameters arrive as
// TASKLOOM_PARAM_* variables and as a JSON object on stdin. Stdout is
// decoded as JSON when possible and returned as trimmed text otherwise.
func CommandHandler(runner exec.CommandRunner, script, dir string, timeout time.Duration) Handler {
	return func(ctx context.Context, params map[string]any) models.Outcome {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		stdin, err := json.Marshal(params)
		if err != nil {
			return models.Failure(fmt.Errorf("encode parameters: %w", err))
		}

		res, err := runner.Run(ctx, exec.Command{
			Name:  "sh",
			Args:  []string{"-c", script},
			Dir:   dir,
			Env:   paramEnv(params),
			Stdin: stdin,
		})
		if err != nil {
			return models.Failure(err)
		}
		return decodeOutput(res.Stdout)
	}
}

func paramEnv(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		name := ParamEnvPrefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(k))
		env = append(env, name+"="+renderParam(params[k]))
	}
	return env
}

func renderParam(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}

func decodeOutput(stdout []byte) models.Outcome {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return models.Success(nil)
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return models.Success(string(trimmed))
	}

	if m, ok := v.(map[string]any); ok {
		if raw, ok := m[confirmationKey]; ok {
			return confirmationFromOutput(raw)
		}
	}
	return models.Success(v)
}

func confirmationFromOutput(raw any) models.Outcome {
	amb := &models.Ambiguity{}
	m, _ := raw.(map[string]any)
	if reason, ok := m["reason"].(string); ok {
		amb.Reason = reason
	}
	if items, ok := m["items"].([]any); ok {
		amb.Items = items
	}
	if opts, ok := m["options"].([]any); ok {
		for _, o := range opts {
			if label, ok := o.(string); ok {
				amb.Options = append(amb.Options, models.ConfirmationOption{Label: label})
			}
		}
	}
	return models.Outcome{Kind: models.OutcomeAmbiguity, Ambiguity: amb}
}

// StaticHandler always succeeds with a copy of result.
func StaticHandler(result any) Handler {
	return func(context.Context, map[string]any) models.Outcome {
		return models.Success(models.CloneValue(result))
	}
}

// AmbiguousHandler asks for confirmation until the strategy parameter is
// set, then succeeds with the resolved result. A map result also carries
// the chosen strategy.
func AmbiguousHandler(def AmbiguousDef) Handler {
	return func(_ context.Context, params map[string]any) models.Outcome {
		strategy, _ := params[models.StrategyParam].(string)
		if strategy == "" {
			return models.Outcome{
				Kind: models.OutcomeAmbiguity,
				Ambiguity: &models.Ambiguity{
					Reason:  def.Reason,
					Items:   models.CloneValue(def.Items).([]any),
					Options: models.Labels(def.Options...),
				},
			}
		}

		result := models.CloneValue(def.Resolved)
		switch r := result.(type) {
		case nil:
			result = map[string]any{models.StrategyParam: strategy}
		case map[string]any:
			r[models.StrategyParam] = strategy
		}
		return models.Success(result)
	}
}
