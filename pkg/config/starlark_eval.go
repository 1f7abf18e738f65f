package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultStarlarkTimeout bounds one script evaluation.
const DefaultStarlarkTimeout = 10 * time.Second

// StarlarkResult holds the globals a script defined.
type StarlarkResult struct {
	// Output maps exported global names to Go values. Names starting with
	// an underscore are not exported.
	Output map[string]any

	// ExecutionTime is how long the script ran.
	ExecutionTime time.Duration
}

// StarlarkEvaluator runs Starlark config scripts with a timeout. Scripts
// have no file or network access; print output is discarded.
type StarlarkEvaluator struct {
	timeout time.Duration
	getenv  func(string) (string, bool)
}

// NewStarlarkEvaluator creates an evaluator. A zero timeout selects
// DefaultStarlarkTimeout.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = DefaultStarlarkTimeout
	}
	return &StarlarkEvaluator{timeout: timeout, getenv: os.LookupEnv}
}

// Evaluate executes script and returns its exported globals. input values
// are predeclared alongside the builtins.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, input map[string]any) (*StarlarkResult, error) {
	start := time.Now()

	thread := &starlark.Thread{
		Name:  "deployer-config",
		Print: func(*starlark.Thread, string) {},
	}

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()
	stop := context.AfterFunc(evalCtx, func() {
		thread.Cancel(fmt.Sprintf("execution timeout after %v", se.timeout))
	})
	defer stop()

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"getenv": starlark.NewBuiltin("getenv", se.builtinGetenv),
		"ports":  starlark.NewBuiltin("ports", builtinPorts),
	}
	for key, val := range input {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		if ctx.Err() == nil && evalCtx.Err() != nil {
			return nil, fmt.Errorf("starlark execution timeout after %v", se.timeout)
		}
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]any, len(globals))
	for name, val := range globals {
		if name[0] == '_' {
			continue
		}
		// Functions are helpers, not data.
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}

	return &StarlarkResult{Output: output, ExecutionTime: time.Since(start)}, nil
}

func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for k, s := range val {
			if err := dict.SetKey(starlark.String(k), starlark.String(s)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Tuple:
		return fromSequence(val)
	case *starlark.List:
		return fromSequence(val)
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromSequence(seq starlark.Indexable) ([]any, error) {
	list := make([]any, seq.Len())
	for i := range list {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}

// builtinGetenv implements getenv(name, default=None).
func (se *StarlarkEvaluator) builtinGetenv(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := se.getenv(name); ok {
		return starlark.String(v), nil
	}
	return def, nil
}

// builtinPorts implements ports(first, count=1), a list of consecutive
// port numbers.
func builtinPorts(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var first int
	count := 1
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "first", &first, "count?", &count); err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, fmt.Errorf("%s: count must be positive", b.Name())
	}
	if first < 1 || first+count-1 > 65535 {
		return nil, fmt.Errorf("%s: ports %d..%d out of range", b.Name(), first, first+count-1)
	}
	list := make([]starlark.Value, count)
	for i := range list {
		list[i] = starlark.MakeInt(first + i)
	}
	return starlark.NewList(list), nil
}
