package template

import (
	"fmt"
	"sync"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecollector/internal/fqcn"
)

// Engine evaluates expression-language leaves against a per-sample Context
// by transpiling each one to Lua and running it on a shared, mutex-guarded
// Lua state, mirroring how the teacher's LuaEngine serializes access to its
// VM rather than spinning one up per call.
type Engine struct {
	mu     sync.Mutex
	state  *lua.State
	logger *logrus.Logger
}

// New creates an Engine with a fresh Lua state.
func New(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &Engine{logger: logger}
	e.reset()
	return e
}

func (e *Engine) reset() {
	if e.state != nil {
		e.state.Close()
	}
	e.state = lua.NewState()
	e.state.OpenLibs()
}

// Close releases the underlying Lua state.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
}

// EvalError carries a single leaf's evaluation failure; per the fanout
// contract it never aborts the whole payload.
type EvalError struct {
	Path string
	Err  error
}

func (e *EvalError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }
func (e *EvalError) Unwrap() error { return e.Err }

// Evaluate walks payload depth-first (slices in index order, map keys in
// Go's unspecified map iteration order), replacing every
// expression-language string leaf with its evaluated result. Non-string
// leaves and plain-literal string leaves pass through unchanged. A special
// root key "state_topic" is evaluated first and its result bound into ctx
// under the same name before the rest of the tree is walked, so sibling
// leaves (e.g. a discovery `config_topic` referencing `${state_topic}`) see
// it. Per-leaf errors are collected but never stop evaluation of the rest
// of the tree; the offending leaf is replaced with a string describing the
// failure.
func (e *Engine) Evaluate(payload interface{}, ctx Context) (interface{}, []*EvalError) {
	var errs []*EvalError

	if root, ok := payload.(map[string]interface{}); ok {
		if raw, present := root["state_topic"]; present {
			if s, ok := raw.(string); ok {
				out := s
				if isExpression(s) {
					var err error
					out, err = e.evalLeaf(s, ctx)
					if err != nil {
						errs = append(errs, &EvalError{Path: "state_topic", Err: err})
						out = fmt.Sprintf("<template error: %v>", err)
					}
				}
				ctx.StateTopic = out
				root["state_topic"] = out
			}
		}
	}

	result := e.walk(payload, ctx, "$", &errs)
	return result, errs
}

func (e *Engine) walk(node interface{}, ctx Context, path string, errs *[]*EvalError) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, child := range v {
			if path == "$" && k == "state_topic" {
				continue // already evaluated by Evaluate
			}
			childPath := path + "." + k
			v[k] = e.walk(child, ctx, childPath, errs)
		}
		return v
	case []interface{}:
		for i, child := range v {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			v[i] = e.walk(child, ctx, childPath, errs)
		}
		return v
	case string:
		if !isExpression(v) {
			return v
		}
		out, err := e.evalLeaf(v, ctx)
		if err != nil {
			*errs = append(*errs, &EvalError{Path: path, Err: err})
			e.logger.WithError(err).WithField("path", path).Warn("template leaf evaluation failed")
			return fmt.Sprintf("<template error: %v>", err)
		}
		return out
	default:
		return node
	}
}

func (e *Engine) evalLeaf(expr string, ctx Context) (string, error) {
	luaExpr, err := transpile(expr)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return "", fmt.Errorf("template engine closed")
	}

	e.bindContext(ctx)

	code := "return " + luaExpr
	if status := e.state.LoadString(code); status != 0 {
		msg := e.popError()
		return "", fmt.Errorf("compiling expression %q: %s", expr, msg)
	}
	if err := e.state.Call(0, 1); err != nil {
		return "", fmt.Errorf("evaluating expression %q: %w", expr, err)
	}
	defer e.state.Pop(1)

	if e.state.IsString(-1) {
		return e.state.ToString(-1), nil
	}
	if e.state.IsNumber(-1) {
		return fmt.Sprintf("%v", e.state.ToNumber(-1)), nil
	}
	if e.state.IsBoolean(-1) {
		if e.state.ToBoolean(-1) {
			return "true", nil
		}
		return "false", nil
	}
	return "", fmt.Errorf("expression %q did not evaluate to a string, number, or boolean", expr)
}

func (e *Engine) popError() string {
	if e.state.GetTop() == 0 {
		return "unknown Lua error"
	}
	msg := "non-string error object"
	if e.state.IsString(-1) {
		msg = e.state.ToString(-1)
	}
	e.state.Pop(1)
	return msg
}

// bindContext sets every value the context section promises: flat names,
// clean_* variants, and the fqcn/clean_fqcn nested tables, plus state_topic
// once bound.
func (e *Engine) bindContext(ctx Context) {
	L := e.state

	L.PushString(ctx.Adapter)
	L.SetGlobal("adapter")
	L.PushString(ctx.Peripheral)
	L.SetGlobal("peripheral")
	L.PushString(ctx.PeripheralName)
	L.SetGlobal("peripheral_name")
	L.PushString(ctx.ServiceName)
	L.SetGlobal("service_name")
	L.PushString(ctx.CharacteristicName)
	L.SetGlobal("characteristic_name")
	L.PushString(ctx.StateTopic)
	L.SetGlobal("state_topic")

	cAdapter, cPeripheral, cPeripheralName, cServiceName, cCharName := ctx.cleaned()
	L.PushString(cAdapter)
	L.SetGlobal("clean_adapter")
	L.PushString(cPeripheral)
	L.SetGlobal("clean_peripheral")
	L.PushString(cPeripheralName)
	L.SetGlobal("clean_peripheral_name")
	L.PushString(cServiceName)
	L.SetGlobal("clean_service_name")
	L.PushString(cCharName)
	L.SetGlobal("clean_characteristic_name")

	pushTable(L, map[string]string{
		"adapter":    ctx.FQCN.Adapter,
		"peripheral": ctx.FQCN.Peripheral,
		"service":    ctx.FQCN.ServiceUUID,
		"characteristic": ctx.FQCN.CharacterUUID,
	})
	L.SetGlobal("fqcn")

	pushTable(L, map[string]string{
		"adapter":        fqcn.Clean(ctx.FQCN.Adapter),
		"peripheral":     fqcn.Clean(ctx.FQCN.Peripheral),
		"service":        fqcn.Clean(ctx.FQCN.ServiceUUID),
		"characteristic": fqcn.Clean(ctx.FQCN.CharacterUUID),
	})
	L.SetGlobal("clean_fqcn")

	// ctx.* mirrors the flat globals for callers that prefer the
	// namespaced form described in the context section.
	L.NewTable()
	setStringField(L, "adapter", ctx.Adapter)
	setStringField(L, "peripheral", ctx.Peripheral)
	setStringField(L, "peripheral_name", ctx.PeripheralName)
	setStringField(L, "service_name", ctx.ServiceName)
	setStringField(L, "characteristic_name", ctx.CharacteristicName)
	setStringField(L, "state_topic", ctx.StateTopic)
	L.GetGlobal("fqcn")
	L.SetField(-2, "fqcn")
	L.GetGlobal("clean_fqcn")
	L.SetField(-2, "clean_fqcn")
	L.SetGlobal("ctx")
}

func setStringField(L *lua.State, key, value string) {
	L.PushString(value)
	L.SetField(-2, key)
}

func pushTable(L *lua.State, fields map[string]string) {
	L.NewTable()
	for k, v := range fields {
		setStringField(L, k, v)
	}
}

