package html

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/ngld/sitebuild/pkg/sitelog"
)

var (
	optionsType   = reflect.TypeOf(&raymond.Options{})
	interfaceType = reflect.TypeOf((*interface{})(nil)).Elem()
)

// loadStarlarkHelpers executes every *.star file in dir. Each file has to define a function with
// the same name as the file which is then available as a template helper.
func loadStarlarkHelpers(ctx context.Context, dir string) (map[string]interface{}, error) {
	helpers := map[string]interface{}{}

	scripts, err := filepath.Glob(filepath.Join(dir, "*.star"))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list helpers in %s", dir)
	}

	for _, script := range scripts {
		name := strings.TrimSuffix(filepath.Base(script), ".star")
		fn, err := loadStarlarkFunction(ctx, script, name)
		if err != nil {
			return nil, err
		}

		helpers[name] = makeHelper(ctx, name, fn)
	}

	return helpers, nil
}

func newThread(ctx context.Context, name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(thread *starlark.Thread, msg string) {
			sitelog.Log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
}

func loadStarlarkFunction(ctx context.Context, script, name string) (*starlark.Function, error) {
	source, err := os.ReadFile(script)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read helper %s", script)
	}

	globals, err := starlark.ExecFile(newThread(ctx, name), script, source, nil)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", script, evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed to execute %s", script)
	}

	value, ok := globals[name]
	if !ok {
		return nil, eris.Errorf("%s did not declare a function called %s", script, name)
	}

	fn, ok := value.(*starlark.Function)
	if !ok {
		return nil, eris.Errorf("%s declared %s but it's a %s instead of a function", script, name, value.Type())
	}

	if fn.HasVarargs() || fn.HasKwargs() {
		return nil, eris.Errorf("helper %s in %s can't take *args or **kwargs", name, script)
	}

	return fn, nil
}

// makeHelper wraps fn in a Go function with exactly as many parameters as fn declares since the
// template engine checks helper arity through reflection.
func makeHelper(ctx context.Context, name string, fn *starlark.Function) interface{} {
	params := make([]reflect.Type, fn.NumParams()+1)
	for idx := range params[:len(params)-1] {
		params[idx] = interfaceType
	}
	params[len(params)-1] = optionsType

	fnType := reflect.FuncOf(params, []reflect.Type{reflect.TypeOf(raymond.SafeString(""))}, false)
	impl := reflect.MakeFunc(fnType, func(in []reflect.Value) []reflect.Value {
		args := make(starlark.Tuple, len(in)-1)
		for idx, value := range in[:len(in)-1] {
			args[idx] = toStarlark(value.Interface())
		}

		result, err := starlark.Call(newThread(ctx, name), fn, args, nil)
		if err != nil {
			if evalError, ok := err.(*starlark.EvalError); ok {
				panic(eris.Errorf("helper %s failed:\n%s", name, evalError.Backtrace()))
			}
			panic(eris.Wrapf(err, "helper %s failed", name))
		}

		var out string
		switch value := result.(type) {
		case starlark.String:
			out = value.GoString()
		case starlark.NoneType:
			out = ""
		default:
			out = value.String()
		}

		return []reflect.Value{reflect.ValueOf(raymond.SafeString(out))}
	})

	return impl.Interface()
}

func toStarlark(value interface{}) starlark.Value {
	switch value := value.(type) {
	case nil:
		return starlark.None
	case string:
		return starlark.String(value)
	case raymond.SafeString:
		return starlark.String(string(value))
	case bool:
		return starlark.Bool(value)
	case int:
		return starlark.MakeInt(value)
	case int64:
		return starlark.MakeInt64(value)
	case float64:
		return starlark.Float(value)
	case []interface{}:
		items := make([]starlark.Value, len(value))
		for idx, item := range value {
			items[idx] = toStarlark(item)
		}
		return starlark.NewList(items)
	case map[string]interface{}:
		dict := starlark.NewDict(len(value))
		for k, v := range value {
			// string keys are always hashable
			_ = dict.SetKey(starlark.String(k), toStarlark(v))
		}
		return dict
	default:
		return starlark.String(fmt.Sprint(value))
	}
}
