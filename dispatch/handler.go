package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"mini-jsonrpc/rpcerror"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// handler is a registered Go function and the shape of its signature.
type handler struct {
	name      string
	fn        reflect.Value
	withCtx   bool           // first parameter is a context.Context
	params    []reflect.Type // parameters after the optional context
	variadic  bool
	hasResult bool
	hasErr    bool
}

// newHandler checks that fn has a signature the dispatcher can call:
//
//	func([ctx context.Context,] args...) [T | error | (T, error)]
func newHandler(name string, fn reflect.Value) (*handler, error) {
	typ := fn.Type()
	if typ.Kind() != reflect.Func {
		return nil, fmt.Errorf("dispatch: handler %q must be a func, got %s", name, typ.Kind())
	}

	h := &handler{name: name, fn: fn, variadic: typ.IsVariadic()}

	first := 0
	if typ.NumIn() > 0 && typ.In(0) == contextType {
		h.withCtx = true
		first = 1
	}
	for i := first; i < typ.NumIn(); i++ {
		h.params = append(h.params, typ.In(i))
	}
	switch typ.NumOut() {
	case 0:
	case 1:
		if typ.Out(0) == errorType {
			h.hasErr = true
		} else {
			h.hasResult = true
		}
	case 2:
		if typ.Out(1) != errorType {
			return nil, fmt.Errorf("dispatch: handler %q: second result must be error, got %s", name, typ.Out(1))
		}
		h.hasResult, h.hasErr = true, true
	default:
		return nil, fmt.Errorf("dispatch: handler %q returns %d values, at most 2 allowed", name, typ.NumOut())
	}
	return h, nil
}

// funcName returns the declared name of a function: "math.Pow" -> "Pow".
func funcName(fn reflect.Value) string {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return ""
	}
	name := f.Name()
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}

// bind converts the wire arguments into the values the function takes.
// Any mismatch is reported as InvalidParamsError.
func (h *handler) bind(ctx context.Context, args []any, named map[string]any) ([]reflect.Value, error) {
	in := make([]reflect.Value, 0, len(h.params)+1)
	if h.withCtx {
		in = append(in, reflect.ValueOf(ctx))
	}

	if len(named) > 0 {
		if len(h.params) != 1 || !acceptsNamed(h.params[0]) {
			return nil, rpcerror.New(rpcerror.KindInvalidParams,
				"%s() does not accept named arguments", h.name)
		}
		v, err := convert(named, h.params[0])
		if err != nil {
			return nil, rpcerror.New(rpcerror.KindInvalidParams, "%s(): %v", h.name, err)
		}
		return append(in, v), nil
	}

	n := len(h.params)
	switch {
	case h.variadic && len(args) < n-1:
		return nil, rpcerror.New(rpcerror.KindInvalidParams,
			"%s() takes at least %d arguments (%d given)", h.name, n-1, len(args))
	case !h.variadic && len(args) != n:
		return nil, rpcerror.New(rpcerror.KindInvalidParams,
			"%s() takes exactly %d arguments (%d given)", h.name, n, len(args))
	}

	for i, arg := range args {
		t := h.paramType(i)
		v, err := convert(arg, t)
		if err != nil {
			return nil, rpcerror.New(rpcerror.KindInvalidParams, "%s() argument %d: %v", h.name, i+1, err)
		}
		in = append(in, v)
	}
	return in, nil
}

func (h *handler) paramType(i int) reflect.Type {
	n := len(h.params)
	if h.variadic && i >= n-1 {
		return h.params[n-1].Elem()
	}
	return h.params[i]
}

// call invokes the function. Returned errors and panics become InternalError
// carrying the original text, so handler internals never reach the caller.
func (h *handler) call(in []reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = rpcerror.New(rpcerror.KindInternal, "%v", r)
		}
	}()

	out := h.fn.Call(in)

	if h.hasErr {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, rpcerror.Wrap(rpcerror.KindInternal, e.Interface().(error))
		}
	}
	if h.hasResult {
		return out[0].Interface(), nil
	}
	return nil, nil
}

func acceptsNamed(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		return true
	case reflect.Map:
		return t.Key().Kind() == reflect.String
	case reflect.Interface:
		return t.NumMethod() == 0
	}
	return false
}

// convert re-encodes a decoded wire value into a value of type t.
func convert(v any, t reflect.Type) (reflect.Value, error) {
	if t.Kind() == reflect.Interface {
		if v == nil {
			return reflect.Zero(t), nil
		}
		if rv := reflect.ValueOf(v); rv.Type().Implements(t) {
			return rv, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return reflect.Value{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	ptr := reflect.New(t)
	if err := dec.Decode(ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}
