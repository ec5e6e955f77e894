// Package dispatch resolves JSON-RPC method names to registered Go functions and
// invokes them with the arguments carried by a request.
//
// Handlers are plain Go functions; the dispatcher inspects their signature once at
// registration and converts wire arguments into the parameter types on every call:
//
//	d := dispatch.New()
//	d.Register(func(x, y int) int { return x + y }, "add")
//	d.Register(math.Pow, "pow")
//
// Registration must finish before the dispatcher is shared with a serving server;
// Dispatch itself is safe for concurrent use.
package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"mini-jsonrpc/rpcerror"
)

// Dispatcher maps method names to handlers.
type Dispatcher struct {
	handlers map[string]*handler
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]*handler)}
}

// Register stores fn under name, or under the function's declared name when name
// is empty. An existing handler with the same name is replaced.
func (d *Dispatcher) Register(fn any, name string) error {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return fmt.Errorf("dispatch: cannot register %T, want a func", fn)
	}
	if name == "" {
		name = funcName(v)
	}
	if name == "" {
		return fmt.Errorf("dispatch: cannot derive a method name for %T", fn)
	}

	h, err := newHandler(name, v)
	if err != nil {
		return err
	}
	d.handlers[name] = h
	return nil
}

// RegisterService registers every exported method of rcvr with a supported
// signature as "<name>.<Method>". name defaults to the receiver's type name.
func (d *Dispatcher) RegisterService(rcvr any, name string) error {
	v := reflect.ValueOf(rcvr)
	if !v.IsValid() {
		return fmt.Errorf("dispatch: cannot register a nil service")
	}
	if name == "" {
		name = reflect.Indirect(v).Type().Name()
	}
	if name == "" {
		return fmt.Errorf("dispatch: service %T has no type name, pass one explicitly", rcvr)
	}

	typ := v.Type()
	registered := 0
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() {
			continue
		}
		methodName := name + "." + method.Name
		h, err := newHandler(methodName, v.Method(i))
		if err != nil {
			continue // Skip methods whose signature cannot be served
		}
		d.handlers[methodName] = h
		registered++
	}

	if registered == 0 {
		return fmt.Errorf("dispatch: service %s has no methods with a supported signature", name)
	}
	return nil
}

// Methods returns the registered method names in sorted order.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch invokes the handler registered for method.
//
//   - unknown method: MethodNotFoundError, detail is the method name
//   - arguments that do not fit the signature: InvalidParamsError
//   - error returned by, or panic inside, the handler: InternalError
func (d *Dispatcher) Dispatch(ctx context.Context, method string, args []any, named map[string]any) (any, error) {
	h, ok := d.handlers[method]
	if !ok {
		return nil, rpcerror.New(rpcerror.KindMethodNotFound, "%s", method)
	}

	in, err := h.bind(ctx, args, named)
	if err != nil {
		return nil, err
	}
	return h.call(in)
}
