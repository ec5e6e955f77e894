// Package message defines the JSON-RPC 2.0 envelopes exchanged between client and server.
//
// The protocol layer decodes wire bytes into a generic value tree first and then lifts
// it into these types, so the original decoded object stays available in Raw. That
// matters for members whose presence (not value) carries meaning, such as "id".
package message

// Version is the only protocol version accepted on the wire.
const Version = "2.0"

// Request is a method call.
//
//   - Params holds positional arguments, Named holds named arguments; at most one is set.
//   - HasID is false for notifications, which never get a response.
type Request struct {
	Version string
	Method  string
	Params  []any
	Named   map[string]any
	ID      any
	HasID   bool
	Raw     map[string]any // Decoded object as received, nil for locally built requests
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return !r.HasID
}

// Envelope returns the wire object for the request.
// params is omitted when there are no arguments, id is omitted for notifications.
func (r *Request) Envelope() map[string]any {
	env := map[string]any{
		"jsonrpc": r.Version,
		"method":  r.Method,
	}
	switch {
	case len(r.Named) > 0:
		env["params"] = r.Named
	case len(r.Params) > 0:
		env["params"] = r.Params
	}
	if r.HasID {
		env["id"] = r.ID
	}
	return env
}

// Response carries the outcome of a request: exactly one of Result and Error is set.
// ID is nil when the request could not be parsed at all.
type Response struct {
	Version string
	ID      any
	Result  any
	Error   *ErrorObject
	Raw     map[string]any
}

// Envelope returns the wire object for the response.
func (r *Response) Envelope() map[string]any {
	env := map[string]any{
		"jsonrpc": r.Version,
		"id":      r.ID,
	}
	if r.Error != nil {
		env["error"] = r.Error
	} else {
		env["result"] = r.Result
	}
	return env
}

// ErrorObject is the wire form of a failure.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
