// Package protocol implements the JSON-RPC 2.0 wire protocol on top of a codec.
//
// It converts method calls into request envelopes and call outcomes into response
// envelopes, and validates every structural rule when decoding them again:
//
//	client: MarshalRequest ──► bytes ──► server: UnmarshalRequest ──► dispatch
//	client: UnmarshalResponse ◄── bytes ◄── server: MarshalResponse ◄──┘
//
// Request ids are unique per Protocol instance: a monotonic counter, so a client can
// match responses to calls even when several are in flight on one connection.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"mini-jsonrpc/codec"
	"mini-jsonrpc/message"
	"mini-jsonrpc/rpcerror"
)

// Protocol marshals and unmarshals JSON-RPC 2.0 messages.
// It is safe for concurrent use.
type Protocol struct {
	codec  codec.Codec
	nextID atomic.Uint64
}

// New creates a Protocol using c, or the default JSON codec when c is nil.
func New(c codec.Codec) *Protocol {
	if c == nil {
		c = codec.Default()
	}
	return &Protocol{codec: c}
}

// Codec returns the serializer owned by the protocol.
func (p *Protocol) Codec() codec.Codec {
	return p.codec
}

// NewRequest builds a request that expects a response, assigning it a fresh id.
// Positional and named arguments are mutually exclusive.
func (p *Protocol) NewRequest(method string, args []any, named map[string]any) (*message.Request, error) {
	req, err := newCall(method, args, named)
	if err != nil {
		return nil, err
	}
	req.ID = p.nextID.Add(1)
	req.HasID = true
	return req, nil
}

// NewNotification builds a request without an id.
func (p *Protocol) NewNotification(method string, args []any, named map[string]any) (*message.Request, error) {
	return newCall(method, args, named)
}

func newCall(method string, args []any, named map[string]any) (*message.Request, error) {
	if method == "" {
		return nil, rpcerror.New(rpcerror.KindProtocol, "method name must not be empty")
	}
	if len(args) > 0 && len(named) > 0 {
		return nil, rpcerror.New(rpcerror.KindProtocol, "cannot use both positional and named arguments")
	}
	return &message.Request{
		Version: message.Version,
		Method:  method,
		Params:  args,
		Named:   named,
	}, nil
}

// EncodeRequest serializes a request built by NewRequest or NewNotification.
func (p *Protocol) EncodeRequest(req *message.Request) ([]byte, error) {
	return p.codec.Encode(req.Envelope())
}

// MarshalRequest builds and serializes a request in one step.
func (p *Protocol) MarshalRequest(method string, args []any, named map[string]any) ([]byte, error) {
	req, err := p.NewRequest(method, args, named)
	if err != nil {
		return nil, err
	}
	return p.EncodeRequest(req)
}

// MarshalNotification builds and serializes a notification in one step.
func (p *Protocol) MarshalNotification(method string, args []any, named map[string]any) ([]byte, error) {
	req, err := p.NewNotification(method, args, named)
	if err != nil {
		return nil, err
	}
	return p.EncodeRequest(req)
}

// UnmarshalRequest decodes and validates a request.
//
// Malformed bytes yield a ParseError. A missing or wrong "jsonrpc" member, or a missing
// or non-string "method" member, yields an InvalidRequestError. Object params become
// named arguments, array params positional ones.
func (p *Protocol) UnmarshalRequest(data []byte) (*message.Request, error) {
	v, err := p.codec.Decode(data)
	if err != nil {
		return nil, err
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, rpcerror.New(rpcerror.KindInvalidRequest, "request must be an object")
	}

	version, ok := obj["jsonrpc"]
	if !ok {
		return nil, rpcerror.New(rpcerror.KindInvalidRequest, `no "jsonrpc" member found`)
	}
	if version != message.Version {
		return nil, rpcerror.New(rpcerror.KindInvalidRequest, "only JSON-RPC 2.0 is supported")
	}

	rawMethod, ok := obj["method"]
	if !ok {
		return nil, rpcerror.New(rpcerror.KindInvalidRequest, `no "method" member found`)
	}
	method, ok := rawMethod.(string)
	if !ok {
		return nil, rpcerror.New(rpcerror.KindInvalidRequest, `"method" member must be a string`)
	}

	req := &message.Request{
		Version: message.Version,
		Method:  method,
		Raw:     obj,
	}

	if params, ok := obj["params"]; ok {
		switch ps := params.(type) {
		case []any:
			req.Params = ps
		case map[string]any:
			req.Named = ps
		default:
			return nil, rpcerror.New(rpcerror.KindInvalidRequest, `"params" member must be an array or an object`)
		}
	}

	req.ID, req.HasID = obj["id"]
	return req, nil
}

// MarshalResponse serializes the outcome of req.
//
// It returns nil bytes when req is a notification: nothing must be written back.
// A nil req means the request could not be parsed, and the response id is null.
// When callErr is non-nil the response carries an error member, otherwise result.
func (p *Protocol) MarshalResponse(req *message.Request, result any, callErr error) ([]byte, error) {
	if req != nil && req.IsNotification() {
		return nil, nil
	}

	resp := &message.Response{Version: message.Version}
	if req != nil {
		resp.ID = req.ID
	}
	if callErr != nil {
		resp.Error = p.ErrorObject(callErr)
		return p.codec.Encode(resp.Envelope())
	}

	resp.Result = result
	data, err := p.codec.Encode(resp.Envelope())
	if err != nil {
		// The handler produced something the wire format cannot carry.
		resp.Result = nil
		resp.Error = p.ErrorObject(rpcerror.New(rpcerror.KindInternal, "result could not be encoded: %v", err))
		return p.codec.Encode(resp.Envelope())
	}
	return data, nil
}

// ErrorObject maps err onto its wire representation.
// Errors without a wire code (including plain Go errors) are reported as InternalError.
func (p *Protocol) ErrorObject(err error) *message.ErrorObject {
	detail := err.Error()
	kind := rpcerror.KindInternal

	var rpcErr *rpcerror.Error
	if errors.As(err, &rpcErr) {
		detail = rpcErr.Detail
		if _, _, ok := rpcerror.CodeFor(rpcErr.Kind); ok {
			kind = rpcErr.Kind
		} else {
			detail = rpcErr.Error()
		}
	}

	code, msg, _ := rpcerror.CodeFor(kind)
	obj := &message.ErrorObject{Code: code, Message: msg}
	if detail != "" {
		obj.Data = detail
	}
	return obj
}

// UnmarshalResponse decodes and validates a response.
//
// When the response carries an error member, the reconstructed *rpcerror.Error is
// returned alongside the decoded response. Codes outside the table yield KindUnknown.
func (p *Protocol) UnmarshalResponse(data []byte) (*message.Response, error) {
	v, err := p.codec.Decode(data)
	if err != nil {
		return nil, err
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, rpcerror.New(rpcerror.KindInvalidResponse, "response must be an object")
	}

	version, ok := obj["jsonrpc"]
	if !ok {
		return nil, rpcerror.New(rpcerror.KindInvalidResponse, `no "jsonrpc" member in response`)
	}
	if version != message.Version {
		return nil, rpcerror.New(rpcerror.KindInvalidResponse, "only JSON-RPC 2.0 is supported")
	}

	id, ok := obj["id"]
	if !ok {
		return nil, rpcerror.New(rpcerror.KindInvalidResponse, `no "id" member found in response`)
	}

	resp := &message.Response{Version: message.Version, ID: id, Raw: obj}

	if rawErr, ok := obj["error"]; ok {
		errObj, err := p.decodeErrorObject(rawErr)
		if err != nil {
			return nil, err
		}
		resp.Error = errObj
		return resp, p.reconstruct(errObj)
	}

	if result, ok := obj["result"]; ok {
		resp.Result = result
		return resp, nil
	}

	return nil, rpcerror.New(rpcerror.KindInvalidResponse, `no "result" or "error" member found in response`)
}

func (p *Protocol) decodeErrorObject(v any) (*message.ErrorObject, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, rpcerror.New(rpcerror.KindInvalidResponse, `"error" member must be an object`)
	}

	num, ok := obj["code"].(json.Number)
	if !ok {
		return nil, rpcerror.New(rpcerror.KindInvalidResponse, `"error" member has no integer code`)
	}
	code, err := num.Int64()
	if err != nil {
		return nil, rpcerror.New(rpcerror.KindInvalidResponse, "error code %s is not an integer", num)
	}

	msg, _ := obj["message"].(string)
	return &message.ErrorObject{Code: int(code), Message: msg, Data: obj["data"]}, nil
}

// reconstruct turns a wire error back into the matching error kind.
// The detail reads "<message>: <data>", or just the message when data is absent.
func (p *Protocol) reconstruct(obj *message.ErrorObject) error {
	detail := obj.Message
	if obj.Data != nil {
		detail = fmt.Sprintf("%s: %s", obj.Message, p.dataText(obj.Data))
	}

	kind, ok := rpcerror.KindForCode(obj.Code)
	if !ok {
		kind = rpcerror.KindUnknown
	}
	return &rpcerror.Error{Kind: kind, Detail: detail, Code: obj.Code, Data: obj.Data}
}

func (p *Protocol) dataText(data any) string {
	if s, ok := data.(string); ok {
		return s
	}
	text, err := p.codec.Encode(data)
	if err != nil {
		return fmt.Sprint(data)
	}
	return string(text)
}

// MatchID reports whether a response id refers to the given request id.
// Ids are compared by their encoded form, so uint64(3) matches a decoded json.Number("3").
func (p *Protocol) MatchID(requestID, responseID any) bool {
	a, err := p.codec.Encode(requestID)
	if err != nil {
		return false
	}
	b, err := p.codec.Encode(responseID)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}
