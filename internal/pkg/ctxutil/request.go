// Package ctxutil carries request-scoped identifiers through a context.
package ctxutil

import "context"

type requestKey struct{}

// Request identifies one inbound call. OwnerID stays empty until the caller
// is known.
type Request struct {
	TraceID   string
	RequestID string
	OwnerID   string
}

// LogFields renders the non-empty identifiers as logger key/value pairs.
func (r *Request) LogFields() []interface{} {
	if r == nil {
		return nil
	}
	var out []interface{}
	for _, kv := range [][2]string{{"trace_id", r.TraceID}, {"request_id", r.RequestID}, {"owner_id", r.OwnerID}} {
		if kv[1] != "" {
			out = append(out, kv[0], kv[1])
		}
	}
	return out
}

func WithRequest(ctx context.Context, r *Request) context.Context {
	return context.WithValue(Default(ctx), requestKey{}, r)
}

// RequestFrom returns nil when ctx carries no request.
func RequestFrom(ctx context.Context) *Request {
	if ctx == nil {
		return nil
	}
	r, _ := ctx.Value(requestKey{}).(*Request)
	return r
}

// Default guards SDK calls that panic on a nil context.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
