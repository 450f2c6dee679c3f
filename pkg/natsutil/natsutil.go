// Package natsutil provides typed NATS request/reply helpers with
// OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Reply is the envelope every responder sends back.
type Reply[T any] struct {
	Data  T      `json:"data"`
	Error string `json:"error,omitempty"`
}

// RemoteError is a failure reported by the responder.
type RemoteError struct{ Message string }

func (e *RemoteError) Error() string { return "remote: " + e.Message }

// Request sends req as JSON and decodes the Reply. Without a deadline on
// ctx, nats.DefaultTimeout applies.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	data, err := json.Marshal(req)
	if err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))

	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, fmt.Errorf("request %s: %w", subject, err)
	}
	var reply Reply[Resp]
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return zero, fmt.Errorf("decode reply from %s: %w", subject, err)
	}
	if reply.Error != "" {
		return zero, &RemoteError{Message: reply.Error}
	}
	return reply.Data, nil
}

// Handle decodes one request message, runs h and encodes the Reply.
// Malformed input and handler errors both become Reply.Error.
func Handle[Req, Resp any](ctx context.Context, data []byte, h func(context.Context, Req) (Resp, error)) []byte {
	var reply Reply[Resp]
	var req Req
	if err := json.Unmarshal(data, &req); err != nil {
		reply.Error = "invalid request: " + err.Error()
	} else if v, err := h(ctx, req); err != nil {
		reply.Error = err.Error()
	} else {
		reply.Data = v
	}
	out, err := json.Marshal(reply)
	if err != nil {
		out, _ = json.Marshal(Reply[Resp]{Error: err.Error()})
	}
	return out
}

// Respond subscribes h on subject; each request runs in its own goroutine
// under a context carrying the caller's trace.
func Respond[Req, Resp any](nc *nats.Conn, subject string, h func(context.Context, Req) (Resp, error)) (*nats.Subscription, error) {
	if nc == nil {
		return nil, errors.New("natsutil: nil connection")
	}
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		go func() {
			ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
			_ = msg.Respond(Handle(ctx, msg.Data, h))
		}()
	})
}
