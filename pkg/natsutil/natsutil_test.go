package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*headerCarrier)(msg)
	assert.Equal(t, "", carrier.Get("missing"))
	assert.Nil(t, carrier.Keys())

	carrier.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	assert.Len(t, carrier.Keys(), 1)
}

type doubleReq struct{ N int }
type doubleResp struct{ Result int }

func double(_ context.Context, r doubleReq) (doubleResp, error) {
	if r.N < 0 {
		return doubleResp{}, errors.New("negative")
	}
	return doubleResp{Result: r.N * 2}, nil
}

func TestHandleSuccess(t *testing.T) {
	out := Handle(context.Background(), []byte(`{"N":21}`), double)
	var reply Reply[doubleResp]
	require.NoError(t, json.Unmarshal(out, &reply))
	assert.Empty(t, reply.Error)
	assert.Equal(t, 42, reply.Data.Result)
}

func TestHandleErrors(t *testing.T) {
	var reply Reply[doubleResp]
	require.NoError(t, json.Unmarshal(Handle(context.Background(), []byte(`{"N":-1}`), double), &reply))
	assert.Equal(t, "negative", reply.Error)

	reply = Reply[doubleResp]{}
	require.NoError(t, json.Unmarshal(Handle(context.Background(), []byte(`nope`), double), &reply))
	assert.Contains(t, reply.Error, "invalid request")
}

func TestRespondNilConn(t *testing.T) {
	_, err := Respond(nil, "x", double)
	assert.Error(t, err)
}

func TestRemoteError(t *testing.T) {
	assert.Equal(t, "remote: boom", (&RemoteError{Message: "boom"}).Error())
}
