package ctxutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestRoundTrip(t *testing.T) {
	assert.Nil(t, RequestFrom(context.Background()))
	assert.Nil(t, RequestFrom(nil))

	ctx := WithRequest(context.Background(), &Request{TraceID: "t1", RequestID: "r1"})
	got := RequestFrom(ctx)
	if assert.NotNil(t, got) {
		assert.Equal(t, []interface{}{"trace_id", "t1", "request_id", "r1"}, got.LogFields())
		got.OwnerID = "o1"
		assert.Equal(t, "o1", RequestFrom(ctx).OwnerID)
	}
	assert.Nil(t, (*Request)(nil).LogFields())
}

func TestDefault(t *testing.T) {
	assert.NotNil(t, Default(nil))
	ctx := context.WithValue(context.Background(), requestKey{}, "x")
	assert.Equal(t, ctx, Default(ctx))
}
