package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("invoice.send", func(ctx context.Context, job *JobRun) (json.RawMessage, error) {
		return nil, nil
	})

	assert.NotNil(t, r.Get("invoice.send"))
	assert.Nil(t, r.Get("unknown"))
	assert.Equal(t, []string{"invoice.send"}, r.Types())
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	h := HandlerFunc(func(ctx context.Context, job *JobRun) (json.RawMessage, error) {
		return nil, nil
	})
	r.Register("invoice.send", h)

	assert.Panics(t, func() { r.Register("invoice.send", h) })
	assert.Panics(t, func() { r.Register("", h) })
	assert.Panics(t, func() { r.Register("other", nil) })
}
