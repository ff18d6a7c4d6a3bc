package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubmitRejectsBadBundleURI(t *testing.T) {
	s := NewService(nil, nil, time.Second)

	_, err := s.Submit(context.Background(), SubmitRequest{
		BundleURI:   "http://registry.example/dataset/1",
		Descriptors: []string{"EXPERIMENTAL"},
	}, "alice")
	assert.Error(t, err)
}

func TestSubmitRejectsUnknownDescriptor(t *testing.T) {
	s := NewService(nil, nil, time.Second)

	_, err := s.Submit(context.Background(), SubmitRequest{
		BundleURI:   "http://registry.example/bundle/1",
		Descriptors: []string{"QUANTUM"},
	}, "alice")
	assert.ErrorContains(t, err, "QUANTUM")
}

func TestQueueDelayFloor(t *testing.T) {
	s := NewService(nil, nil, 0)
	assert.Equal(t, time.Second, s.queueDelay)

	s = NewService(nil, nil, 250*time.Millisecond)
	assert.Equal(t, time.Second, s.queueDelay)

	s = NewService(nil, nil, 3*time.Second)
	assert.Equal(t, 3*time.Second, s.queueDelay)
}

func TestCancelRegistry(t *testing.T) {
	r := newCancelRegistry()

	assert.False(t, r.cancel("absent"))

	ctx, cancel := context.WithCancel(context.Background())
	r.register("t1", cancel)

	assert.True(t, r.cancel("t1"))
	assert.Error(t, ctx.Err())

	r.unregister("t1")
	assert.False(t, r.cancel("t1"))
}
