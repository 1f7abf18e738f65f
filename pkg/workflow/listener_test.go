package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListenersDropsNil(t *testing.T) {
	assert.Equal(t, NopListener{}, Listeners())
	assert.Equal(t, NopListener{}, Listeners(nil, nil))

	one := &recordingListener{}
	assert.Same(t, one, Listeners(nil, one))
}

func TestMultiListenerFansOut(t *testing.T) {
	a, b := &recordingListener{}, &recordingListener{}
	l := Listeners(a, b)

	l.OnStepStarted(1, 2, "first")
	l.OnDetail("working")
	l.OnDebug("verbose")
	l.OnStepCompleted(1, "first")

	want := []string{"started 1/2 first", "detail working", "debug verbose", "completed 1 first"}
	assert.Equal(t, want, a.all())
	assert.Equal(t, want, b.all())
}
