package errors

import (
	stderr "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestError(t *testing.T) {
	e1 := New("cause1")
	e2 := New("cause2").Wrap(e1)
	e := New("dummy").Wrap(e2)
	e3 := e.Unwrap()
	assert.True(t, Is(e, e1))
	assert.True(t, Is(e, e2))
	assert.True(t, e3 == e2)
	assert.Equal(t, "dummy: cause2: cause1", e.Error())
}

func TestWrapKeepsSentinel(t *testing.T) {
	sentinel := New("not found")
	a := sentinel.Wrap(stderr.New("a"))
	b := sentinel.Wrapf("ref %q", "refs/heads/main")

	assert.True(t, Is(a, sentinel))
	assert.True(t, Is(b, sentinel))
	assert.Equal(t, "not found", sentinel.Error())
	assert.Equal(t, `not found: ref "refs/heads/main"`, b.Error())
	assert.False(t, Is(a, New("not found")))

	var target *Error
	assert.True(t, As(b, &target))
}

func TestWrapWithLog(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	sentinel := New("lock busy")

	err := sentinel.WrapWithLog(zap.New(core), stderr.New("held elsewhere"), zap.String("path", "refmon.lock"))
	assert.True(t, Is(err, sentinel))
	assert.Equal(t, 1, logs.Len())
	assert.Equal(t, "lock busy", logs.All()[0].Message)
}
