package irq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFire_StopsAtFirstHandler(t *testing.T) {
	l := NewLine()
	var calledA, calledB, calledC bool

	l.Register(func(cookie any, hits int) bool {
		calledA = true
		return false
	}, nil)
	l.Register(func(cookie any, hits int) bool {
		calledB = true
		return true
	}, nil)
	l.Register(func(cookie any, hits int) bool {
		calledC = true
		return true
	}, nil)

	handled := l.Fire(1)
	assert.True(t, handled)
	assert.True(t, calledA)
	assert.True(t, calledB)
	assert.False(t, calledC, "the chain stops at the first handler that reports handled")
}

func TestFire_UnhandledWhenNoneReturnTrue(t *testing.T) {
	l := NewLine()
	l.Register(func(cookie any, hits int) bool { return false }, nil)
	assert.False(t, l.Fire(1))
}

func TestDisable_SkipsHandler(t *testing.T) {
	l := NewLine()
	var called bool
	h := l.Register(func(cookie any, hits int) bool {
		called = true
		return true
	}, nil)
	h.Disable()

	assert.False(t, l.Fire(1))
	assert.False(t, called)
}

func TestUnregister_RemovesHandler(t *testing.T) {
	l := NewLine()
	h := l.Register(func(cookie any, hits int) bool { return true }, nil)
	h.Unregister()
	assert.False(t, l.Fire(1))
}

func TestFire_PassesHitsThrough(t *testing.T) {
	l := NewLine()
	var got int
	l.Register(func(cookie any, hits int) bool {
		got = hits
		return true
	}, "cookie")
	l.Fire(7)
	assert.Equal(t, 7, got)
}
