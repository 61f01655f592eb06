package ratelimit

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/wsrelay/core/src/codec"
	"github.com/wsrelay/core/src/dispatcher"
	"github.com/wsrelay/core/src/ids"
	"github.com/wsrelay/core/src/session"
)

func TestLimiterBlocksAfterBurstExhausted(t *testing.T) {
	sreg := session.New(ids.New(), time.Minute, time.Minute, nil, zerolog.Nop())
	s := sreg.Create("", nil, nil)

	l := New(1, 1)
	d := dispatcher.New(zerolog.Nop())
	d.Use(l.Middleware())
	d.Register(&dispatcher.Registration{
		Event: "x",
		Handler: func(ctx *dispatcher.Context) (*codec.Message, map[string]any, error) {
			return nil, map[string]any{"ok": true}, nil
		},
	})

	first := d.Dispatch(s, dispatcher.Deps{}, codec.Message{Event: "x"})
	assert.NotNil(t, first)
	assert.Equal(t, "x.response", first.Event)

	second := d.Dispatch(s, dispatcher.Deps{}, codec.Message{Event: "x"})
	assert.Nil(t, second) // middleware blocks dispatch silently; it sends its own reply
}

func TestForgetResetsBucket(t *testing.T) {
	l := New(1, 1)
	lim := l.limiterFor("s1")
	assert.True(t, lim.Allow())
	assert.False(t, lim.Allow())

	l.Forget("s1")
	fresh := l.limiterFor("s1")
	assert.True(t, fresh.Allow())
}
