package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVirtualTimeExistence(t *testing.T) {
	assert.True(t, TimeZero.TimeExists())
	assert.True(t, VirtualTime(12345).TimeExists())
	assert.False(t, TimeNever.TimeExists())
	assert.False(t, VirtualTime(-500).TimeExists())
}

func TestVirtualTimeString(t *testing.T) {
	assert.Equal(t, "[never]", TimeNever.String())
	assert.Equal(t, "[0s+000000000ns]", TimeZero.String())
	assert.Equal(t, "[2s+000000500ns]", VirtualTime(2_000_000_500).String())
}

func TestVirtualTimeComparisons(t *testing.T) {
	a, b := VirtualTime(100), VirtualTime(200)
	assert.True(t, a.Before(b))
	assert.True(t, a.AtOrBefore(a))
	assert.True(t, b.After(a))
	assert.True(t, b.AtOrAfter(b))
	assert.Panics(t, func() { TimeNever.Before(a) })
	assert.Panics(t, func() { a.After(TimeNever) })
}

func TestVirtualTimeAdd(t *testing.T) {
	assert.Equal(t, VirtualTime(1_000_000_100), VirtualTime(100).Add(time.Second))
	// adding to a nonexistent time keeps it nonexistent
	assert.Equal(t, TimeNever, TimeNever.Add(time.Hour))
}

func TestVirtualTimeSince(t *testing.T) {
	assert.Equal(t, 900*time.Nanosecond, VirtualTime(1000).Since(VirtualTime(100)))
	assert.Panics(t, func() { VirtualTime(100).Since(VirtualTime(1000)) })
}

func TestFromNanoseconds(t *testing.T) {
	vt, ok := FromNanoseconds(42)
	assert.True(t, ok)
	assert.Equal(t, VirtualTime(42), vt)
	_, ok = FromNanoseconds(-1)
	assert.False(t, ok)
}
