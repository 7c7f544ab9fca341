package component

import (
	"bytes"
	"testing"
	"time"
)

func TestDataBufferTransfers(t *testing.T) {
	sim := MakeSimControllerSeeded(1)
	source, sink := DataBufferBytes(sim, 8)

	if n := sink.TryWrite([]byte("abcdefghij")); n != 8 {
		t.Errorf("expected capacity-limited write of 8, got %d", n)
	}
	buf := make([]byte, 3)
	if n := source.TryRead(buf); n != 3 || !bytes.Equal(buf, []byte("abc")) {
		t.Errorf("unexpected read %d %q", n, buf[:n])
	}
	// freed space is writable again
	if n := sink.TryWrite([]byte("XY")); n != 2 {
		t.Errorf("expected write of 2 after partial drain, got %d", n)
	}
	rest := make([]byte, 16)
	n := source.TryRead(rest)
	if !bytes.Equal(rest[:n], []byte("defghXY")) {
		t.Errorf("unexpected remainder %q", rest[:n])
	}
}

func TestDataBufferEvents(t *testing.T) {
	sim := MakeSimControllerSeeded(1)
	source, sink := DataBufferBytes(sim, 4)

	readableEvents := 0
	source.Subscribe(func() { readableEvents += 1 })
	writableEvents := 0
	sink.Subscribe(func() { writableEvents += 1 })

	sink.TryWrite([]byte("full"))
	sim.Advance(sim.Now())
	if readableEvents == 0 {
		t.Error("no readable event after write")
	}

	source.TryRead(make([]byte, 4))
	sim.Advance(sim.Now())
	if writableEvents == 0 {
		t.Error("no writable event after read")
	}
}

func TestMeteredSinkLimitsRate(t *testing.T) {
	sim := MakeSimControllerSeeded(1)
	_, sink := DataBufferBytes(sim, 1024)
	metered := MakeMeteredSink(sim, sink, 10, time.Millisecond)

	if n := metered.TryWrite(bytes.Repeat([]byte{'x'}, 25)); n != 10 {
		t.Errorf("expected first window to accept 10, got %d", n)
	}
	if n := metered.TryWrite([]byte("more")); n != 0 {
		t.Errorf("expected exhausted window to accept 0, got %d", n)
	}

	notified := 0
	metered.Subscribe(func() { notified += 1 })
	sim.Advance(sim.Now().Add(2 * time.Millisecond))
	if notified == 0 {
		t.Error("no refill notification after interval")
	}
	if n := metered.TryWrite([]byte("again")); n != 5 {
		t.Errorf("expected refilled window to accept 5, got %d", n)
	}
}
