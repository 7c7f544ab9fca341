package component

import (
	"testing"

	"github.com/radshield/qemu-hce/model"
)

func TestTimersFireInExpiryOrder(t *testing.T) {
	sim := MakeSimControllerSeeded(1)
	var fired []int
	sim.SetTimer(model.VirtualTime(300), "test/C", func() { fired = append(fired, 3) })
	sim.SetTimer(model.VirtualTime(100), "test/A", func() { fired = append(fired, 1) })
	sim.SetTimer(model.VirtualTime(200), "test/B", func() { fired = append(fired, 2) })

	next := sim.Advance(model.VirtualTime(150))
	if len(fired) != 1 || fired[0] != 1 {
		t.Errorf("expected only first timer to fire, got %v", fired)
	}
	if next != model.VirtualTime(200) {
		t.Errorf("expected next timer at 200, got %v", next)
	}

	next = sim.Advance(model.VirtualTime(1000))
	if len(fired) != 3 || fired[1] != 2 || fired[2] != 3 {
		t.Errorf("expected all timers in order, got %v", fired)
	}
	if next != model.TimeNever {
		t.Errorf("expected no remaining timers, got %v", next)
	}
}

func TestTimerCancel(t *testing.T) {
	sim := MakeSimControllerSeeded(1)
	fired := false
	cancel := sim.SetTimer(model.VirtualTime(100), "test/Cancelled", func() { fired = true })
	cancel()
	cancel() // cancel must be safe to call twice
	sim.Advance(model.VirtualTime(500))
	if fired {
		t.Error("cancelled timer fired anyway")
	}
}

func TestLaterRunsDuringAdvance(t *testing.T) {
	sim := MakeSimControllerSeeded(1)
	sim.Advance(model.VirtualTime(50))
	ran := false
	sim.Later("test/Later", func() {
		ran = true
		if sim.Now() != model.VirtualTime(50) {
			t.Errorf("later callback at wrong time %v", sim.Now())
		}
	})
	if ran {
		t.Error("later callback ran before Advance")
	}
	sim.Advance(model.VirtualTime(50))
	if !ran {
		t.Error("later callback did not run")
	}
}

func TestTimerSetDuringCallback(t *testing.T) {
	sim := MakeSimControllerSeeded(1)
	var fired []model.VirtualTime
	sim.SetTimer(model.VirtualTime(100), "test/First", func() {
		fired = append(fired, sim.Now())
		sim.SetTimer(model.VirtualTime(250), "test/Chained", func() {
			fired = append(fired, sim.Now())
		})
	})
	sim.Advance(model.VirtualTime(1000))
	if len(fired) != 2 || fired[0] != 100 || fired[1] != 250 {
		t.Errorf("unexpected chain of timer firings: %v", fired)
	}
	if sim.Now() != model.VirtualTime(1000) {
		t.Errorf("advance ended at wrong time %v", sim.Now())
	}
}
