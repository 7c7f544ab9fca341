package component

import (
	"sync"
	"time"

	"github.com/radshield/qemu-hce/model"
)

// WallClock maps virtual time onto the process monotonic clock: virtual zero
// is the moment the clock was created, and timers are real time.AfterFunc
// timers. It serves the leader session when no simulation is driving time.
type WallClock struct {
	mu    sync.Mutex
	epoch time.Time
}

func MakeWallClock() *WallClock {
	return &WallClock{
		epoch: time.Now(),
	}
}

func (wc *WallClock) Now() model.VirtualTime {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return model.TimeZero.Add(time.Since(wc.epoch))
}

func (wc *WallClock) SetTimer(expireAt model.VirtualTime, name string, callback func()) (cancel func()) {
	if !expireAt.TimeExists() {
		panic("attempt to set timer at nonexistent time")
	}
	wc.mu.Lock()
	delay := time.Duration(expireAt.Nanoseconds()) - time.Since(wc.epoch)
	wc.mu.Unlock()
	timer := time.AfterFunc(delay, callback)
	return func() {
		timer.Stop()
	}
}

func (wc *WallClock) Later(name string, callback func()) (cancel func()) {
	return wc.SetTimer(wc.Now(), name, callback)
}

var _ model.SimContext = &WallClock{}
