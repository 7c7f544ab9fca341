package follower

import (
	"bytes"
	"fmt"
	"log"
	"time"

	"github.com/radshield/qemu-hce/model"
)

// LineWriterApp is a self-contained follower application for bench testing a
// leader: it logs every completed line received from the leader, and writes
// one timestamped line of its own per interval, using the deadline timer to
// wake the leader when no other traffic is flowing.
type LineWriterApp struct {
	interval      time.Duration
	collectedData []byte
	lastWrite     model.VirtualTime
}

var _ App = &LineWriterApp{}

func (t *LineWriterApp) Sync(pendingRemaining int, now model.VirtualTime, writeData []byte) (expireAt model.VirtualTime, readData []byte) {
	if len(writeData) > 0 {
		t.collectedData = append(t.collectedData, writeData...)
		subslices := bytes.Split(t.collectedData, []byte("\n"))
		for _, ss := range subslices[:len(subslices)-1] {
			log.Printf("%v: received completed line from leader: %q", now, string(ss))
		}
		t.collectedData = subslices[len(subslices)-1]
	}
	if now.AtOrAfter(t.lastWrite.Add(t.interval)) && pendingRemaining == 0 {
		t.lastWrite = now
		readData = []byte(fmt.Sprintf("data written at time %v from follower\n", now))
		log.Printf("%v: wrote data to leader: %q", now, string(readData))
	}
	if now.AtOrAfter(t.lastWrite.Add(t.interval)) {
		expireAt = model.TimeNever
	} else {
		expireAt = t.lastWrite.Add(t.interval)
	}
	return expireAt, readData
}

func MakeLineWriterApp(interval time.Duration) *LineWriterApp {
	if interval <= 0 {
		panic("invalid interval for line writer app")
	}
	return &LineWriterApp{
		interval:  interval,
		lastWrite: model.TimeZero,
	}
}
