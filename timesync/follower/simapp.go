package follower

import (
	"github.com/radshield/qemu-hce/component"
	"github.com/radshield/qemu-hce/model"
)

// SimApp drives a discrete-event simulation as a follower application: each
// exchange fast-forwards the simulation to the leader's virtual time, feeds
// leader bytes into the sink, pulls reply bytes from the source, and reports
// the simulation's next timer as the leader's deadline.
type SimApp struct {
	controller *component.SimController
	source     model.DataSourceBytes
	sink       model.DataSinkBytes
	readChunk  int
}

var _ App = &SimApp{}

func (a *SimApp) Sync(pendingRemaining int, now model.VirtualTime, writeData []byte) (expireAt model.VirtualTime, readData []byte) {
	// fast-forward time right up until the receive point
	if a.controller.Now().Before(now) {
		_ = a.controller.Advance(now - 1)
	}
	// then deliver the leader's data
	if len(writeData) > 0 {
		actual := a.sink.TryWrite(writeData)
		if actual < len(writeData) {
			panic("UNIMPLEMENTED: back pressure on writes!")
		}
	}
	// then allow the data to be received in the proper nanosecond
	expireAt = a.controller.Advance(now)
	// then extract any reply data, but only if the leader can take it
	if pendingRemaining == 0 {
		outputData := make([]byte, a.readChunk)
		actual := a.source.TryRead(outputData)
		if actual > 0 {
			readData = outputData[:actual]
		}
	}
	if expireAt.TimeExists() && expireAt.AtOrBefore(now) {
		panic("timer too soon to be valid")
	}
	return expireAt, readData
}

func MakeSimApp(controller *component.SimController, source model.DataSourceBytes, sink model.DataSinkBytes) *SimApp {
	if controller.Now() != model.TimeZero {
		panic("invalid starting time in MakeSimApp")
	}
	return &SimApp{
		controller: controller,
		source:     source,
		sink:       sink,
		readChunk:  1024,
	}
}
