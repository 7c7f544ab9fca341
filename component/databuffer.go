package component

import "github.com/radshield/qemu-hce/model"

type dataBuffer struct {
	ctx model.SimContext

	buffered []byte
	capacity int

	writable *EventDispatcher
	readable *EventDispatcher
}

type dataBufferSource dataBuffer
type dataBufferSink dataBuffer

func (dbs *dataBufferSource) TryRead(into []byte) int {
	toRead := len(into)
	if toRead > len(dbs.buffered) {
		toRead = len(dbs.buffered)
	}
	if toRead > 0 {
		copy(into, dbs.buffered[:toRead])
		dbs.buffered = dbs.buffered[toRead:]
		dbs.writable.DispatchLater()
	}
	return toRead
}

func (dbs *dataBufferSource) Subscribe(callback func()) (cancel func()) {
	return dbs.readable.Subscribe(callback)
}

func (dbs *dataBufferSink) TryWrite(from []byte) int {
	toWrite := len(from)
	if toWrite > dbs.capacity-len(dbs.buffered) {
		toWrite = dbs.capacity - len(dbs.buffered)
	}
	if toWrite > 0 {
		dbs.buffered = append(dbs.buffered, from[:toWrite]...)
		dbs.readable.DispatchLater()
	}
	return toWrite
}

func (dbs *dataBufferSink) Subscribe(callback func()) (cancel func()) {
	return dbs.writable.Subscribe(callback)
}

// DataBufferBytes in the returned source reads back whatever was written to
// the returned sink, up to capacity bytes of backlog.
func DataBufferBytes(ctx model.SimContext, capacity int) (model.DataSourceBytes, model.DataSinkBytes) {
	db := &dataBuffer{
		ctx:      ctx,
		buffered: make([]byte, 0, capacity),
		capacity: capacity,
		writable: MakeEventDispatcher(ctx, "component.DataBufferBytes/Writable"),
		readable: MakeEventDispatcher(ctx, "component.DataBufferBytes/Readable"),
	}
	return (*dataBufferSource)(db), (*dataBufferSink)(db)
}
