package component

import (
	"fmt"
	"sort"

	"github.com/radshield/qemu-hce/model"
)

// EventDispatcher fans a readiness event out to subscribers in subscription
// order. Dispatches scheduled with DispatchLater are coalesced until they run.
type EventDispatcher struct {
	ctx          model.SimContext
	laterName    string
	subscribers  map[uint64]func()
	sorted       []func()
	nextIndex    uint64
	pendingLater bool
}

func MakeEventDispatcher(ctx model.SimContext, name string) *EventDispatcher {
	return &EventDispatcher{
		ctx:         ctx,
		laterName:   fmt.Sprintf("%s/DispatchLater", name),
		subscribers: map[uint64]func(){},
	}
}

func (ed *EventDispatcher) rebuildSorted() {
	var keys []uint64
	for k := range ed.subscribers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	ed.sorted = make([]func(), len(keys))
	for i, k := range keys {
		ed.sorted[i] = ed.subscribers[k]
	}
}

func (ed *EventDispatcher) Subscribe(callback func()) (cancel func()) {
	index := ed.nextIndex
	ed.nextIndex += 1
	ed.subscribers[index] = callback
	ed.rebuildSorted()
	return func() {
		delete(ed.subscribers, index)
		ed.rebuildSorted()
	}
}

func (ed *EventDispatcher) Dispatch() {
	for _, f := range ed.sorted {
		f()
	}
}

func (ed *EventDispatcher) DispatchLater() {
	if !ed.pendingLater {
		ed.pendingLater = true
		ed.ctx.Later(ed.laterName, func() {
			ed.pendingLater = false
			ed.Dispatch()
		})
	}
}
