package daemon

import (
	"context"
	"strconv"
)

func xferKey(queue string, slot int64) string {
	return queue + "/" + strconv.FormatInt(slot, 10)
}

// beginXfer derives a cancelable context for one slot's stripe session and
// registers its cancel func so a concurrent cancelTransfer call can reach
// it. The returned done func must be called exactly once to deregister.
func (d *Daemon) beginXfer(parent context.Context, queue string, slot int64) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	key := xferKey(queue, slot)
	d.xfers.Store(key, cancel)
	return ctx, func() {
		d.xfers.Delete(key)
		cancel()
	}
}

// cancelXfer cancels the in-flight stripe session for queue/slot, if any,
// reporting whether one was found.
func (d *Daemon) cancelXfer(queue string, slot int64) bool {
	v, ok := d.xfers.Load(xferKey(queue, slot))
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}
