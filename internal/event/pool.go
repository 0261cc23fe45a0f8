package event

import "sync"

var closeEventPool = sync.Pool{
	New: func() any { return new(CloseEvent) },
}

var fillEventPool = sync.Pool{
	New: func() any { return new(FillEvent) },
}

// AcquireCloseEvent returns a zeroed CloseEvent from the pool.
func AcquireCloseEvent() *CloseEvent {
	return closeEventPool.Get().(*CloseEvent)
}

// ReleaseCloseEvent resets and returns c to the pool. Callers must not use
// c after calling Release.
func ReleaseCloseEvent(c *CloseEvent) {
	c.Reset()
	closeEventPool.Put(c)
}

// AcquireFillEvent returns a zeroed FillEvent from the pool.
func AcquireFillEvent() *FillEvent {
	return fillEventPool.Get().(*FillEvent)
}

// ReleaseFillEvent resets and returns f to the pool. Callers must not use
// f after calling Release.
func ReleaseFillEvent(f *FillEvent) {
	f.Reset()
	fillEventPool.Put(f)
}
