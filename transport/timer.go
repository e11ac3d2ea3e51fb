package transport

import (
	"container/heap"
	"time"
)

// Timer is a one-shot timer scheduled on a Loop.
type Timer struct {
	when  time.Time
	fn    func()
	index int
}

// Active returns true until the timer has fired or been cancelled.
func (t *Timer) Active() bool {
	return t != nil && t.index >= 0
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h *timerHeap) add(t *Timer) {
	heap.Push(h, t)
}

func (h *timerHeap) remove(t *Timer) {
	if t.index < 0 || t.index >= len(*h) || (*h)[t.index] != t {
		return
	}

	heap.Remove(h, t.index)
}

// expired pops every timer due at now, in deadline order.
func (h *timerHeap) expired(now time.Time) []*Timer {
	var due []*Timer

	for h.Len() > 0 && !(*h)[0].when.After(now) {
		due = append(due, heap.Pop(h).(*Timer))
	}

	return due
}

// next returns how long until the earliest timer is due.
func (h timerHeap) next(now time.Time) (time.Duration, bool) {
	if len(h) == 0 {
		return 0, false
	}

	d := h[0].when.Sub(now)
	if d < 0 {
		d = 0
	}

	return d, true
}
