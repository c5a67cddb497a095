package manager

import "container/list"

// requestLRU is a bounded set of recently processed requestIds. Not
// goroutine-safe; callers hold the worker lock.
type requestLRU struct {
	cap   int
	order *list.List
	items map[string]*list.Element
}

func newRequestLRU(capacity int) *requestLRU {
	return &requestLRU{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

func (l *requestLRU) Contains(id string) bool {
	el, ok := l.items[id]
	if ok {
		l.order.MoveToFront(el)
	}
	return ok
}

func (l *requestLRU) Add(id string) {
	if el, ok := l.items[id]; ok {
		l.order.MoveToFront(el)
		return
	}
	l.items[id] = l.order.PushFront(id)
	for l.order.Len() > l.cap {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.items, oldest.Value.(string))
	}
}

func (l *requestLRU) Len() int { return l.order.Len() }
