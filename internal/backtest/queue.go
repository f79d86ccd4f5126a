package backtest

import (
	"container/heap"
	"time"

	"backlab/internal/types"
)

// EventKind 标记事件种类。排序只看 (时间戳, 序号)，与种类无关，
// 这样不同种类的事件共享同一时间戳时依然有全序。
type EventKind string

const (
	EventFill     EventKind = "fill"
	EventCallback EventKind = "callback"
)

// Event 是事件队列中的带标签联合：成交事件携带 Order/Fill，
// 定时回调事件携带 Task。
type Event struct {
	Kind  EventKind
	At    time.Time
	Order *types.Order
	Fill  *types.Fill
	Task  *scheduledTask

	seq uint64
}

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if !h[i].At.Equal(h[j].At) {
		return h[i].At.Before(h[j].At)
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*Event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// EventQueue 按 (timestamp, 插入序号) 排序事件。相同输入重放时
// 序号分配一致，事件交错顺序逐字节可复现。
type EventQueue struct {
	heap eventHeap
	next uint64
}

func NewEventQueue() *EventQueue {
	q := &EventQueue{}
	heap.Init(&q.heap)
	return q
}

// Push 入队并分配单调递增序号作为并列时间戳的决胜键。
func (q *EventQueue) Push(ev *Event, at time.Time) {
	ev.At = at
	ev.seq = q.next
	q.next++
	heap.Push(&q.heap, ev)
}

// PopDue 弹出所有 timestamp ≤ now 的事件，保持全序；
// 晚于 now 的事件留在队列中。
func (q *EventQueue) PopDue(now time.Time) []*Event {
	var due []*Event
	for q.heap.Len() > 0 {
		head := q.heap[0]
		if head.At.After(now) {
			break
		}
		due = append(due, heap.Pop(&q.heap).(*Event))
	}
	return due
}

// Len 返回队列中未到期事件数。
func (q *EventQueue) Len() int { return q.heap.Len() }
