package executor

import (
	"container/heap"

	"github.com/tuyendl123/ComfyUI/internal/models"
)

// itemHeap orders pending work by priority number, then by arrival
// sequence. Lower numbers run first; front-of-queue submissions carry
// negative numbers and therefore outrank everything queued normally.
type itemHeap []*models.QueueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Number != h[j].Number {
		return h[i].Number < h[j].Number
	}
	return h[i].Seq < h[j].Seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(*models.QueueItem))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// ordered returns a copy of the heap's items in execution order without
// disturbing the heap.
func (h itemHeap) ordered() []models.QueueItem {
	tmp := make(itemHeap, len(h))
	copy(tmp, h)
	heap.Init(&tmp)
	out := make([]models.QueueItem, 0, len(tmp))
	for tmp.Len() > 0 {
		out = append(out, *heap.Pop(&tmp).(*models.QueueItem))
	}
	return out
}
