/*
Package heap provides a max-priority pairing heap.

Nodes keep their children in an unordered list and the heap is restructured
lazily with a two-pass pairing merge when the maximum is removed. Insert is
O(1) and PopMax is O(log n) amortized.

	h := heap.New[float64, string]()
	h.Insert(10, "low")
	h.Insert(80, "high")

	item, ok := h.PopMax() // item.Key == 80, item.Value == "high"

Equal keys come out in an unspecified order; callers needing FIFO among equal
priorities must encode a sequence number into the key.

A Heap is not safe for concurrent use.
*/
package heap
