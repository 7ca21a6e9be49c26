package heap

import "cmp"

// Item is a key and its payload as returned by PopMax and Peek.
type Item[K cmp.Ordered, V any] struct {
	Key   K
	Value V
}

type node[K cmp.Ordered, V any] struct {
	item     Item[K, V]
	subheaps []*node[K, V]
}

// Heap is a max pairing heap keyed by K.
type Heap[K cmp.Ordered, V any] struct {
	root *node[K, V]
	len  int
}

// New returns an empty heap.
func New[K cmp.Ordered, V any]() *Heap[K, V] {
	return &Heap[K, V]{}
}

// Len returns the number of items in the heap.
func (h *Heap[K, V]) Len() int {
	return h.len
}

// Insert adds value under key and returns the new size.
func (h *Heap[K, V]) Insert(key K, value V) int {
	h.root = merge(h.root, &node[K, V]{item: Item[K, V]{Key: key, Value: value}})
	h.len++
	return h.len
}

// Peek returns the item with the largest key without removing it.
func (h *Heap[K, V]) Peek() (Item[K, V], bool) {
	if h.root == nil {
		return Item[K, V]{}, false
	}
	return h.root.item, true
}

// PopMax removes and returns the item with the largest key. The boolean is
// false when the heap is empty.
func (h *Heap[K, V]) PopMax() (Item[K, V], bool) {
	if h.len == 0 {
		return Item[K, V]{}, false
	}
	top := h.root
	h.len--
	h.root = mergePairs(top.subheaps)
	top.subheaps = nil
	return top.item, true
}

// merge makes the root with the larger key the parent of the other. On equal
// keys a absorbs b.
func merge[K cmp.Ordered, V any](a, b *node[K, V]) *node[K, V] {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.item.Key >= b.item.Key {
		a.subheaps = append(a.subheaps, b)
		return a
	}
	b.subheaps = append(b.subheaps, a)
	return b
}

// mergePairs walks subheaps from the most recently linked end, merging
// neighbours two at a time, then folds the pairs back into one tree starting
// from the last pair produced.
func mergePairs[K cmp.Ordered, V any](subheaps []*node[K, V]) *node[K, V] {
	if len(subheaps) == 0 {
		return nil
	}

	paired := make([]*node[K, V], 0, len(subheaps)/2+1)
	i := len(subheaps) - 1
	for ; i >= 1; i -= 2 {
		paired = append(paired, merge(subheaps[i], subheaps[i-1]))
	}
	if i == 0 {
		paired = append(paired, subheaps[0])
	}

	root := paired[len(paired)-1]
	for j := len(paired) - 2; j >= 0; j-- {
		root = merge(paired[j], root)
	}
	return root
}
