package ctrie

// Iterator returns an iterator over the entries of the Trie as of the
// moment Iterator was called: it is built on an internal RClone, so
// concurrent mutation of t after this call does not affect the keys and
// values the iterator yields.
func (t *Trie[Key, Value]) Iterator() *Iter[Key, Value] {
	iter := &Iter[Key, Value]{t: t}
	iter.push((*Iter[Key, Value]).mainIter).iNode = t.RClone().readRoot()
	return iter
}

// Iter iterates over the entries of a Trie snapshot in an unspecified
// order. A zero Iter is not usable; obtain one via Trie.Iterator.
type Iter[Key, Value any] struct {
	t *Trie[Key, Value]
	// stack simulates the recursion stack of a conventional recursive
	// traversal of the trie.
	stack []iterFrame[Key, Value]
	curr  *mapEntry[Key, Value]
}

type iterFrame[Key, Value any] struct {
	iter  func(*Iter[Key, Value], *iterFrame[Key, Value]) bool
	iNode *iNode[Key, Value]
	slice []branch
	lNode *lNode[Key, Value]
}

// Next advances the iterator and reports whether a further entry is
// available.
func (i *Iter[Key, Value]) Next() bool {
	i.curr = nil
	for i.curr == nil && len(i.stack) > 0 {
		if f := &i.stack[len(i.stack)-1]; !f.iter(i, f) {
			i.pop()
		}
	}
	return i.curr != nil
}

// Value returns the value of the entry the most recent call to Next
// produced, or the zero Value if Next has not been called or returned
// false.
func (i *Iter[Key, Value]) Value() Value {
	if i.curr == nil {
		return zero[Value]()
	}
	return i.curr.value
}

// Key returns the key of the entry the most recent call to Next produced,
// or the zero Key if Next has not been called or returned false.
func (i *Iter[Key, Value]) Key() Key {
	if i.curr == nil {
		return zero[Key]()
	}
	return i.curr.key
}

// mainIter descends into a single I-node.
func (i *Iter[Key, Value]) mainIter(f *iterFrame[Key, Value]) bool {
	if f.iNode == nil {
		return false
	}
	main := gcasRead(f.iNode, i.t)
	f.iNode = nil
	switch {
	case main.cNode != nil:
		i.push((*Iter[Key, Value]).sliceIter).slice = main.cNode.slice
		return true
	case main.lNode != nil:
		i.push((*Iter[Key, Value]).listIter).lNode = main.lNode
		return true
	case main.tNode != nil:
		i.curr = main.tNode.sNode.entry
		return true
	}
	panic("unreachable")
}

// sliceIter iterates through the branches of a cNode.
func (i *Iter[Key, Value]) sliceIter(f *iterFrame[Key, Value]) bool {
	a := f.slice
	if len(a) == 0 {
		return false
	}
	f.slice = a[1:]
	switch b := a[0].(type) {
	case *iNode[Key, Value]:
		i.push((*Iter[Key, Value]).mainIter).iNode = b
		return true
	case *sNode[Key, Value]:
		i.curr = b.entry
		return true
	}
	panic("unreachable")
}

// listIter iterates through the entries of an lNode chain.
func (i *Iter[Key, Value]) listIter(f *iterFrame[Key, Value]) bool {
	l := f.lNode
	if l == nil {
		return false
	}
	f.lNode = f.lNode.tail
	i.curr = l.head.entry
	return true
}

func (i *Iter[Key, Value]) pop() {
	i.stack = i.stack[0 : len(i.stack)-1]
}

// push pushes f onto the iterator stack and returns the new frame for the
// caller to populate.
func (i *Iter[Key, Value]) push(f func(*Iter[Key, Value], *iterFrame[Key, Value]) bool) *iterFrame[Key, Value] {
	i.stack = append(i.stack, iterFrame[Key, Value]{})
	elem := &i.stack[len(i.stack)-1]
	elem.iter = f
	return elem
}
