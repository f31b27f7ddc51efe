package ctrie

// ForEach calls f once for every entry in the trie, in an unspecified
// order, over a stable RClone snapshot taken at the start of the call
// (spec op: iterate/for_each). Mutations to t that race with a ForEach in
// progress are not reflected in what f sees.
func (t *Trie[Key, Value]) ForEach(f func(key Key, value Value)) {
	for iter := t.Iterator(); iter.Next(); {
		f(iter.Key(), iter.Value())
	}
}

// Size returns the number of entries in the trie (spec op: size). Like
// the teacher's Len, this is O(n): a full-trie walk, not a cached count.
func (t *Trie[Key, Value]) Size() int {
	n := 0
	for iter := t.Iterator(); iter.Next(); {
		n++
	}
	return n
}

// Fold reduces every entry of t into a single accumulator value, starting
// from init and applying f in an unspecified order (spec op: fold). Fold
// is a free function, not a method, because Go forbids a method from
// introducing its own type parameter (Acc here) independent of the
// receiver's.
func Fold[Key, Value, Acc any](t *Trie[Key, Value], init Acc, f func(acc Acc, key Key, value Value) Acc) Acc {
	acc := init
	for iter := t.Iterator(); iter.Next(); {
		acc = f(acc, iter.Key(), iter.Value())
	}
	return acc
}

// Reduce is Fold with an early exit: f returns false as its second result
// to stop the traversal before visiting the remaining entries (spec op:
// reduce, distinguished from fold by its ability to short-circuit).
func Reduce[Key, Value, Acc any](t *Trie[Key, Value], init Acc, f func(acc Acc, key Key, value Value) (Acc, bool)) Acc {
	acc := init
	for iter := t.Iterator(); iter.Next(); {
		next, keepGoing := f(acc, iter.Key(), iter.Value())
		acc = next
		if !keepGoing {
			break
		}
	}
	return acc
}

// Exists reports whether any entry of t satisfies f, short-circuiting at
// the first match (spec op: exists).
func Exists[Key, Value any](t *Trie[Key, Value], f func(key Key, value Value) bool) bool {
	for iter := t.Iterator(); iter.Next(); {
		if f(iter.Key(), iter.Value()) {
			return true
		}
	}
	return false
}

// ForAll reports whether every entry of t satisfies f, short-circuiting at
// the first counterexample (spec op: for_all).
func ForAll[Key, Value any](t *Trie[Key, Value], f func(key Key, value Value) bool) bool {
	for iter := t.Iterator(); iter.Next(); {
		if !f(iter.Key(), iter.Value()) {
			return false
		}
	}
	return true
}
