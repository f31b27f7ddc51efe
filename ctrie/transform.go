package ctrie

import "math/bits"

// MapValues returns a freshly built trie of the same shape as t, with every
// value replaced by f(key, value) (spec op: map). Every I-node is rebuilt
// because the value type changes, but the branching structure (bitmaps,
// hash-collision lists, tomb placement) is copied verbatim: the same
// bitmap-preserving rebuild cNode.renewed performs on a single cNode for
// generation bumps, applied here recursively to every level.
//
// MapValues is a free function, not a method, because Go forbids a method
// from introducing a type parameter (Value2) independent of its receiver's.
func MapValues[Key, Value, Value2 any](t *Trie[Key, Value], f func(key Key, value Value) Value2) *Trie[Key, Value2] {
	src := t.RClone()
	gen := &generation{}
	newRoot := mapINode(src.readRoot(), src, f, gen)
	return newTrie[Key, Value2](newRoot, t.eqFunc, t.hashFunc, false)
}

func mapINode[Key, Value, Value2 any](i *iNode[Key, Value], src *Trie[Key, Value], f func(Key, Value) Value2, gen *generation) *iNode[Key, Value2] {
	return &iNode[Key, Value2]{
		main: mapMainNode(gcasRead(i, src), src, f, gen),
		gen:  gen,
	}
}

func mapMainNode[Key, Value, Value2 any](m *mainNode[Key, Value], src *Trie[Key, Value], f func(Key, Value) Value2, gen *generation) *mainNode[Key, Value2] {
	switch {
	case m.cNode != nil:
		slice := make([]branch, len(m.cNode.slice))
		for idx, br := range m.cNode.slice {
			switch br := br.(type) {
			case *iNode[Key, Value]:
				slice[idx] = mapINode(br, src, f, gen)
			case *sNode[Key, Value]:
				slice[idx] = mapSNode(br, f)
			default:
				panic("ctrie: invalid trie state")
			}
		}
		return &mainNode[Key, Value2]{cNode: &cNode[Key, Value2]{bmp: m.cNode.bmp, slice: slice, gen: gen}}
	case m.tNode != nil:
		return &mainNode[Key, Value2]{tNode: &tNode[Key, Value2]{sNode: mapSNode(m.tNode.sNode, f)}}
	case m.lNode != nil:
		var head, tail *lNode[Key, Value2]
		for l := m.lNode; l != nil; l = l.tail {
			node := &lNode[Key, Value2]{head: mapSNode(l.head, f)}
			if head == nil {
				head = node
				tail = node
			} else {
				tail.tail = node
				tail = node
			}
		}
		return &mainNode[Key, Value2]{lNode: head}
	default:
		panic("ctrie: invalid trie state")
	}
}

func mapSNode[Key, Value, Value2 any](s *sNode[Key, Value], f func(Key, Value) Value2) *sNode[Key, Value2] {
	return &sNode[Key, Value2]{entry: &mapEntry[Key, Value2]{
		key:   s.entry.key,
		value: f(s.entry.key, s.entry.value),
		hash:  s.entry.hash,
	}}
}

// FilterMapInPlace mutates t so that every entry (key, value) is replaced by
// (key, f(key, value)) when f reports keep=true, and dropped entirely
// otherwise (spec op: filter_map_inplace). Unlike calling Update once per
// key, the whole trie is rewritten in a single fused descent: each cNode is
// rebuilt locally, dropped positions clear their bitmap bit, and the result
// is vertically contracted exactly as iremove contracts after a deletion;
// a child that collapses to a tomb during its own descent is absorbed by
// its parent in the same pass (clean-after-dive), so no second traversal is
// needed to mop up tombstones.
func (t *Trie[Key, Value]) FilterMapInPlace(f func(key Key, value Value) (newValue Value, keep bool)) {
	t.assertReadWrite()
	root := t.readRoot()
	t.ifiltermap(root, f, 0, root.gen)
}

// ifiltermap rewrites the subtree rooted at i in place, retrying the local
// gcas if it loses a race with a concurrent mutation. f may be invoked more
// than once for a given entry under contention, so it must be pure.
//
// startGen is the generation of the trie as observed when FilterMapInPlace
// began its descent. A child I-node whose own gen has fallen behind
// startGen (the trie was cloned since that child was last touched) cannot
// be gcas'd directly: gcasComplete only commits against the current root
// generation, so a gcas against a stale child would fail forever. Every
// cNode is therefore renewed to startGen, exactly as iinsert and iupdate
// do for the single branch they descend into, before any of its I-node
// children are recursed into or CAS'd.
func (t *Trie[Key, Value]) ifiltermap(i *iNode[Key, Value], f func(Key, Value) (Value, bool), lev uint, startGen *generation) {
	for {
		main := gcasRead(i, t)
		switch {
		case main.cNode != nil:
			cn := main.cNode
			stale := false
			for _, br := range cn.slice {
				if in, ok := br.(*iNode[Key, Value]); ok && in.gen != startGen {
					stale = true
					break
				}
			}
			if stale {
				gcas(i, main, &mainNode[Key, Value]{cNode: cn.renewed(startGen, t)}, t)
				continue
			}
			// Recurse into every I-node child first: this only mutates
			// the child's own main pointer, never cn.slice itself, so cn
			// stays valid for the rebuild below without a re-read.
			for _, br := range cn.slice {
				if in, ok := br.(*iNode[Key, Value]); ok {
					t.ifiltermap(in, f, lev+w, startGen)
				}
			}
			var newSlice []branch
			var newBmp uint32
			for idx := 0; idx < 32; idx++ {
				flag := uint32(1) << idx
				if cn.bmp&flag == 0 {
					continue
				}
				pos := bits.OnesCount32(cn.bmp & (flag - 1))
				br := cn.slice[pos]
				switch br := br.(type) {
				case *iNode[Key, Value]:
					childMain := gcasRead(br, t)
					switch {
					case childMain.tNode != nil:
						newSlice = append(newSlice, resurrect(br, childMain))
						newBmp |= flag
					case childMain.cNode != nil && childMain.cNode.bmp == 0:
						// Everything under this child was filtered out.
					default:
						newSlice = append(newSlice, br)
						newBmp |= flag
					}
				case *sNode[Key, Value]:
					newValue, keep := f(br.entry.key, br.entry.value)
					if keep {
						e := &mapEntry[Key, Value]{key: br.entry.key, value: newValue, hash: br.entry.hash}
						newSlice = append(newSlice, &sNode[Key, Value]{e})
						newBmp |= flag
					}
				default:
					panic("ctrie: invalid trie state")
				}
			}
			ncn := &cNode[Key, Value]{bmp: newBmp, slice: newSlice, gen: i.gen}
			if gcas(i, main, toContracted(ncn, lev), t) {
				return
			}
		case main.tNode != nil:
			// Already tombed; the parent will absorb it on its next pass.
			return
		case main.lNode != nil:
			var head *lNode[Key, Value]
			n := 0
			for l := main.lNode; l != nil; l = l.tail {
				newValue, keep := f(l.head.entry.key, l.head.entry.value)
				if !keep {
					continue
				}
				e := &mapEntry[Key, Value]{key: l.head.entry.key, value: newValue, hash: l.head.entry.hash}
				head = &lNode[Key, Value]{head: &sNode[Key, Value]{e}, tail: head}
				n++
			}
			var nln *mainNode[Key, Value]
			switch {
			case n == 0:
				// Sentinel meaning "nothing left here"; a cNode with a
				// zero bitmap is otherwise unreachable below the root, so
				// the parent recognizes it unambiguously as empty.
				nln = &mainNode[Key, Value]{cNode: &cNode[Key, Value]{bmp: 0, gen: i.gen}}
			case n == 1:
				nln = entomb(head.head)
			default:
				nln = &mainNode[Key, Value]{lNode: head}
			}
			if gcas(i, main, nln, t) {
				return
			}
		default:
			panic("ctrie: invalid trie state")
		}
	}
}
