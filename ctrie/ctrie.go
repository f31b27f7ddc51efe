/*
Copyright 2015 Workiva, LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

 http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ctrie

import (
	"bytes"
	"fmt"
	"hash/maphash"
	"math/bits"

	"github.com/ctrie-go/ctrie/gatomic"
)

const (
	// w is the number of hash bits consumed per trie level: each level
	// branches 2^w = 32 ways.
	w = 5

	// maxLevel is the hash-bit budget consumed before a trie falls back
	// to an lNode collision chain (see invariant 5 in the data model).
	maxLevel = 32
)

var seed = maphash.MakeSeed()

// StringHash hashes a string key.
func StringHash(key string) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	h.WriteString(key)
	return h.Sum64()
}

// BytesHash hashes a []byte key.
func BytesHash(key []byte) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	h.Write(key)
	return h.Sum64()
}

// String is a string key that hashes itself, for use with New.
type String string

func (s String) Hash() uint64 { return StringHash(string(s)) }

// Hasher is satisfied by key types that know how to hash themselves.
type Hasher interface {
	comparable
	Hash() uint64
}

// Trie is a mutable Key->Value map implemented as a concurrent hash trie.
// Every exported method is safe to call from multiple goroutines
// concurrently, without external locking.
//
// The zero Trie is not usable; construct one with New or NewWithFuncs.
type Trie[Key, Value any] struct {
	root     *iNode[Key, Value]
	readOnly bool
	hashFunc func(Key) uint64
	eqFunc   func(Key, Key) bool
}

// generation demarcates Trie clones: an I-node belongs to a generation, and
// two generations are equal iff they are the same heap allocation. A
// monotonic counter is deliberately not used, to sidestep ABA: the struct
// has a field because two distinct zero-size values may alias in memory.
type generation struct{ _ bool }

// New returns a new, empty Trie whose keys compare and hash themselves via
// Hasher.
func New[Key Hasher, Value any]() *Trie[Key, Value] {
	return NewWithFuncs[Key, Value](func(k1, k2 Key) bool {
		return k1 == k2
	}, Key.Hash)
}

// NewWithFuncs returns a new, empty Trie using the given equality and hash
// functions instead of relying on Hasher. Passing a nil eqFunc or hashFunc
// falls back to a built-in implementation for string and []byte keys; any
// other key type without explicit functions panics.
func NewWithFuncs[Key, Value any](
	eqFunc func(k1, k2 Key) bool,
	hashFunc func(Key) uint64,
) *Trie[Key, Value] {
	if eqFunc == nil {
		var k Key
		switch (interface{}(k)).(type) {
		case string:
			eqFunc = interface{}(func(k1, k2 string) bool {
				return k1 == k2
			}).(func(Key, Key) bool)
		case []byte:
			eqFunc = interface{}(bytes.Equal).(func(Key, Key) bool)
		default:
			panic(fmt.Errorf("ctrie: no equality function known for %T", k))
		}
	}
	if hashFunc == nil {
		var k Key
		switch (interface{}(k)).(type) {
		case string:
			hashFunc = interface{}(StringHash).(func(Key) uint64)
		case []byte:
			hashFunc = interface{}(BytesHash).(func(Key) uint64)
		default:
			panic(fmt.Errorf("ctrie: no hash function known for %T", k))
		}
	}
	root := &iNode[Key, Value]{
		main: &mainNode[Key, Value]{
			cNode: &cNode[Key, Value]{},
		},
	}
	return newTrie[Key, Value](root, eqFunc, hashFunc, false)
}

func newTrie[Key, Value any](
	root *iNode[Key, Value],
	eqFunc func(Key, Key) bool,
	hashFunc func(Key) uint64,
	readOnly bool,
) *Trie[Key, Value] {
	return &Trie[Key, Value]{
		root:     root,
		eqFunc:   eqFunc,
		hashFunc: hashFunc,
		readOnly: readOnly,
	}
}

// Add inserts value under key, overwriting any existing value (spec op:
// add).
func (t *Trie[Key, Value]) Add(key Key, value Value) {
	t.assertReadWrite()
	t.insert(&mapEntry[Key, Value]{
		key:   key,
		value: value,
		hash:  uint32(t.hashFunc(key)),
	})
}

// Find returns the value for key and reports whether it was present (spec
// op: find_opt). It never blocks and never panics.
func (t *Trie[Key, Value]) Find(key Key) (Value, bool) {
	return t.lookup(&mapEntry[Key, Value]{
		key:  key,
		hash: uint32(t.hashFunc(key)),
	})
}

// MustFind returns the value for key, panicking with ErrKeyNotFound if the
// key is absent (spec op: find).
func (t *Trie[Key, Value]) MustFind(key Key) Value {
	v, ok := t.Find(key)
	if !ok {
		panic(ErrKeyNotFound)
	}
	return v
}

// Contains reports whether key is present (spec op: mem).
func (t *Trie[Key, Value]) Contains(key Key) bool {
	_, ok := t.Find(key)
	return ok
}

// Delete removes key, returning the removed value and whether it was
// present. Deleting an absent key is a no-op that returns (zero, false)
// (spec op: remove).
func (t *Trie[Key, Value]) Delete(key Key) (Value, bool) {
	t.assertReadWrite()
	return t.remove(&mapEntry[Key, Value]{
		key:  key,
		hash: uint32(t.hashFunc(key)),
	})
}

// Clone returns a stable, point-in-time copy-on-write fork of the Trie in
// O(1): no nodes are copied eagerly, and subsequent mutation of either the
// original or the clone regenerates only the nodes on the path it touches
// (spec op: snapshot/copy). If the Trie is read-only, the clone is as well.
func (t *Trie[Key, Value]) Clone() *Trie[Key, Value] {
	return t.clone(t.readOnly)
}

// RClone returns a stable, read-only point-in-time fork of the Trie. Every
// mutating method on the result panics with ErrReadOnly.
func (t *Trie[Key, Value]) RClone() *Trie[Key, Value] {
	return t.clone(true)
}

// Snapshot is an alias of Clone (spec vocabulary: snapshot).
func (t *Trie[Key, Value]) Snapshot() *Trie[Key, Value] { return t.Clone() }

// Copy is an alias of Clone (spec vocabulary: copy).
func (t *Trie[Key, Value]) Copy() *Trie[Key, Value] { return t.Clone() }

// clone implements the two-token generation-bump protocol: the current root
// is atomically moved to a fresh generation g' (so any in-flight mutation
// that began before the clone sees a generation mismatch and restarts),
// then a second fresh generation g'' is minted for the returned handle's
// root.
func (t *Trie[Key, Value]) clone(readOnly bool) *Trie[Key, Value] {
	if readOnly && t.readOnly {
		return t
	}
	for {
		root := t.readRoot()
		main := gcasRead(root, t)
		if t.rdcssRoot(root, main, root.copyToGen(&generation{}, t)) {
			if readOnly {
				// A read-only clone never mutates, so it can safely share
				// the pre-bump root and its generation.
				return newTrie(root, t.eqFunc, t.hashFunc, readOnly)
			}
			// A read-write clone must not share a generation with anyone:
			// mint and copy to yet another fresh generation.
			return newTrie(t.readRoot().copyToGen(&generation{}, t), t.eqFunc, t.hashFunc, readOnly)
		}
	}
}

// Clear atomically resets the Trie to empty (spec op: clear).
func (t *Trie[Key, Value]) Clear() {
	t.assertReadWrite()
	for {
		root := t.readRoot()
		gen := &generation{}
		newRoot := &iNode[Key, Value]{
			main: &mainNode[Key, Value]{cNode: &cNode[Key, Value]{gen: gen}},
			gen:  gen,
		}
		if t.rdcssRoot(root, gcasRead(root, t), newRoot) {
			return
		}
	}
}

// IsEmpty reports whether the Trie currently has no entries (spec op:
// is_empty). Under concurrent mutation this is best-effort, as spec.md
// requires.
func (t *Trie[Key, Value]) IsEmpty() bool {
	main := gcasRead(t.readRoot(), t)
	return main.cNode != nil && main.cNode.bmp == 0
}

func (t *Trie[Key, Value]) assertReadWrite() {
	if t.readOnly {
		panic(ErrReadOnly)
	}
}

func (t *Trie[Key, Value]) insert(entry *mapEntry[Key, Value]) {
	root := t.readRoot()
	if !t.iinsert(root, entry, 0, nil, root.gen) {
		t.insert(entry)
	}
}

func (t *Trie[Key, Value]) lookup(entry *mapEntry[Key, Value]) (Value, bool) {
	root := t.readRoot()
	result, exists, ok := t.ilookup(root, entry, 0, nil, root.gen)
	for !ok {
		return t.lookup(entry)
	}
	return result, exists
}

func (t *Trie[Key, Value]) remove(entry *mapEntry[Key, Value]) (Value, bool) {
	root := t.readRoot()
	result, exists, ok := t.iremove(root, entry, 0, nil, root.gen)
	for !ok {
		return t.remove(entry)
	}
	return result, exists
}

// iinsert attempts to insert entry into the Trie. If false is returned, the
// operation lost a CAS race or hit a stale generation and must be retried
// from the root.
func (t *Trie[Key, Value]) iinsert(i *iNode[Key, Value], entry *mapEntry[Key, Value], lev uint, parent *iNode[Key, Value], startGen *generation) bool {
	// Linearization point.
	main := gcasRead(i, t)
	switch {
	case main.cNode != nil:
		cn := main.cNode
		flag, pos := flagPos(entry.hash, lev, cn.bmp)
		if cn.bmp&flag == 0 {
			// The slot is empty: a copy of the cNode with the new entry is
			// CAS'd in. The linearization point is a successful gcas.
			rn := cn
			if cn.gen != i.gen {
				rn = cn.renewed(i.gen, t)
			}
			ncn := &mainNode[Key, Value]{
				cNode: rn.inserted(pos, flag, &sNode[Key, Value]{entry}, i.gen),
			}
			return gcas(i, main, ncn, t)
		}
		branch := cn.slice[pos]
		switch branch := branch.(type) {
		case *iNode[Key, Value]:
			if startGen == branch.gen {
				return t.iinsert(branch, entry, lev+w, i, startGen)
			}
			if gcas(i, main, &mainNode[Key, Value]{cNode: cn.renewed(startGen, t)}, t) {
				return t.iinsert(i, entry, lev, parent, startGen)
			}
			return false
		case *sNode[Key, Value]:
			sn := branch
			if !t.eqFunc(sn.entry.key, entry.key) {
				// Two distinct keys share this slot's hash prefix: extend
				// the trie one level deeper with a fresh cNode holding both.
				rn := cn
				if cn.gen != i.gen {
					rn = cn.renewed(i.gen, t)
				}
				nsn := &sNode[Key, Value]{entry}
				nin := &iNode[Key, Value]{main: newMainNode(sn, sn.entry.hash, nsn, nsn.entry.hash, lev+w, i.gen), gen: i.gen}
				ncn := &mainNode[Key, Value]{cNode: rn.updated(pos, nin, i.gen)}
				return gcas(i, main, ncn, t)
			}
			ncn := &mainNode[Key, Value]{cNode: cn.updated(pos, &sNode[Key, Value]{entry}, i.gen)}
			return gcas(i, main, ncn, t)
		default:
			panic("ctrie: invalid trie state")
		}
	case main.tNode != nil:
		clean(parent, lev-w, t)
		return false
	case main.lNode != nil:
		nln := &mainNode[Key, Value]{lNode: main.lNode.inserted(entry, t.eqFunc)}
		return gcas(i, main, nln, t)
	default:
		panic("ctrie: invalid trie state")
	}
}

// ilookup attempts to fetch entry's value from the Trie. The first two
// return values are the value and whether it was present; the third
// indicates whether the operation itself succeeded (false means retry from
// the root).
func (t *Trie[Key, Value]) ilookup(i *iNode[Key, Value], entry *mapEntry[Key, Value], lev uint, parent *iNode[Key, Value], startGen *generation) (Value, bool, bool) {
	// Linearization point.
	main := gcasRead(i, t)
	switch {
	case main.cNode != nil:
		cn := main.cNode
		flag, pos := flagPos(entry.hash, lev, cn.bmp)
		if cn.bmp&flag == 0 {
			return zero[Value](), false, true
		}
		branch := cn.slice[pos]
		switch branch := branch.(type) {
		case *iNode[Key, Value]:
			in := branch
			if t.readOnly || startGen == in.gen {
				return t.ilookup(in, entry, lev+w, i, startGen)
			}
			if gcas(i, main, &mainNode[Key, Value]{cNode: cn.renewed(startGen, t)}, t) {
				return t.ilookup(i, entry, lev, parent, startGen)
			}
			return zero[Value](), false, false
		case *sNode[Key, Value]:
			sn := branch
			if t.eqFunc(sn.entry.key, entry.key) {
				return sn.entry.value, true, true
			}
			return zero[Value](), false, true
		default:
			panic("ctrie: invalid trie state")
		}
	case main.tNode != nil:
		return cleanReadOnly(main.tNode, lev, parent, t, entry)
	case main.lNode != nil:
		val, ok := main.lNode.lookup(entry, t.eqFunc)
		return val, ok, true
	default:
		panic("ctrie: invalid trie state")
	}
}

// iremove attempts to remove entry from the Trie. Return values follow
// ilookup's convention.
func (t *Trie[Key, Value]) iremove(i *iNode[Key, Value], entry *mapEntry[Key, Value], lev uint, parent *iNode[Key, Value], startGen *generation) (Value, bool, bool) {
	// Linearization point.
	main := gcasRead(i, t)
	switch {
	case main.cNode != nil:
		cn := main.cNode
		flag, pos := flagPos(entry.hash, lev, cn.bmp)
		if cn.bmp&flag == 0 {
			return zero[Value](), false, true
		}
		branch := cn.slice[pos]
		switch branch := branch.(type) {
		case *iNode[Key, Value]:
			in := branch
			if startGen == in.gen {
				return t.iremove(in, entry, lev+w, i, startGen)
			}
			if gcas(i, main, &mainNode[Key, Value]{cNode: cn.renewed(startGen, t)}, t) {
				return t.iremove(i, entry, lev, parent, startGen)
			}
			return zero[Value](), false, false
		case *sNode[Key, Value]:
			sn := branch
			if !t.eqFunc(sn.entry.key, entry.key) {
				return zero[Value](), false, true
			}
			// Keys match: CAS in a copy of this cNode without the sNode,
			// vertically contracted. This CAS is the linearization point.
			ncn := cn.removed(pos, flag, i.gen)
			cntr := toContracted(ncn, lev)
			if gcas(i, main, cntr, t) {
				if parent != nil {
					main = gcasRead(i, t)
					if main.tNode != nil {
						cleanParent(parent, i, entry.hash, lev-w, t, startGen)
					}
				}
				return sn.entry.value, true, true
			}
			return zero[Value](), false, false
		default:
			panic("ctrie: invalid trie state")
		}
	case main.tNode != nil:
		clean(parent, lev-w, t)
		return zero[Value](), false, false
	case main.lNode != nil:
		nln := &mainNode[Key, Value]{
			lNode: main.lNode.removed(entry, t.eqFunc),
		}
		if nln.lNode != nil && nln.lNode.tail == nil {
			// Exactly one entry left: tomb it so the parent can absorb it.
			nln = entomb(nln.lNode.head)
		}
		if gcas(i, main, nln, t) {
			val, ok := main.lNode.lookup(entry, t.eqFunc)
			return val, ok, true
		}
		return zero[Value](), false, false
	default:
		panic("ctrie: invalid trie state")
	}
}

// iNode is an indirection node: the unit of atomic mutation. I-nodes remain
// present in the trie even as the main-node they point to changes; all
// thread-safety is achieved by CASing the main pointer, never the slice the
// I-node lives in.
type iNode[Key, Value any] struct {
	main *mainNode[Key, Value]
	gen  *generation

	// rdcss is set only transiently during a root RDCSS operation: the
	// I-node is then a wrapper around the descriptor so a single pointer
	// type is CAS'd on the root regardless of whether an RDCSS is in
	// flight.
	rdcss *rdcssDescriptor[Key, Value]
}

// copyToGen returns a copy of this I-node tagged with gen, sharing the same
// main pointer.
func (i *iNode[Key, Value]) copyToGen(gen *generation, t *Trie[Key, Value]) *iNode[Key, Value] {
	nin := &iNode[Key, Value]{gen: gen}
	main := gcasRead(i, t)
	gatomic.StorePointer(&nin.main, main)
	return nin
}

// mainNode is a tagged union: exactly one of cNode, tNode, lNode is set
// (failed/prev are GCAS bookkeeping, never user-visible).
type mainNode[Key, Value any] struct {
	cNode  *cNode[Key, Value]
	tNode  *tNode[Key, Value]
	lNode  *lNode[Key, Value]
	failed *mainNode[Key, Value]

	// prev holds the pre-CAS main node while a gcas is in flight; a nil
	// prev means the gcas has committed (or this node was never part of
	// one). See gcasComplete.
	prev *mainNode[Key, Value]
}

// cNode is a compressed branching node: a 32-bit presence bitmap plus a
// packed array of branches, ordered by bitmap position.
type cNode[Key, Value any] struct {
	bmp   uint32
	slice []branch
	gen   *generation
}

// newMainNode builds the mainNode needed to hold both x and y, which share
// a hash prefix through lev. It recurses one level at a time, wrapping
// single-slot cNodes in fresh I-nodes, until the two hash codes diverge or
// the addressable hash width is exhausted (in which case it falls back to
// an lNode collision chain).
func newMainNode[Key, Value any](x *sNode[Key, Value], xhc uint32, y *sNode[Key, Value], yhc uint32, lev uint, gen *generation) *mainNode[Key, Value] {
	if lev >= maxLevel {
		return &mainNode[Key, Value]{
			lNode: &lNode[Key, Value]{
				head: y,
				tail: &lNode[Key, Value]{
					head: x,
				},
			},
		}
	}
	xidx := (xhc >> lev) & 0x1f
	yidx := (yhc >> lev) & 0x1f
	bmp := uint32((1 << xidx) | (1 << yidx))

	switch {
	case xidx == yidx:
		main := newMainNode(x, xhc, y, yhc, lev+w, gen)
		in := &iNode[Key, Value]{main: main, gen: gen}
		return &mainNode[Key, Value]{cNode: &cNode[Key, Value]{bmp, []branch{in}, gen}}
	case xidx < yidx:
		return &mainNode[Key, Value]{cNode: &cNode[Key, Value]{bmp, []branch{x, y}, gen}}
	default:
		return &mainNode[Key, Value]{cNode: &cNode[Key, Value]{bmp, []branch{y, x}, gen}}
	}
}

// inserted returns a copy of c with br inserted at pos.
func (c *cNode[Key, Value]) inserted(pos int, flag uint32, br branch, gen *generation) *cNode[Key, Value] {
	slice := make([]branch, len(c.slice)+1)
	copy(slice, c.slice[:pos])
	slice[pos] = br
	copy(slice[pos+1:], c.slice[pos:])
	return &cNode[Key, Value]{
		bmp:   c.bmp | flag,
		slice: slice,
		gen:   gen,
	}
}

// updated returns a copy of c with the branch at pos replaced by br.
func (c *cNode[Key, Value]) updated(pos int, br branch, gen *generation) *cNode[Key, Value] {
	slice := make([]branch, len(c.slice))
	copy(slice, c.slice)
	slice[pos] = br
	return &cNode[Key, Value]{
		bmp:   c.bmp,
		slice: slice,
		gen:   gen,
	}
}

// removed returns a copy of c with the branch at pos dropped.
func (c *cNode[Key, Value]) removed(pos int, flag uint32, gen *generation) *cNode[Key, Value] {
	slice := make([]branch, len(c.slice)-1)
	copy(slice, c.slice[0:pos])
	copy(slice[pos:], c.slice[pos+1:])
	return &cNode[Key, Value]{
		bmp:   c.bmp ^ flag,
		slice: slice,
		gen:   gen,
	}
}

// renewed returns a copy of c with every I-node branch (transitively
// reachable through further renewed calls as each child is next touched)
// regenerated to gen. Regenerating only the *branch* pointers here, not
// deep descendants, matches spec.md §4.6 & §9: deeper stale generations are
// picked up lazily the first time a later operation descends through them.
func (c *cNode[Key, Value]) renewed(gen *generation, t *Trie[Key, Value]) *cNode[Key, Value] {
	slice := make([]branch, len(c.slice))
	for i, br := range c.slice {
		switch br := br.(type) {
		case *iNode[Key, Value]:
			slice[i] = br.copyToGen(gen, t)
		default:
			slice[i] = br
		}
	}
	return &cNode[Key, Value]{
		bmp:   c.bmp,
		slice: slice,
		gen:   gen,
	}
}

// tNode is a tombstone: a sentinel marking that the subtree below this
// I-node has collapsed to a single entry and must be absorbed by the
// parent before any other operation may proceed through it.
type tNode[Key, Value any] struct {
	sNode *sNode[Key, Value]
}

// untombed returns a fresh sNode carrying this tNode's entry.
func (tn *tNode[Key, Value]) untombed() *sNode[Key, Value] {
	return &sNode[Key, Value]{&mapEntry[Key, Value]{
		key:   tn.sNode.entry.key,
		value: tn.sNode.entry.value,
		hash:  tn.sNode.entry.hash,
	}}
}

// lNode is a persistent cons-list of entries sharing a full hash prefix,
// used once the addressable hash width is exhausted.
type lNode[Key, Value any] struct {
	head *sNode[Key, Value]
	tail *lNode[Key, Value]
}

func (l *lNode[Key, Value]) lookup(e *mapEntry[Key, Value], eq func(Key, Key) bool) (Value, bool) {
	for ; l != nil; l = l.tail {
		if eq(e.key, l.head.entry.key) {
			return l.head.entry.value, true
		}
	}
	return zero[Value](), false
}

func (l *lNode[Key, Value]) inserted(entry *mapEntry[Key, Value], eq func(Key, Key) bool) *lNode[Key, Value] {
	return &lNode[Key, Value]{
		head: &sNode[Key, Value]{entry},
		tail: l.removed(entry, eq),
	}
}

func (l *lNode[Key, Value]) removed(e *mapEntry[Key, Value], eq func(Key, Key) bool) *lNode[Key, Value] {
	for l1 := l; l1 != nil; l1 = l1.tail {
		if eq(e.key, l1.head.entry.key) {
			return l.remove(l1)
		}
	}
	return l
}

func (l *lNode[Key, Value]) remove(l1 *lNode[Key, Value]) *lNode[Key, Value] {
	if l == l1 {
		return l.tail
	}
	return &lNode[Key, Value]{
		head: l.head,
		tail: l.tail.remove(l1),
	}
}

// branch is either *iNode[Key, Value] or *sNode[Key, Value].
type branch interface{}

// mapEntry is an immutable key/value/hash triple.
type mapEntry[Key, Value any] struct {
	key   Key
	value Value
	hash  uint32
}

// sNode is a leaf: a singleton branch holding one entry.
type sNode[Key, Value any] struct {
	entry *mapEntry[Key, Value]
}

// toContracted applies vertical contraction: a non-root cNode with exactly
// one sNode branch becomes a tNode wrapping it.
func toContracted[Key, Value any](cn *cNode[Key, Value], lev uint) *mainNode[Key, Value] {
	if lev > 0 && len(cn.slice) == 1 {
		switch branch := cn.slice[0].(type) {
		case *sNode[Key, Value]:
			return entomb(branch)
		default:
			return &mainNode[Key, Value]{cNode: cn}
		}
	}
	return &mainNode[Key, Value]{cNode: cn}
}

// toCompressed applies horizontal compression: every I-node branch that has
// collapsed to a tomb is resurrected in place (I-nodes holding an lNode are
// kept as they are, whatever its length), then the result is vertically
// contracted.
func toCompressed[Key, Value any](cn *cNode[Key, Value], lev uint) *mainNode[Key, Value] {
	tmpSlice := make([]branch, len(cn.slice))
	for i, sub := range cn.slice {
		switch sub := sub.(type) {
		case *iNode[Key, Value]:
			in := sub
			main := gatomic.LoadPointer(&in.main)
			tmpSlice[i] = resurrect(in, main)
		case *sNode[Key, Value]:
			tmpSlice[i] = sub
		default:
			panic("ctrie: invalid trie state")
		}
	}

	return toContracted(&cNode[Key, Value]{
		bmp:   cn.bmp,
		slice: tmpSlice,
	}, lev)
}

func entomb[Key, Value any](m *sNode[Key, Value]) *mainNode[Key, Value] {
	return &mainNode[Key, Value]{tNode: &tNode[Key, Value]{m}}
}

func resurrect[Key, Value any](in *iNode[Key, Value], main *mainNode[Key, Value]) branch {
	if main.tNode != nil {
		return main.tNode.untombed()
	}
	return in
}

// clean absorbs a tomb at i by compacting its parent's-eye view (clean-
// before-dive): if i's main node is a cNode, CAS in its horizontally
// compressed + vertically contracted form. The result of the CAS is
// intentionally ignored: a lost race means some other goroutine already
// performed an equivalent or superseding compaction.
func clean[Key, Value any](i *iNode[Key, Value], lev uint, t *Trie[Key, Value]) bool {
	main := gcasRead(i, t)
	if main.cNode != nil {
		return gcas(i, main, toCompressed(main.cNode, lev), t)
	}
	return true
}

func cleanReadOnly[Key, Value any](tn *tNode[Key, Value], lev uint, p *iNode[Key, Value], t *Trie[Key, Value], entry *mapEntry[Key, Value]) (val Value, exists bool, ok bool) {
	if !t.readOnly {
		clean(p, lev-w, t)
		return zero[Value](), false, false
	}
	if tn.sNode.entry.hash == entry.hash && t.eqFunc(tn.sNode.entry.key, entry.key) {
		return tn.sNode.entry.value, true, true
	}
	return zero[Value](), false, true
}

// cleanParent absorbs a tomb that appeared at i, from i's parent p
// (clean-after-dive): i having just committed a tNode as its main node, p's
// reference to i is replaced by i's resurrected entry (or dropped).
func cleanParent[Key, Value any](p, i *iNode[Key, Value], hc uint32, lev uint, t *Trie[Key, Value], startGen *generation) {
	main := gatomic.LoadPointer(&i.main)
	pMain := gatomic.LoadPointer(&p.main)
	if pMain.cNode == nil {
		return
	}
	flag, pos := flagPos(hc, lev, pMain.cNode.bmp)
	if pMain.cNode.bmp&flag == 0 {
		return
	}
	sub := pMain.cNode.slice[pos]
	if sub != i || main.tNode == nil {
		return
	}
	ncn := pMain.cNode.updated(pos, resurrect(i, main), i.gen)
	if gcas(p, pMain, toContracted(ncn, lev), t) || t.readRoot().gen != startGen {
		return
	}
	cleanParent(p, i, hc, lev, t, startGen)
}

// flagPos computes the bitmap slot and packed array position for hashcode
// at level lev.
func flagPos(hashcode uint32, lev uint, bmp uint32) (uint32, int) {
	idx := (hashcode >> lev) & 0x1f
	flag := uint32(1) << idx
	pos := bits.OnesCount32(bmp & (flag - 1))
	return flag, pos
}

// gcas is a generation-compare-and-swap: semantically similar to an RDCSS,
// but it avoids allocating the intermediate descriptor except on the path
// where a concurrent clone has actually moved the root to a new
// generation. The commit only sticks if the Trie's root generation is
// still the one the mutation began in.
func gcas[Key, Value any](in *iNode[Key, Value], old, n *mainNode[Key, Value], t *Trie[Key, Value]) bool {
	gatomic.StorePointer(&n.prev, old)
	if gatomic.CompareAndSwapPointer(&in.main, old, n) {
		gcasComplete(in, n, t)
		return gatomic.LoadPointer(&n.prev) == nil
	}
	return false
}

// gcasRead performs a GCAS-linearizable read of i's main node.
func gcasRead[Key, Value any](i *iNode[Key, Value], t *Trie[Key, Value]) *mainNode[Key, Value] {
	m := gatomic.LoadPointer(&i.main)
	if gatomic.LoadPointer(&m.prev) == nil {
		return m
	}
	return gcasComplete(i, m, t)
}

// gcasComplete commits (or rolls back) an in-flight gcas.
func gcasComplete[Key, Value any](i *iNode[Key, Value], m *mainNode[Key, Value], t *Trie[Key, Value]) *mainNode[Key, Value] {
	for {
		if m == nil {
			return nil
		}
		prev := gatomic.LoadPointer(&m.prev)
		root := t.rdcssReadRoot(true)
		if prev == nil {
			return m
		}

		if prev.failed != nil {
			// The previous gcas failed: swap the old value back in.
			fn := prev.failed
			if gatomic.CompareAndSwapPointer(&i.main, m, fn) {
				return fn
			}
			m = gatomic.LoadPointer(&i.main)
			continue
		}

		if root.gen == i.gen && !t.readOnly {
			if gatomic.CompareAndSwapPointer(&m.prev, prev, nil) {
				return m
			}
			continue
		}

		// Generations diverged: mark the gcas failed so the I-node's main
		// node is restored to its previous value.
		gatomic.CompareAndSwapPointer(&m.prev, prev, &mainNode[Key, Value]{failed: prev})
		m = gatomic.LoadPointer(&i.main)
		return gcasComplete(i, m, t)
	}
}

// rdcssDescriptor communicates the intent to replace the Trie root while
// verifying the old root's main node has not changed in the meantime.
type rdcssDescriptor[Key, Value any] struct {
	old       *iNode[Key, Value]
	expected  *mainNode[Key, Value]
	nv        *iNode[Key, Value]
	committed int32
}

// readRoot performs a linearizable read of the Trie's root.
func (t *Trie[Key, Value]) readRoot() *iNode[Key, Value] {
	return t.rdcssReadRoot(false)
}

// rdcssReadRoot performs an RDCSS-linearizable read of the root, with the
// given abort priority (used to break potential deadlocks against a
// concurrent RDCSS commit).
func (t *Trie[Key, Value]) rdcssReadRoot(abort bool) *iNode[Key, Value] {
	r := gatomic.LoadPointer(&t.root)
	if r.rdcss != nil {
		return t.rdcssComplete(abort)
	}
	return r
}

// rdcssRoot performs an RDCSS on the Trie root: used only by Clone/Clear to
// swap in a new root I-node.
func (t *Trie[Key, Value]) rdcssRoot(old *iNode[Key, Value], expected *mainNode[Key, Value], nv *iNode[Key, Value]) bool {
	desc := &iNode[Key, Value]{
		rdcss: &rdcssDescriptor[Key, Value]{
			old:      old,
			expected: expected,
			nv:       nv,
		},
	}
	if t.casRoot(old, desc) {
		t.rdcssComplete(false)
		return gatomic.LoadInt32(&desc.rdcss.committed) == 1
	}
	return false
}

func (t *Trie[Key, Value]) rdcssComplete(abort bool) *iNode[Key, Value] {
	for {
		r := gatomic.LoadPointer(&t.root)
		if r.rdcss == nil {
			return r
		}
		desc := r.rdcss
		ov := desc.old
		exp := desc.expected
		nv := desc.nv
		if abort {
			if t.casRoot(r, ov) {
				return ov
			}
			continue
		}
		oldMain := gcasRead(ov, t)
		if oldMain == exp {
			if t.casRoot(r, nv) {
				gatomic.StoreInt32(&desc.committed, 1)
				return nv
			}
			continue
		}
		if t.casRoot(r, ov) {
			return ov
		}
	}
}

func (t *Trie[Key, Value]) casRoot(ov, nv *iNode[Key, Value]) bool {
	t.assertReadWrite()
	return gatomic.CompareAndSwapPointer(&t.root, ov, nv)
}

// zero returns the zero value of V.
func zero[V any]() V {
	var v V
	return v
}
