package ctrie

// Update atomically applies f to the current value stored under key (with
// ok reporting whether key was present) and installs the result: if keep is
// false the key is removed (or left absent) instead of written. It is the
// fused read-modify-write primitive spec.md models as a single operation
// rather than a racy Find-then-Add/Delete pair, and is built the same way
// Add/Delete are: an optimistic descent through the trie that retries from
// the root on a lost gcas race or stale generation.
func (t *Trie[Key, Value]) Update(key Key, f func(old Value, ok bool) (newValue Value, keep bool)) (Value, bool) {
	t.assertReadWrite()
	entry := &mapEntry[Key, Value]{
		key:  key,
		hash: uint32(t.hashFunc(key)),
	}
	for {
		root := t.readRoot()
		val, kept, ok := t.iupdate(root, entry, f, 0, nil, root.gen)
		if ok {
			return val, kept
		}
	}
}

// iupdate descends the trie to entry's slot and resolves it via f in a
// single gcas, mirroring iinsert's structure but computing the replacement
// value from the slot's current occupant instead of overwriting it
// unconditionally.
func (t *Trie[Key, Value]) iupdate(i *iNode[Key, Value], entry *mapEntry[Key, Value], f func(Value, bool) (Value, bool), lev uint, parent *iNode[Key, Value], startGen *generation) (Value, bool, bool) {
	main := gcasRead(i, t)
	switch {
	case main.cNode != nil:
		cn := main.cNode
		flag, pos := flagPos(entry.hash, lev, cn.bmp)
		if cn.bmp&flag == 0 {
			newValue, keep := f(zero[Value](), false)
			if !keep {
				return newValue, false, true
			}
			rn := cn
			if cn.gen != i.gen {
				rn = cn.renewed(i.gen, t)
			}
			e := &mapEntry[Key, Value]{key: entry.key, value: newValue, hash: entry.hash}
			ncn := &mainNode[Key, Value]{cNode: rn.inserted(pos, flag, &sNode[Key, Value]{e}, i.gen)}
			return newValue, true, gcas(i, main, ncn, t)
		}
		branch := cn.slice[pos]
		switch branch := branch.(type) {
		case *iNode[Key, Value]:
			if startGen == branch.gen {
				return t.iupdate(branch, entry, f, lev+w, i, startGen)
			}
			if gcas(i, main, &mainNode[Key, Value]{cNode: cn.renewed(startGen, t)}, t) {
				return t.iupdate(i, entry, f, lev, parent, startGen)
			}
			return zero[Value](), false, false
		case *sNode[Key, Value]:
			sn := branch
			if !t.eqFunc(sn.entry.key, entry.key) {
				newValue, keep := f(zero[Value](), false)
				if !keep {
					return newValue, false, true
				}
				rn := cn
				if cn.gen != i.gen {
					rn = cn.renewed(i.gen, t)
				}
				e := &mapEntry[Key, Value]{key: entry.key, value: newValue, hash: entry.hash}
				nsn := &sNode[Key, Value]{e}
				nin := &iNode[Key, Value]{main: newMainNode(sn, sn.entry.hash, nsn, nsn.entry.hash, lev+w, i.gen), gen: i.gen}
				ncn := &mainNode[Key, Value]{cNode: rn.updated(pos, nin, i.gen)}
				return newValue, true, gcas(i, main, ncn, t)
			}
			newValue, keep := f(sn.entry.value, true)
			if keep {
				ncn := &mainNode[Key, Value]{cNode: cn.updated(pos, &sNode[Key, Value]{&mapEntry[Key, Value]{key: entry.key, value: newValue, hash: entry.hash}}, i.gen)}
				return newValue, true, gcas(i, main, ncn, t)
			}
			ncn := cn.removed(pos, flag, i.gen)
			cntr := toContracted(ncn, lev)
			if !gcas(i, main, cntr, t) {
				return zero[Value](), false, false
			}
			if parent != nil {
				if after := gcasRead(i, t); after.tNode != nil {
					cleanParent(parent, i, entry.hash, lev-w, t, startGen)
				}
			}
			return zero[Value](), false, true
		default:
			panic("ctrie: invalid trie state")
		}
	case main.tNode != nil:
		clean(parent, lev-w, t)
		return zero[Value](), false, false
	case main.lNode != nil:
		old, existed := main.lNode.lookup(entry, t.eqFunc)
		newValue, keep := f(old, existed)
		var nln *mainNode[Key, Value]
		if keep {
			e := &mapEntry[Key, Value]{key: entry.key, value: newValue, hash: entry.hash}
			nln = &mainNode[Key, Value]{lNode: main.lNode.inserted(e, t.eqFunc)}
		} else if existed {
			nln = &mainNode[Key, Value]{lNode: main.lNode.removed(entry, t.eqFunc)}
			if nln.lNode != nil && nln.lNode.tail == nil {
				nln = entomb(nln.lNode.head)
			}
		} else {
			return zero[Value](), false, true
		}
		return newValue, keep, gcas(i, main, nln, t)
	default:
		panic("ctrie: invalid trie state")
	}
}
