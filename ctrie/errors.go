package ctrie

import "errors"

// ErrKeyNotFound is the sentinel error reported by MustFind when the key
// does not exist in the trie. Apart from ErrReadOnly, raised only by
// mutating a read-only clone, it is the sole user-visible failure mode of
// an otherwise total set of operations.
var ErrKeyNotFound = errors.New("ctrie: key not found")

// ErrReadOnly is the panic value raised by any mutating operation called on
// a read-only clone (see Trie.RClone).
var ErrReadOnly = errors.New("ctrie: cannot modify a read-only clone")
