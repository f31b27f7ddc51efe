// Package ctrie implements a concurrent, lock-free hash trie (a Ctrie),
// a mutable Key->Value map that supports lock-free Add/Find/Delete/Update
// from any number of goroutines plus an O(1) Snapshot (copy-on-write fork),
// as described in "Concurrent Tries with Efficient Non-Blocking Clones"
// (Prokopec et al.): https://axel22.github.io/resources/docs/ctries-clone.pdf
package ctrie
