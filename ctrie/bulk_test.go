package ctrie

import (
	"sort"
	"strconv"
	"testing"

	"github.com/go-quicktest/qt"
)

func populated(n int) *Trie[String, int] {
	trie := New[String, int]()
	for i := 0; i < n; i++ {
		trie.Add(String(strconv.Itoa(i)), i)
	}
	return trie
}

func keys(t *Trie[String, int]) []string {
	var ks []string
	t.ForEach(func(k String, _ int) {
		ks = append(ks, string(k))
	})
	sort.Strings(ks)
	return ks
}

func TestForEach(t *testing.T) {
	trie := populated(10)
	seen := map[string]int{}
	trie.ForEach(func(k String, v int) {
		seen[string(k)] = v
	})
	qt.Assert(t, qt.Equals(len(seen), 10))
	for i := 0; i < 10; i++ {
		qt.Assert(t, qt.Equals(seen[strconv.Itoa(i)], i))
	}
}

func TestSizeAndIsEmpty(t *testing.T) {
	trie := New[String, int]()
	qt.Assert(t, qt.Equals(trie.Size(), 0))
	qt.Assert(t, qt.IsTrue(trie.IsEmpty()))

	trie = populated(42)
	qt.Assert(t, qt.Equals(trie.Size(), 42))
	qt.Assert(t, qt.IsFalse(trie.IsEmpty()))
}

func TestFold(t *testing.T) {
	trie := populated(10)
	sum := Fold(trie, 0, func(acc int, _ String, v int) int {
		return acc + v
	})
	qt.Assert(t, qt.Equals(sum, 45))

	joined := Fold(trie, "", func(acc string, k String, _ int) string {
		if acc == "" {
			return string(k)
		}
		return acc + "," + string(k)
	})
	qt.Assert(t, qt.IsTrue(len(joined) > 0))
}

func TestReduceShortCircuits(t *testing.T) {
	trie := populated(1000)
	visited := 0
	Reduce(trie, 0, func(acc int, _ String, _ int) (int, bool) {
		visited++
		return acc + 1, visited < 5
	})
	qt.Assert(t, qt.Equals(visited, 5))
}

func TestExistsAndForAll(t *testing.T) {
	trie := populated(10)

	qt.Assert(t, qt.IsTrue(Exists(trie, func(_ String, v int) bool { return v == 5 })))
	qt.Assert(t, qt.IsFalse(Exists(trie, func(_ String, v int) bool { return v == 500 })))

	qt.Assert(t, qt.IsTrue(ForAll(trie, func(_ String, v int) bool { return v >= 0 })))
	qt.Assert(t, qt.IsFalse(ForAll(trie, func(_ String, v int) bool { return v < 5 })))

	empty := New[String, int]()
	qt.Assert(t, qt.IsFalse(Exists(empty, func(_ String, _ int) bool { return true })))
	qt.Assert(t, qt.IsTrue(ForAll(empty, func(_ String, _ int) bool { return false })))
}

// TestMapValuesIdentity is the "map(id) = id" half of property 8.
func TestMapValuesIdentity(t *testing.T) {
	trie := populated(50)
	mapped := MapValues(trie, func(_ String, v int) int { return v })
	qt.Assert(t, qt.DeepEquals(keys(mapped), keys(trie)))
	for i := 0; i < 50; i++ {
		v, ok := mapped.Find(String(strconv.Itoa(i)))
		qt.Assert(t, qt.IsTrue(ok))
		qt.Assert(t, qt.Equals(v, i))
	}
}

// TestMapValuesComposition is the "map(f . g) = map(f) . map(g)" half of
// property 8, checked under equality of the resulting leaf sets.
func TestMapValuesComposition(t *testing.T) {
	trie := populated(50)
	f := func(_ String, v int) int { return v * 2 }
	g := func(_ String, v int) int { return v + 1 }

	composed := MapValues(trie, func(k String, v int) int { return f(k, g(k, v)) })
	sequential := MapValues(MapValues(trie, g), f)

	for i := 0; i < 50; i++ {
		cv, ok := composed.Find(String(strconv.Itoa(i)))
		qt.Assert(t, qt.IsTrue(ok))
		sv, ok := sequential.Find(String(strconv.Itoa(i)))
		qt.Assert(t, qt.IsTrue(ok))
		qt.Assert(t, qt.Equals(cv, sv))
	}
}

func TestMapValuesDoesNotMutateSource(t *testing.T) {
	trie := populated(20)
	_ = MapValues(trie, func(_ String, v int) string { return strconv.Itoa(v) })
	qt.Assert(t, qt.Equals(trie.Size(), 20))
	v, ok := trie.Find("5")
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(v, 5))
}

// TestFilterMapInPlaceDrainsTrie is property 9:
// filter_map_inplace(_ -> None) yields is_empty = true and size = 0.
func TestFilterMapInPlaceDrainsTrie(t *testing.T) {
	trie := populated(500)
	trie.FilterMapInPlace(func(_ String, _ int) (int, bool) {
		return 0, false
	})
	qt.Assert(t, qt.IsTrue(trie.IsEmpty()))
	qt.Assert(t, qt.Equals(trie.Size(), 0))
}

func TestFilterMapInPlaceFiltersAndTransforms(t *testing.T) {
	trie := populated(100)
	trie.FilterMapInPlace(func(_ String, v int) (int, bool) {
		if v%2 == 0 {
			return v * 10, true
		}
		return 0, false
	})
	qt.Assert(t, qt.Equals(trie.Size(), 50))
	for i := 0; i < 100; i++ {
		v, ok := trie.Find(String(strconv.Itoa(i)))
		if i%2 == 0 {
			qt.Assert(t, qt.IsTrue(ok))
			qt.Assert(t, qt.Equals(v, i*10))
		} else {
			qt.Assert(t, qt.IsFalse(ok))
		}
	}
}

// TestFilterMapInPlaceAfterClone reproduces the scenario where a clone's
// root carries a fresh generation while its cNode children are still
// tagged with the generation they had before the clone. FilterMapInPlace
// must renew those stale children as it descends rather than gcas-ing them
// directly, or the retry loop in ifiltermap never makes progress.
func TestFilterMapInPlaceAfterClone(t *testing.T) {
	trie := populated(50)
	clone := trie.Clone()

	clone.FilterMapInPlace(func(_ String, v int) (int, bool) {
		if v%2 == 0 {
			return v * 10, true
		}
		return 0, false
	})

	qt.Assert(t, qt.Equals(clone.Size(), 25))
	for i := 0; i < 50; i++ {
		v, ok := clone.Find(String(strconv.Itoa(i)))
		if i%2 == 0 {
			qt.Assert(t, qt.IsTrue(ok))
			qt.Assert(t, qt.Equals(v, i*10))
		} else {
			qt.Assert(t, qt.IsFalse(ok))
		}
	}

	// The source trie must be unaffected by the clone's in-place rewrite.
	qt.Assert(t, qt.Equals(trie.Size(), 50))
	v, ok := trie.Find(String(strconv.Itoa(3)))
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(v, 3))
}

func TestFilterMapInPlaceOnHashCollisions(t *testing.T) {
	trie := NewWithFuncs[string, int](func(a, b string) bool { return a == b }, func(string) uint64 { return 0 })
	for i := 0; i < 30; i++ {
		trie.Add(strconv.Itoa(i), i)
	}
	trie.FilterMapInPlace(func(_ string, v int) (int, bool) {
		return v, v%3 == 0
	})
	for i := 0; i < 30; i++ {
		v, ok := trie.Find(strconv.Itoa(i))
		if i%3 == 0 {
			qt.Assert(t, qt.IsTrue(ok))
			qt.Assert(t, qt.Equals(v, i))
		} else {
			qt.Assert(t, qt.IsFalse(ok))
		}
	}
}
