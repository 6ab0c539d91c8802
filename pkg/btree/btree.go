// Package btree implements the ordered B+tree index over variable-length
// byte-string keys and u64 payloads described in spec §4.3/§6: leaf pages
// linked in ascending key order, split-by-rebuild on overflow, and a
// delete-exact-by-rebuild that collects all entries, removes one, and bulk
// rebuilds leaves and internal levels bottom-up.
package btree

import (
	"errors"

	"github.com/nervusdb/nervusdb/pkg/pager"
)

// ErrNotFound is declared for callers that need a not-found sentinel; no
// function in this package returns it. DeleteExactRebuild reports an
// absent (key, payload) tuple by returning false with a nil error.
var ErrNotFound = errors.New("btree: key/payload not found")

// BTree is a handle to a tree rooted at a page in the pager. It carries no
// other state — all durable state lives in pages.
type BTree struct {
	root pager.PageID
}

// Root returns the tree's current root page id (persisted by the caller,
// e.g. into the superblock or a dictionary entry).
func (t *BTree) Root() pager.PageID { return t.root }

// Load wraps an existing root page id as a BTree handle.
func Load(root pager.PageID) *BTree { return &BTree{root: root} }

// Create allocates a fresh, empty single-leaf tree.
func Create(p *pager.Pager) (*BTree, error) {
	root, err := p.AllocatePage()
	if err != nil {
		return nil, err
	}
	pg := newPage()
	pg.initLeaf()
	if err := p.WritePage(root, pg); err != nil {
		return nil, err
	}
	return &BTree{root: root}, nil
}

type pathEntry struct {
	page     pager.PageID
	childPos int
}

// Insert inserts (key, payload), splitting leaf and internal pages on
// overflow and propagating a new root when necessary.
func (t *BTree) Insert(p *pager.Pager, key []byte, payload uint64) error {
	var path []pathEntry
	cur := t.root

	for {
		buf, err := p.ReadPage(cur)
		if err != nil {
			return err
		}
		pg := page(buf)
		kind, err := pg.kind()
		if err != nil {
			return err
		}

		if kind == kindLeaf {
			idx, err := pg.leafLowerBound(key)
			if err != nil {
				return err
			}
			if err := pg.leafInsertAt(idx, key, payload); err == nil {
				return p.WritePage(cur, pg)
			} else if !errors.Is(err, ErrNoSpace) {
				return err
			}

			// Split: rebuild both halves from the merged sorted entries.
			oldRight := pg.rightSibling()
			entries := make([]kv, 0, pg.cellCount()+1)
			for i := 0; i < pg.cellCount(); i++ {
				k, v, err := pg.leafCell(i)
				if err != nil {
					return err
				}
				kk := make([]byte, len(k))
				copy(kk, k)
				entries = append(entries, kv{key: kk, payload: v})
			}
			insertPos := sortedInsertPos(entries, key)
			merged := make([]kv, 0, len(entries)+1)
			merged = append(merged, entries[:insertPos]...)
			merged = append(merged, kv{key: append([]byte(nil), key...), payload: payload})
			merged = append(merged, entries[insertPos:]...)

			mid := len(merged) / 2
			leftEntries := merged[:mid]
			rightEntries := merged[mid:]
			sepKey := rightEntries[0].key

			rightID, err := p.AllocatePage()
			if err != nil {
				return err
			}
			rightBuf := newPage()
			if err := rightBuf.rebuildLeaf(oldRight, rightEntries); err != nil {
				return ErrKeyTooLarge
			}
			if err := pg.rebuildLeaf(rightID, leftEntries); err != nil {
				return ErrKeyTooLarge
			}

			if err := p.WritePage(cur, pg); err != nil {
				return err
			}
			if err := p.WritePage(rightID, rightBuf); err != nil {
				return err
			}
			return t.insertIntoParent(p, path, cur, sepKey, rightID)
		}

		child, childPos, err := pg.internalChildForKey(key)
		if err != nil {
			return err
		}
		path = append(path, pathEntry{page: cur, childPos: childPos})
		cur = child
	}
}

func sortedInsertPos(entries []kv, key []byte) int {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if string(entries[mid].key) < string(key) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (t *BTree) insertIntoParent(p *pager.Pager, path []pathEntry, leftID pager.PageID, sepKey []byte, rightID pager.PageID) error {
	if len(path) == 0 {
		newRoot, err := p.AllocatePage()
		if err != nil {
			return err
		}
		pg := newPage()
		pg.initInternal(leftID)
		if err := pg.internalInsertAt(0, sepKey, rightID); err != nil {
			return err
		}
		if err := p.WritePage(newRoot, pg); err != nil {
			return err
		}
		t.root = newRoot
		return nil
	}

	parentEntry := path[len(path)-1]
	path = path[:len(path)-1]

	buf, err := p.ReadPage(parentEntry.page)
	if err != nil {
		return err
	}
	pg := page(buf)
	kind, err := pg.kind()
	if err != nil {
		return err
	}
	if kind != kindInternal {
		return ErrWrongKind
	}

	if err := pg.internalInsertAt(parentEntry.childPos, sepKey, rightID); err == nil {
		return p.WritePage(parentEntry.page, pg)
	} else if !errors.Is(err, ErrNoSpace) {
		return err
	}

	// Split internal: rebuild both halves from merged keys/children.
	leftmost, err := pg.leftmostChild()
	if err != nil {
		return err
	}
	n := pg.cellCount()
	keys := make([][]byte, 0, n+1)
	children := make([]pager.PageID, 0, n+2)
	children = append(children, leftmost)
	for i := 0; i < n; i++ {
		k, child, err := pg.internalCell(i)
		if err != nil {
			return err
		}
		kk := make([]byte, len(k))
		copy(kk, k)
		keys = append(keys, kk)
		children = append(children, child)
	}

	pos := parentEntry.childPos
	keys2 := make([][]byte, 0, len(keys)+1)
	keys2 = append(keys2, keys[:pos]...)
	keys2 = append(keys2, sepKey)
	keys2 = append(keys2, keys[pos:]...)
	children2 := make([]pager.PageID, 0, len(children)+1)
	children2 = append(children2, children[:pos+1]...)
	children2 = append(children2, rightID)
	children2 = append(children2, children[pos+1:]...)

	mid := len(keys2) / 2
	promote := keys2[mid]

	leftKeys := keys2[:mid]
	rightKeys := keys2[mid+1:]
	leftChildren := children2[:mid+1]
	rightChildren := children2[mid+1:]

	rightPageID, err := p.AllocatePage()
	if err != nil {
		return err
	}
	rightBuf := newPage()

	leftCells := make([]kc, len(leftKeys))
	for i, k := range leftKeys {
		leftCells[i] = kc{key: k, child: leftChildren[i+1]}
	}
	if err := pg.rebuildInternal(leftChildren[0], leftCells); err != nil {
		return err
	}

	rightCells := make([]kc, len(rightKeys))
	for i, k := range rightKeys {
		rightCells[i] = kc{key: k, child: rightChildren[i+1]}
	}
	if err := rightBuf.rebuildInternal(rightChildren[0], rightCells); err != nil {
		return err
	}

	if err := p.WritePage(parentEntry.page, pg); err != nil {
		return err
	}
	if err := p.WritePage(rightPageID, rightBuf); err != nil {
		return err
	}
	return t.insertIntoParent(p, path, parentEntry.page, promote, rightPageID)
}

// DeleteExactRebuild removes exactly the (key, payload) tuple, rebuilding
// the whole tree from the remaining sorted entries. Pages are not
// reclaimed (vacuum is external, per spec §4.3).
func (t *BTree) DeleteExactRebuild(p *pager.Pager, key []byte, payload uint64) (bool, error) {
	entries, err := t.scanAll(p)
	if err != nil {
		return false, err
	}
	idx := -1
	for i, e := range entries {
		if string(e.key) == string(key) && e.payload == payload {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	entries = append(entries[:idx], entries[idx+1:]...)
	root, err := buildFromSortedEntries(p, entries)
	if err != nil {
		return false, err
	}
	t.root = root
	return true, nil
}

func (t *BTree) scanAll(p *pager.Pager) ([]kv, error) {
	cur, err := t.CursorLowerBound(p, nil)
	if err != nil {
		return nil, err
	}
	var out []kv
	for {
		ok, err := cur.IsValid()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		k, err := cur.Key()
		if err != nil {
			return nil, err
		}
		v, err := cur.Payload()
		if err != nil {
			return nil, err
		}
		out = append(out, kv{key: k, payload: v})
		more, err := cur.Advance()
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}
	return out, nil
}

// buildFromSortedEntries bulk-builds leaves (filling each until the next
// insert fails, then chaining) and then builds internal levels bottom-up
// until a single root remains.
func buildFromSortedEntries(p *pager.Pager, entries []kv) (pager.PageID, error) {
	type leafPage struct {
		id     pager.PageID
		minKey []byte
	}
	var leaves []leafPage

	curID, err := p.AllocatePage()
	if err != nil {
		return 0, err
	}
	cur := newPage()
	cur.initLeaf()
	var curEntries []kv
	var curMinKey []byte

	finalizeLeaf := func(nextID pager.PageID) error {
		if err := cur.rebuildLeaf(nextID, curEntries); err != nil {
			return err
		}
		return p.WritePage(curID, cur)
	}

	for _, e := range entries {
		if curMinKey == nil {
			curMinKey = e.key
		}
		idx := len(curEntries)
		if err := cur.leafInsertAt(idx, e.key, e.payload); err == nil {
			curEntries = append(curEntries, e)
			continue
		} else if !errors.Is(err, ErrNoSpace) {
			return 0, err
		}

		nextID, err := p.AllocatePage()
		if err != nil {
			return 0, err
		}
		if err := finalizeLeaf(nextID); err != nil {
			return 0, err
		}
		leaves = append(leaves, leafPage{id: curID, minKey: curMinKey})

		curID = nextID
		cur = newPage()
		cur.initLeaf()
		curEntries = curEntries[:0]
		curMinKey = e.key
		if err := cur.leafInsertAt(0, e.key, e.payload); err != nil {
			return 0, err
		}
		curEntries = append(curEntries, e)
	}

	if err := finalizeLeaf(0); err != nil {
		return 0, err
	}
	if curMinKey != nil {
		leaves = append(leaves, leafPage{id: curID, minKey: curMinKey})
	} else {
		leaves = append(leaves, leafPage{id: curID, minKey: nil})
	}

	type levelEntry struct {
		id     pager.PageID
		minKey []byte
	}
	level := make([]levelEntry, len(leaves))
	for i, l := range leaves {
		level[i] = levelEntry{id: l.id, minKey: l.minKey}
	}

	for len(level) > 1 {
		var next []levelEntry
		i := 0
		for i < len(level) {
			internalID, err := p.AllocatePage()
			if err != nil {
				return 0, err
			}
			pg := newPage()
			pg.initInternal(level[i].id)
			pageMinKey := level[i].minKey
			i++

			for i < len(level) {
				idx := pg.cellCount()
				if err := pg.internalInsertAt(idx, level[i].minKey, level[i].id); err == nil {
					i++
					continue
				} else if errors.Is(err, ErrNoSpace) {
					break
				} else {
					return 0, err
				}
			}

			if err := p.WritePage(internalID, pg); err != nil {
				return 0, err
			}
			next = append(next, levelEntry{id: internalID, minKey: pageMinKey})
		}
		level = next
	}

	return level[0].id, nil
}

// CursorLowerBound positions a cursor at the first entry whose key is >=
// key. A nil/empty key positions at the very first entry in the tree.
func (t *BTree) CursorLowerBound(p *pager.Pager, key []byte) (*Cursor, error) {
	cur := t.root
	for {
		buf, err := p.ReadPage(cur)
		if err != nil {
			return nil, err
		}
		pg := page(buf)
		kind, err := pg.kind()
		if err != nil {
			return nil, err
		}
		if kind == kindLeaf {
			slot, err := pg.leafLowerBound(key)
			if err != nil {
				return nil, err
			}
			leafID := cur
			leafBuf := pg
			for {
				count := leafBuf.cellCount()
				if count == 0 {
					next := leafBuf.rightSibling()
					if next == 0 {
						break
					}
					leafID = next
					nb, err := p.ReadPage(leafID)
					if err != nil {
						return nil, err
					}
					leafBuf = page(nb)
					slot = 0
					continue
				}
				if slot < count {
					break
				}
				next := leafBuf.rightSibling()
				if next == 0 {
					break
				}
				leafID = next
				nb, err := p.ReadPage(leafID)
				if err != nil {
					return nil, err
				}
				leafBuf = page(nb)
				slot = 0
			}
			return &Cursor{pager: p, leaf: leafID, buf: leafBuf, slot: slot}, nil
		}
		child, _, err := pg.internalChildForKey(key)
		if err != nil {
			return nil, err
		}
		cur = child
	}
}

// Cursor walks leaf-linked entries in ascending key order.
type Cursor struct {
	pager *pager.Pager
	leaf  pager.PageID
	buf   page
	slot  int
}

// IsValid reports whether the cursor currently addresses a real cell.
func (c *Cursor) IsValid() (bool, error) {
	return c.slot < c.buf.cellCount(), nil
}

// Key returns the current entry's key (a fresh copy).
func (c *Cursor) Key() ([]byte, error) {
	k, _, err := c.buf.leafCell(c.slot)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(k))
	copy(out, k)
	return out, nil
}

// Payload returns the current entry's u64 payload.
func (c *Cursor) Payload() (uint64, error) {
	_, v, err := c.buf.leafCell(c.slot)
	return v, err
}

// Advance steps to the next entry, crossing into the right sibling when
// the current leaf is exhausted. Returns false once there is no further
// entry (sibling pointer of 0 terminates the chain).
func (c *Cursor) Advance() (bool, error) {
	count := c.buf.cellCount()
	if c.slot+1 < count {
		c.slot++
		return true, nil
	}
	next := c.buf.rightSibling()
	if next == 0 {
		c.slot = count
		return false, nil
	}
	buf, err := c.pager.ReadPage(next)
	if err != nil {
		return false, err
	}
	c.leaf = next
	c.buf = page(buf)
	c.slot = 0
	return c.IsValid()
}
