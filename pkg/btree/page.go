package btree

import (
	"encoding/binary"
	"errors"

	"github.com/nervusdb/nervusdb/pkg/pager"
)

// Index page format (spec §6): magic "NDBI", version 1, kind byte (0=leaf,
// 1=internal), a 24-byte common header, +8 bytes on internal pages for the
// leftmost child pointer. Cells grow downward from the end of the page; a
// slot array of u16 offsets grows upward immediately after the header.
const (
	pageMagic   = "NDBI"
	pageVersion = 1

	kindLeaf     = 0
	kindInternal = 1

	commonHeaderSize   = 24
	internalHeaderSize = 32

	offMagic           = 0 // [4]byte
	offKind            = 4 // byte
	offVersion         = 5 // byte
	offCellCount       = 6 // u16
	offCellContentBeg  = 8 // u16
	offFreeBytes       = 10 // u16
	offReserved        = 12 // u32
	offRightSibling    = 16 // u64
	offLeftmostChild   = 24 // u64 (internal only)
)

var (
	// ErrBadPage reports a structurally invalid index page (bad magic,
	// version, or kind byte — the page is not a NervusDB index page at all).
	ErrBadPage = errors.New("btree: bad page")
	// ErrWrongKind is returned when an operation expects a leaf (or
	// internal) page and finds the other kind.
	ErrWrongKind = errors.New("btree: wrong page kind")
	// ErrNoSpace means a cell does not fit in the page's remaining free
	// space; the caller must split.
	ErrNoSpace = errors.New("btree: no space in page")
	// ErrKeyTooLarge is returned for keys whose encoded length does not
	// fit a u32 varint (spec §4.3: up to u32::MAX is allowed in principle,
	// but a single cell must still fit in a page).
	ErrKeyTooLarge = errors.New("btree: key too large")
	// ErrCorrupt is returned when cell offsets would read out of bounds.
	ErrCorrupt = errors.New("btree: corrupt page")
)

func headerSize(kind byte) int {
	if kind == kindInternal {
		return internalHeaderSize
	}
	return commonHeaderSize
}

// page is a mutable view over one on-disk index page buffer.
type page []byte

func newPage() page {
	return make(page, pager.PageSize)
}

func (p page) kind() (byte, error) {
	if string(p[offMagic:offMagic+4]) != pageMagic {
		return 0, ErrBadPage
	}
	if p[offVersion] != pageVersion {
		return 0, ErrBadPage
	}
	k := p[offKind]
	if k != kindLeaf && k != kindInternal {
		return 0, ErrBadPage
	}
	return k, nil
}

func (p page) initLeaf() {
	for i := range p {
		p[i] = 0
	}
	copy(p[offMagic:], pageMagic)
	p[offKind] = kindLeaf
	p[offVersion] = pageVersion
	p.setCellCount(0)
	p.setCellContentBegin(pager.PageSize)
	binary.LittleEndian.PutUint64(p[offRightSibling:], 0)
}

func (p page) initInternal(leftmost pager.PageID) {
	for i := range p {
		p[i] = 0
	}
	copy(p[offMagic:], pageMagic)
	p[offKind] = kindInternal
	p[offVersion] = pageVersion
	p.setCellCount(0)
	p.setCellContentBegin(pager.PageSize)
	binary.LittleEndian.PutUint64(p[offRightSibling:], 0)
	binary.LittleEndian.PutUint64(p[offLeftmostChild:], uint64(leftmost))
}

func (p page) cellCount() int {
	return int(binary.LittleEndian.Uint16(p[offCellCount:]))
}

func (p page) setCellCount(n int) {
	binary.LittleEndian.PutUint16(p[offCellCount:], uint16(n))
}

func (p page) cellContentBegin() int {
	return int(binary.LittleEndian.Uint16(p[offCellContentBeg:]))
}

func (p page) setCellContentBegin(v int) {
	binary.LittleEndian.PutUint16(p[offCellContentBeg:], uint16(v))
}

func (p page) rightSibling() pager.PageID {
	return pager.PageID(binary.LittleEndian.Uint64(p[offRightSibling:]))
}

func (p page) setRightSibling(id pager.PageID) {
	binary.LittleEndian.PutUint64(p[offRightSibling:], uint64(id))
}

func (p page) leftmostChild() (pager.PageID, error) {
	k, err := p.kind()
	if err != nil {
		return 0, err
	}
	if k != kindInternal {
		return 0, ErrWrongKind
	}
	return pager.PageID(binary.LittleEndian.Uint64(p[offLeftmostChild:])), nil
}

func (p page) slotsOff() (int, error) {
	k, err := p.kind()
	if err != nil {
		return 0, err
	}
	return headerSize(k), nil
}

func (p page) slotGet(i int) (int, error) {
	off, err := p.slotsOff()
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint16(p[off+i*2:])), nil
}

func (p page) slotSet(i, v int) error {
	off, err := p.slotsOff()
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(p[off+i*2:], uint16(v))
	return nil
}

func (p page) freeSpace() (int, error) {
	off, err := p.slotsOff()
	if err != nil {
		return 0, err
	}
	ptrEnd := off + p.cellCount()*2
	begin := p.cellContentBegin()
	if begin < ptrEnd {
		return 0, nil
	}
	return begin - ptrEnd, nil
}

func (p page) shiftSlotsRight(idx int) error {
	count := p.cellCount()
	if idx > count {
		return ErrCorrupt
	}
	if idx == count {
		return nil
	}
	off, err := p.slotsOff()
	if err != nil {
		return err
	}
	src := off + idx*2
	length := (count - idx) * 2
	copy(p[src+2:src+2+length], p[src:src+length])
	return nil
}

func (p page) leafCell(idx int) (key []byte, payload uint64, err error) {
	k, err := p.kind()
	if err != nil {
		return nil, 0, err
	}
	if k != kindLeaf {
		return nil, 0, ErrWrongKind
	}
	if idx < 0 || idx >= p.cellCount() {
		return nil, 0, ErrCorrupt
	}
	cellOff, err := p.slotGet(idx)
	if err != nil {
		return nil, 0, err
	}
	keyLen, varLen, ok := getVarint(p[cellOff:])
	if !ok {
		return nil, 0, ErrCorrupt
	}
	keyStart := cellOff + varLen
	keyEnd := keyStart + int(keyLen)
	if keyEnd+8 > pager.PageSize {
		return nil, 0, ErrCorrupt
	}
	payload = binary.LittleEndian.Uint64(p[keyEnd:])
	return p[keyStart:keyEnd], payload, nil
}

func (p page) internalCell(idx int) (key []byte, rightChild pager.PageID, err error) {
	k, err := p.kind()
	if err != nil {
		return nil, 0, err
	}
	if k != kindInternal {
		return nil, 0, ErrWrongKind
	}
	if idx < 0 || idx >= p.cellCount() {
		return nil, 0, ErrCorrupt
	}
	cellOff, err := p.slotGet(idx)
	if err != nil {
		return nil, 0, err
	}
	if cellOff+8 >= pager.PageSize {
		return nil, 0, ErrCorrupt
	}
	rightChild = pager.PageID(binary.LittleEndian.Uint64(p[cellOff:]))
	keyLen, varLen, ok := getVarint(p[cellOff+8:])
	if !ok {
		return nil, 0, ErrCorrupt
	}
	keyStart := cellOff + 8 + varLen
	keyEnd := keyStart + int(keyLen)
	if keyEnd > pager.PageSize {
		return nil, 0, ErrCorrupt
	}
	return p[keyStart:keyEnd], rightChild, nil
}

// leafLowerBound returns the first index whose key is >= target.
func (p page) leafLowerBound(target []byte) (int, error) {
	n := p.cellCount()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		k, _, err := p.leafCell(mid)
		if err != nil {
			return 0, err
		}
		if string(k) < string(target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// internalChildForKey descends using upper_bound (first key > target) so
// that keys equal to the probe route to the right child, per spec §4.3.
func (p page) internalChildForKey(target []byte) (child pager.PageID, childPos int, err error) {
	if k, e := p.kind(); e != nil {
		return 0, 0, e
	} else if k != kindInternal {
		return 0, 0, ErrWrongKind
	}
	n := p.cellCount()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		k, _, err := p.internalCell(mid)
		if err != nil {
			return 0, 0, err
		}
		if string(k) <= string(target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	childPos = lo
	if childPos == 0 {
		lm, err := p.leftmostChild()
		return lm, 0, err
	}
	_, child, err = p.internalCell(childPos - 1)
	return child, childPos, err
}

func (p page) leafInsertAt(idx int, key []byte, payload uint64) error {
	if k, err := p.kind(); err != nil {
		return err
	} else if k != kindLeaf {
		return ErrWrongKind
	}
	if len(key) > int(^uint32(0)) {
		return ErrKeyTooLarge
	}
	keyLen := uint32(len(key))
	varLen := varintLen(keyLen)
	cellLen := varLen + len(key) + 8

	free, err := p.freeSpace()
	if err != nil {
		return err
	}
	if free < cellLen+2 {
		return ErrNoSpace
	}
	count := p.cellCount()
	if idx > count {
		return ErrCorrupt
	}

	newBegin := p.cellContentBegin() - cellLen
	if newBegin < 0 {
		return ErrNoSpace
	}
	p.setCellContentBegin(newBegin)

	cellOff := newBegin
	putVarint(keyLen, p[cellOff:cellOff+varLen])
	keyStart := cellOff + varLen
	copy(p[keyStart:keyStart+len(key)], key)
	binary.LittleEndian.PutUint64(p[keyStart+len(key):], payload)

	if err := p.shiftSlotsRight(idx); err != nil {
		return err
	}
	if err := p.slotSet(idx, cellOff); err != nil {
		return err
	}
	p.setCellCount(count + 1)
	return nil
}

func (p page) internalInsertAt(idx int, key []byte, rightChild pager.PageID) error {
	if k, err := p.kind(); err != nil {
		return err
	} else if k != kindInternal {
		return ErrWrongKind
	}
	if len(key) > int(^uint32(0)) {
		return ErrKeyTooLarge
	}
	keyLen := uint32(len(key))
	varLen := varintLen(keyLen)
	cellLen := 8 + varLen + len(key)

	free, err := p.freeSpace()
	if err != nil {
		return err
	}
	if free < cellLen+2 {
		return ErrNoSpace
	}
	count := p.cellCount()
	if idx > count {
		return ErrCorrupt
	}

	newBegin := p.cellContentBegin() - cellLen
	if newBegin < 0 {
		return ErrNoSpace
	}
	p.setCellContentBegin(newBegin)

	cellOff := newBegin
	binary.LittleEndian.PutUint64(p[cellOff:], uint64(rightChild))
	putVarint(keyLen, p[cellOff+8:cellOff+8+varLen])
	keyStart := cellOff + 8 + varLen
	copy(p[keyStart:keyStart+len(key)], key)

	if err := p.shiftSlotsRight(idx); err != nil {
		return err
	}
	if err := p.slotSet(idx, cellOff); err != nil {
		return err
	}
	p.setCellCount(count + 1)
	return nil
}

type kv struct {
	key     []byte
	payload uint64
}

func (p page) rebuildLeaf(rightSibling pager.PageID, entries []kv) error {
	p.initLeaf()
	p.setRightSibling(rightSibling)
	for i, e := range entries {
		if err := p.leafInsertAt(i, e.key, e.payload); err != nil {
			return err
		}
	}
	return nil
}

type kc struct {
	key   []byte
	child pager.PageID
}

func (p page) rebuildInternal(leftmost pager.PageID, cells []kc) error {
	p.initInternal(leftmost)
	for i, c := range cells {
		if err := p.internalInsertAt(i, c.key, c.child); err != nil {
			return err
		}
	}
	return nil
}
