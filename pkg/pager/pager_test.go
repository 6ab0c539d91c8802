package pager

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeWAL struct{ records map[PageID][]byte }

func (f *fakeWAL) RecordPageWrite(id PageID, data []byte) error {
	if f.records == nil {
		f.records = map[PageID][]byte{}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.records[id] = cp
	return nil
}

func TestAllocateAndReadWritePage(t *testing.T) {
	dir := t.TempDir()
	w := &fakeWAL{}
	p, err := Open(filepath.Join(dir, "db.ndb"), w)
	require.NoError(t, err)
	defer p.Close()

	id, err := p.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, PageID(1), id)

	id2, err := p.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, PageID(2), id2)

	var page [PageSize]byte
	copy(page[:], "hello page")
	require.NoError(t, p.WritePage(id, page[:]))
	require.Contains(t, w.records, id)

	got, err := p.ReadPage(id)
	require.NoError(t, err)
	require.True(t, got[0] == 'h')

	require.NoError(t, p.Sync())
	got2, err := p.ReadPage(id)
	require.NoError(t, err)
	require.Equal(t, got, got2)
}

func TestReadUnwrittenPageIsZeroed(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(filepath.Join(dir, "db.ndb"), nil)
	require.NoError(t, err)
	defer p.Close()

	id, err := p.AllocatePage()
	require.NoError(t, err)
	got, err := p.ReadPage(id)
	require.NoError(t, err)
	for _, b := range got {
		require.Zero(t, b)
	}
}

func TestSuperblockPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.ndb")
	p, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, p.SetRoots(7, 9, 3))
	require.NoError(t, p.Close())

	p2, err := Open(path, nil)
	require.NoError(t, err)
	defer p2.Close()
	sb := p2.Superblock()
	require.Equal(t, PageID(7), sb.DictRoot)
	require.Equal(t, PageID(9), sb.GraphRoot)
	require.Equal(t, uint64(3), sb.Generation)
}

func TestWritePageRejectsWrongSize(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(filepath.Join(dir, "db.ndb"), nil)
	require.NoError(t, err)
	defer p.Close()
	require.Error(t, p.WritePage(1, []byte("short")))
}

func TestWritePageRejectsPageZero(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(filepath.Join(dir, "db.ndb"), nil)
	require.NoError(t, err)
	defer p.Close()
	var page [PageSize]byte
	require.ErrorIs(t, p.WritePage(0, page[:]), ErrInvalidPageID)
}
