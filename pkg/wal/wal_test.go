package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/pkg/pager"
)

func page(fill byte) []byte {
	buf := make([]byte, pager.PageSize)
	for i := range buf {
		buf[i] = fill
	}
	return buf
}

func TestRecoverReplaysCommittedBatch(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "db.wal")
	dbPath := filepath.Join(dir, "db.ndb")

	w, err := Open(walPath)
	require.NoError(t, err)
	require.NoError(t, w.RecordPageWrite(1, page('a')))
	require.NoError(t, w.RecordPageWrite(2, page('b')))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	p, err := pager.Open(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, Recover(walPath, p))

	got, err := p.ReadPage(1)
	require.NoError(t, err)
	require.Equal(t, byte('a'), got[0])
	got2, err := p.ReadPage(2)
	require.NoError(t, err)
	require.Equal(t, byte('b'), got2[0])
	require.NoError(t, p.Close())
}

func TestRecoverDiscardsUncommittedTail(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "db.wal")
	dbPath := filepath.Join(dir, "db.ndb")

	w, err := Open(walPath)
	require.NoError(t, err)
	require.NoError(t, w.RecordPageWrite(1, page('a')))
	require.NoError(t, w.Commit())
	require.NoError(t, w.RecordPageWrite(2, page('b'))) // never committed
	require.NoError(t, w.Close())

	p, err := pager.Open(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, Recover(walPath, p))

	got1, err := p.ReadPage(1)
	require.NoError(t, err)
	require.Equal(t, byte('a'), got1[0])
	got2, err := p.ReadPage(2)
	require.NoError(t, err)
	for _, b := range got2 {
		require.Zero(t, b)
	}
	require.NoError(t, p.Close())
}

func TestRecoverStopsAtTornRecord(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "db.wal")
	dbPath := filepath.Join(dir, "db.ndb")

	w, err := Open(walPath)
	require.NoError(t, err)
	require.NoError(t, w.RecordPageWrite(1, page('a')))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	// Corrupt: append a few garbage bytes simulating a torn write.
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	p, err := pager.Open(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, Recover(walPath, p))

	got1, err := p.ReadPage(1)
	require.NoError(t, err)
	require.Equal(t, byte('a'), got1[0])
	require.NoError(t, p.Close())

	// The WAL file itself should have been truncated back to the last
	// valid commit boundary.
	fi, err := os.Stat(walPath)
	require.NoError(t, err)
	require.Less(t, fi.Size(), int64(pager.PageSize*2)+int64(20))
}

func TestCheckpointTruncates(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "db.wal")
	w, err := Open(walPath)
	require.NoError(t, err)
	require.NoError(t, w.RecordPageWrite(1, page('a')))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Checkpoint())
	require.NoError(t, w.Close())

	fi, err := os.Stat(walPath)
	require.NoError(t, err)
	require.Zero(t, fi.Size())
}
