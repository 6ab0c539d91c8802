// Package wal implements the append-only, crash-safe write-ahead log that
// sits in front of the pager (spec §4.2).
//
// The WAL is a stream of length + CRC32C framed records. Each record is one
// of:
//
//   - a page-write record: (page id, PageSize bytes of page content)
//   - a commit marker: closes the current transaction's batch
//
// Recovery replays every complete, checksum-valid record up to the last
// commit marker into the page file, then truncates the tail. A torn record
// (one whose length/checksum don't validate, typically the last bytes
// written before a crash) is discarded along with everything after it —
// only fully committed batches are ever replayed.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"log"
	"os"
	"sync"

	"github.com/nervusdb/nervusdb/pkg/config"
	"github.com/nervusdb/nervusdb/pkg/pager"
)

// Fatal / reported errors.
var (
	ErrClosed       = errors.New("wal: closed")
	ErrTornRecord   = errors.New("wal: torn record")
	ErrBadChecksum  = errors.New("wal: checksum mismatch")
	ErrBadFrameKind = errors.New("wal: unknown frame kind")
)

type frameKind byte

const (
	framePage   frameKind = 1
	frameCommit frameKind = 2
)

// recordHeaderSize is kind(1) + pageID(8) + length(4). Commit markers reuse
// the same framing with pageID/length set to zero and no payload.
const recordHeaderSize = 1 + 8 + 4

// WAL is the durable redo log. Writes accumulate in an in-memory batch for
// the active WriteTxn and are flushed as one record per page plus a
// trailing commit marker (group commit, spec §4.2).
type WAL struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// Open opens (creating if necessary) the WAL file at path.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &WAL{file: f, w: bufio.NewWriter(f)}, nil
}

func crcOf(kind frameKind, id pager.PageID, payload []byte) uint32 {
	h := crc32.New(crc32.MakeTable(crc32.Castagnoli))
	var hdr [9]byte
	hdr[0] = byte(kind)
	binary.LittleEndian.PutUint64(hdr[1:], uint64(id))
	h.Write(hdr[:])
	h.Write(payload)
	return h.Sum32()
}

func writeFrame(w io.Writer, kind frameKind, id pager.PageID, payload []byte) error {
	var hdr [recordHeaderSize]byte
	hdr[0] = byte(kind)
	binary.LittleEndian.PutUint64(hdr[1:9], uint64(id))
	binary.LittleEndian.PutUint32(hdr[9:13], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	crc := crcOf(kind, id, payload)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)
	_, err := w.Write(crcBuf[:])
	return err
}

// RecordPageWrite appends a page-write record. It satisfies
// pager.WALWriter; the page is not visible in the file until Commit is
// called and the writer fsyncs.
func (w *WAL) RecordPageWrite(id pager.PageID, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}
	return writeFrame(w.w, framePage, id, data)
}

// Commit appends a commit marker and fsyncs the WAL file, making every
// page-write record since the previous commit marker durable.
func (w *WAL) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}
	if err := writeFrame(w.w, frameCommit, 0, nil); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Checkpoint truncates the WAL to empty. Callers must have already fsynced
// the page file (pager.Sync) so every record here is redundant.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	w.w.Reset(w.file)
	return nil
}

// Close flushes and closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Recover scans the WAL from the start, replaying every complete batch
// (page writes followed by a commit marker) into p, then truncates the WAL
// and the in-memory write position to just past the last commit marker —
// any trailing, uncommitted page writes are discarded (spec §4.2, §8
// crash-safety property).
func Recover(path string, p *pager.Pager) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var pending []pageRecord
	var validUpTo int64
	var offset int64

	for {
		rec, n, err := readFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			if config.Debug() {
				log.Printf("wal: stopping replay at offset %d: torn record (%v)", offset, err)
			}
			break
		}
		offset += int64(n)
		switch rec.kind {
		case framePage:
			pending = append(pending, pageRecord{id: rec.id, data: rec.payload})
		case frameCommit:
			for _, pr := range pending {
				if err := p.ApplyRecoveredPage(pr.id, pr.data); err != nil {
					return err
				}
			}
			pending = pending[:0]
			validUpTo = offset
		}
	}

	if err := p.Sync(); err != nil {
		return err
	}
	return truncateAt(f, validUpTo)
}

type pageRecord struct {
	id   pager.PageID
	data []byte
}

type frame struct {
	kind    frameKind
	id      pager.PageID
	payload []byte
}

// readFrame reads one frame from r, validating its checksum. Any failure
// (short read, bad checksum) is reported as a torn-record error so the
// caller stops replay there without treating it as fatal.
func readFrame(r *bufio.Reader) (frame, int, error) {
	hdr := make([]byte, recordHeaderSize)
	n, err := io.ReadFull(r, hdr)
	if err != nil {
		return frame{}, n, io.EOF
	}
	kind := frameKind(hdr[0])
	id := pager.PageID(binary.LittleEndian.Uint64(hdr[1:9]))
	length := binary.LittleEndian.Uint32(hdr[9:13])
	total := n

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		pn, err := io.ReadFull(r, payload)
		total += pn
		if err != nil {
			return frame{}, total, ErrTornRecord
		}
	}

	crcBuf := make([]byte, 4)
	cn, err := io.ReadFull(r, crcBuf)
	total += cn
	if err != nil {
		return frame{}, total, ErrTornRecord
	}
	want := binary.LittleEndian.Uint32(crcBuf)
	got := crcOf(kind, id, payload)
	if want != got {
		return frame{}, total, ErrBadChecksum
	}
	if kind != framePage && kind != frameCommit {
		return frame{}, total, ErrBadFrameKind
	}
	return frame{kind: kind, id: id, payload: payload}, total, nil
}

func truncateAt(f *os.File, offset int64) error {
	if err := f.Truncate(offset); err != nil {
		return err
	}
	_, err := f.Seek(offset, io.SeekStart)
	return err
}
