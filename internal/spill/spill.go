// Package spill encodes mapped rows buffered for the reduce phase.
//
// A spill file is a zstd stream holding a 7 byte header (magic, version,
// checksum type) followed by framed entries: payload length (4), CRC32 (4)
// and a msgpack-encoded models.SpillEntry.
package spill

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/basekick-labs/transcoder/pkg/models"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Spill file format constants
var (
	Magic   = []byte{'T', 'S', 'P', 'L'}
	Version = uint16(0x0001)
)

const (
	ChecksumCRC32 = 0x01

	FileHeaderSize  = 7 // Magic(4) + Version(2) + ChecksumType(1)
	EntryHeaderSize = 8 // Length(4) + CRC32(4)

	// MaxEntrySize bounds a single encoded entry
	MaxEntrySize = 64 * 1024 * 1024
)

var (
	// ErrCorrupt is returned for truncated entries, bad headers and checksum mismatches
	ErrCorrupt = errors.New("corrupt spill file")

	// ErrEntryTooLarge is returned when an entry exceeds MaxEntrySize
	ErrEntryTooLarge = errors.New("spill entry too large")
)

// Writer appends entries to a compressed spill stream
type Writer struct {
	enc     *zstd.Encoder
	scratch bytes.Buffer
	msgpack *msgpack.Encoder
	entries int
	closed  bool
}

// NewWriter writes the file header and returns a writer. Close must be called
// to flush the compressed stream; it does not close w.
func NewWriter(w io.Writer) (*Writer, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	header := make([]byte, FileHeaderSize)
	copy(header[0:4], Magic)
	binary.BigEndian.PutUint16(header[4:6], Version)
	header[6] = ChecksumCRC32
	if _, err := enc.Write(header); err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to write spill header: %w", err)
	}

	sw := &Writer{enc: enc}
	sw.msgpack = msgpack.NewEncoder(&sw.scratch)
	sw.msgpack.SetOmitEmpty(true)
	return sw, nil
}

// Append encodes one entry
func (w *Writer) Append(e models.SpillEntry) error {
	if w.closed {
		return errors.New("spill writer is closed")
	}
	w.scratch.Reset()
	if err := w.msgpack.Encode(&e); err != nil {
		return fmt.Errorf("failed to encode spill entry: %w", err)
	}
	payload := w.scratch.Bytes()
	if len(payload) > MaxEntrySize {
		return fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, len(payload))
	}

	var header [EntryHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))
	if _, err := w.enc.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write spill entry: %w", err)
	}
	if _, err := w.enc.Write(payload); err != nil {
		return fmt.Errorf("failed to write spill entry: %w", err)
	}
	w.entries++
	return nil
}

// Entries returns the number of entries appended so far
func (w *Writer) Entries() int { return w.entries }

// Close flushes the compressed stream
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.enc.Close()
}

// Reader iterates the entries of a spill stream
type Reader struct {
	dec *zstd.Decoder
	r   *bufio.Reader
	buf []byte
}

// NewReader validates the file header
func NewReader(r io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	br := bufio.NewReader(dec)

	header := make([]byte, FileHeaderSize)
	if _, err := io.ReadFull(br, header); err != nil {
		dec.Close()
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(header[0:4], Magic) {
		dec.Close()
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, header[0:4])
	}
	if v := binary.BigEndian.Uint16(header[4:6]); v != Version {
		dec.Close()
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	if header[6] != ChecksumCRC32 {
		dec.Close()
		return nil, fmt.Errorf("%w: unsupported checksum type %d", ErrCorrupt, header[6])
	}
	return &Reader{dec: dec, r: br}, nil
}

// Next decodes the next entry. It returns io.EOF after the last one.
func (r *Reader) Next() (models.SpillEntry, error) {
	var e models.SpillEntry

	var header [EntryHeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return e, io.EOF
		}
		return e, fmt.Errorf("%w: entry header: %v", ErrCorrupt, err)
	}
	size := binary.BigEndian.Uint32(header[0:4])
	if size > MaxEntrySize {
		return e, fmt.Errorf("%w: entry of %d bytes", ErrCorrupt, size)
	}
	if cap(r.buf) < int(size) {
		r.buf = make([]byte, size)
	}
	payload := r.buf[:size]
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return e, fmt.Errorf("%w: entry payload: %v", ErrCorrupt, err)
	}
	if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(header[4:8]) {
		return e, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if err := msgpack.Unmarshal(payload, &e); err != nil {
		return e, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return e, nil
}

// Close releases the decoder
func (r *Reader) Close() {
	r.dec.Close()
}

// ReadAll decodes every entry of data
func ReadAll(data []byte) ([]models.SpillEntry, error) {
	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []models.SpillEntry
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}
