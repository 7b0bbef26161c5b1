package util

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// --------------------------------------------------------------------------
// Dump Format
// --------------------------------------------------------------------------

/*
All engines share one engine independent dump format for Save and Load:

	magic "HKVDUMP\x00" | version uint8 |
	{ 0x01 | keyLen uint32 | key | expireAt int64 | valueLen uint32 | value }* |
	0x00

All integers are little endian. expireAt is a unix timestamp in nanoseconds (0 = none).
The entry count is not known upfront because engines stream their snapshot, the
stream is therefore terminated by a 0x00 marker.
*/

const (
	dumpMagic   = "HKVDUMP\x00" // File format identifier
	dumpVersion = 1             // Dump format version

	markerEntry = 0x01
	markerEnd   = 0x00
)

// ErrInvalidDump is returned by the DumpReader for malformed input
var ErrInvalidDump = errors.New("invalid dump")

// DumpWriter streams entries in the dump format
type DumpWriter struct {
	bw    *bufio.Writer
	count int
}

// NewDumpWriter writes the dump header to w and returns a writer for the entries
func NewDumpWriter(w io.Writer) (*DumpWriter, error) {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(dumpMagic); err != nil {
		return nil, err
	}
	if err := bw.WriteByte(dumpVersion); err != nil {
		return nil, err
	}
	return &DumpWriter{bw: bw}, nil
}

// WriteEntry appends one entry to the dump
func (dw *DumpWriter) WriteEntry(key, value []byte, expireAt int64) error {
	if uint64(len(key)) > math.MaxUint32 || uint64(len(value)) > math.MaxUint32 {
		return fmt.Errorf("entry %q too large for dump", key)
	}

	var hdr [4]byte
	if err := dw.bw.WriteByte(markerEntry); err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(hdr[:], uint32(len(key)))
	if _, err := dw.bw.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := dw.bw.Write(key); err != nil {
		return err
	}

	if err := binary.Write(dw.bw, binary.LittleEndian, expireAt); err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(hdr[:], uint32(len(value)))
	if _, err := dw.bw.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := dw.bw.Write(value); err != nil {
		return err
	}

	dw.count++
	return nil
}

// Count returns the number of entries written so far
func (dw *DumpWriter) Count() int {
	return dw.count
}

// Close writes the end marker and flushes the buffer. It does not close the underlying writer.
func (dw *DumpWriter) Close() error {
	if err := dw.bw.WriteByte(markerEnd); err != nil {
		return err
	}
	return dw.bw.Flush()
}

// DumpReader reads entries written by a DumpWriter
type DumpReader struct {
	br *bufio.Reader
}

// NewDumpReader verifies the dump header of r
func NewDumpReader(r io.Reader) (*DumpReader, error) {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magic := make([]byte, len(dumpMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	if string(magic) != dumpMagic {
		return nil, fmt.Errorf("%w: magic number mismatch", ErrInvalidDump)
	}

	version, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	if version != dumpVersion {
		return nil, fmt.Errorf("%w: unsupported version %d (expected %d)", ErrInvalidDump, version, dumpVersion)
	}

	return &DumpReader{br: br}, nil
}

// Next reads the next entry. ok is false once the end marker was read.
func (dr *DumpReader) Next() (key, value []byte, expireAt int64, ok bool, err error) {
	marker, err := dr.br.ReadByte()
	if err != nil {
		return nil, nil, 0, false, fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	switch marker {
	case markerEnd:
		return nil, nil, 0, false, nil
	case markerEntry:
	default:
		return nil, nil, 0, false, fmt.Errorf("%w: unknown marker 0x%02x", ErrInvalidDump, marker)
	}

	if key, err = dr.readBlob(); err != nil {
		return nil, nil, 0, false, err
	}
	if err = binary.Read(dr.br, binary.LittleEndian, &expireAt); err != nil {
		return nil, nil, 0, false, fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	if value, err = dr.readBlob(); err != nil {
		return nil, nil, 0, false, err
	}
	return key, value, expireAt, true, nil
}

func (dr *DumpReader) readBlob() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(dr.br, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	blob := make([]byte, binary.LittleEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(dr.br, blob); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	return blob, nil
}
