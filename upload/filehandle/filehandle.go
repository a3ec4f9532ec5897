// Package filehandle abstracts access to the bytes of a file selected for
// upload. The upload engine only needs the file's size and the ability to
// read an arbitrary byte range, so sources other than the local filesystem
// (in-memory buffers, remote readers) can be plugged in.
package filehandle

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Handle provides random access to a file's content.
// ReadRange may be called multiple times for the same range (retries), and
// concurrently for different ranges.
type Handle interface {
	// Size returns the total size of the file in bytes.
	Size() int64

	// ReadRange returns a reader over the half-open byte range [start, end).
	// The caller is responsible for closing the returned reader.
	ReadRange(start, end int64) (io.ReadCloser, error)
}

// OSHandle reads ranges from a file on disk.
type OSHandle struct {
	file *os.File
	size int64
}

// Open creates a Handle for a file on the local filesystem.
func Open(path string) (*OSHandle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, fmt.Errorf("stat file: %w", err)
	}
	return &OSHandle{file: file, size: info.Size()}, nil
}

// Size returns the file size recorded at open time.
func (h *OSHandle) Size() int64 {
	return h.size
}

// ReadRange returns a reader over [start, end). Reads use ReadAt under the
// hood, so concurrent range reads on the same handle are safe.
func (h *OSHandle) ReadRange(start, end int64) (io.ReadCloser, error) {
	if err := checkRange(start, end, h.size); err != nil {
		return nil, err
	}
	return io.NopCloser(io.NewSectionReader(h.file, start, end-start)), nil
}

// Close closes the underlying file.
func (h *OSHandle) Close() error {
	return h.file.Close()
}

// BytesHandle serves ranges from an in-memory byte slice.
type BytesHandle struct {
	data []byte
}

// NewBytesHandle creates a Handle backed by the given slice.
func NewBytesHandle(data []byte) *BytesHandle {
	return &BytesHandle{data: data}
}

// Size returns the length of the backing slice.
func (h *BytesHandle) Size() int64 {
	return int64(len(h.data))
}

// ReadRange returns a reader over [start, end) of the backing slice.
func (h *BytesHandle) ReadRange(start, end int64) (io.ReadCloser, error) {
	if err := checkRange(start, end, h.Size()); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(h.data[start:end])), nil
}

func checkRange(start, end, size int64) error {
	if start < 0 || end < start || end > size {
		return fmt.Errorf("invalid byte range [%d, %d) for size %d", start, end, size)
	}
	return nil
}
