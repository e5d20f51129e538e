package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"

	"main/internal/schema"
)

var ErrChecksumMismatch = errors.New("journal checksum mismatch")

// Reader decodes journal records sequentially.
type Reader struct {
	r   *bufio.Reader
	buf [recordSize]byte
}

// NewReader wraps an io.Reader with journal decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next record. io.EOF means a clean end;
// io.ErrUnexpectedEOF means a torn tail record.
func (r *Reader) Next() (seq uint64, ev schema.ExecutionEvent, err error) {
	n, err := io.ReadFull(r.r, r.buf[:])
	if err != nil {
		if err == io.EOF && n == 0 {
			return 0, schema.ExecutionEvent{}, io.EOF
		}
		if err == io.EOF {
			return 0, schema.ExecutionEvent{}, io.ErrUnexpectedEOF
		}
		return 0, schema.ExecutionEvent{}, err
	}

	seq, err = decodeHeader(r.buf[:recordHeaderSize])
	if err != nil {
		return 0, schema.ExecutionEvent{}, err
	}
	body := r.buf[recordHeaderSize : recordHeaderSize+recordBodySize]
	expected := binary.LittleEndian.Uint32(r.buf[recordHeaderSize+recordBodySize:])
	if checksum(r.buf[:recordHeaderSize], body) != expected {
		return 0, schema.ExecutionEvent{}, ErrChecksumMismatch
	}
	ev, err = decodeBody(body)
	return seq, ev, err
}

// ReadDir replays every journal segment in a directory in name order. A
// torn tail on the last segment ends the replay cleanly; any other
// corruption is returned.
func ReadDir(dir, prefix string) ([]schema.ExecutionEvent, error) {
	pattern := filepath.Join(dir, prefix+"-*")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var out []schema.ExecutionEvent
	for i, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		r := NewReader(f)
		for {
			_, ev, err := r.Next()
			if err == io.EOF {
				break
			}
			if err == io.ErrUnexpectedEOF && i == len(paths)-1 {
				break
			}
			if err != nil {
				f.Close()
				return out, err
			}
			out = append(out, ev)
		}
		f.Close()
	}
	return out, nil
}
