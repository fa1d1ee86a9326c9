package device

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/muesli/cancelreader"
)

// File is a Device backed by a character device node (or any file that
// behaves like one: a read returns one line or nothing).
type File struct {
	path string
}

// NewFile returns a Device for the node at path.
func NewFile(path string) *File {
	return &File{path: filepath.Clean(path)}
}

// Path returns the device node path.
func (d *File) Path() string {
	return d.path
}

// Command opens the node for writing, writes token, and closes it again.
// The driver consumes a command per write call, so each command gets its
// own open/write/close cycle.
func (d *File) Command(ctx context.Context, token string) error {
	if err := ValidateCommand(token); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(d.path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(token); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Open opens the node for reading.
func (d *File) Open() (Stream, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, err
	}
	return newFileStream(f), nil
}

// fileStream reads lines from an open node. Reads go through a
// cancelreader when the node supports polling; otherwise Cancel falls back
// to closing the file.
type fileStream struct {
	f  *os.File
	cr cancelreader.CancelReader // nil when the node cannot be polled
	br *bufio.Reader

	// partial holds bytes of a line whose terminator has not arrived yet.
	partial []byte

	closeOnce sync.Once
	closeErr  error
}

func newFileStream(f *os.File) *fileStream {
	s := &fileStream{f: f}
	var r io.Reader = f
	if cr, err := cancelreader.NewReader(f); err == nil {
		s.cr = cr
		r = cr
	}
	s.br = bufio.NewReaderSize(r, 4096)
	return s
}

func (s *fileStream) ReadLine() (string, error) {
	chunk, err := s.br.ReadBytes('\n')
	if len(chunk) > 0 {
		s.partial = append(s.partial, chunk...)
	}
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			// Nothing pending. Any partial line stays buffered.
			return "", nil
		case errors.Is(err, cancelreader.ErrCanceled), errors.Is(err, os.ErrClosed):
			return "", ErrStreamClosed
		default:
			return "", err
		}
	}

	line := strings.TrimRight(string(s.partial), "\r\n")
	s.partial = s.partial[:0]
	return line, nil
}

func (s *fileStream) Cancel() bool {
	if s.cr != nil {
		return s.cr.Cancel()
	}
	return s.Close() == nil
}

func (s *fileStream) Close() error {
	s.closeOnce.Do(func() {
		if s.cr != nil {
			_ = s.cr.Close()
		}
		s.closeErr = s.f.Close()
	})
	return s.closeErr
}
