package logx

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
)

// WriterSink sends uplink lines to an io.Writer, one line per Send.
// It is the sink for a diagnostic link exposed as a file, FIFO or tty.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewWriterSink wraps w. Close closes w when it is an io.Closer.
func NewWriterSink(w io.Writer) *WriterSink {
	s := &WriterSink{w: w}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenFileSink opens path for appending (creating a regular file if needed).
func OpenFileSink(path string) (*WriterSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("logx: uplink path is empty")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return NewWriterSink(f), nil
}

func (s *WriterSink) Send(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return os.ErrClosed
	}
	_, err := io.WriteString(s.w, line+"\n")
	return err
}

func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = nil
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
