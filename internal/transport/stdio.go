package transport

import (
	"bufio"
	"io"
	"os"
	"sync"
)

// Stream carries LSP frames over an arbitrary reader/writer pair. It
// backs both the stdio transport and, with a net.Conn, the named-pipe
// transport. Tests inject in-memory pipes through NewStream.
type Stream struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStream wraps r and w in a framed transport. closer may be nil.
func NewStream(r io.Reader, w io.Writer, closer io.Closer) *Stream {
	return &Stream{
		reader: bufio.NewReaderSize(r, 64*1024),
		writer: w,
		closer: closer,
		closed: make(chan struct{}),
	}
}

// NewStdio returns the standard-stream transport over the process
// stdin/stdout. Stdout belongs exclusively to the protocol; all
// logging goes to stderr.
func NewStdio() *Stream {
	return NewStream(os.Stdin, os.Stdout, stdioCloser{})
}

// Start is a no-op for the standard-stream variant.
func (s *Stream) Start() error { return nil }

// ReadMessage returns the next framed body, io.EOF on peer close, or
// a *FramingError on malformed headers.
func (s *Stream) ReadMessage() ([]byte, error) {
	select {
	case <-s.closed:
		return nil, io.EOF
	default:
	}
	body, err := readFrame(s.reader)
	if err != nil {
		select {
		case <-s.closed:
			// A read failing because Close tore the stream down is a
			// clean end of stream, not a framing fault.
			return nil, io.EOF
		default:
		}
		return nil, err
	}
	return body, nil
}

// WriteMessage frames body and writes it atomically relative to other
// writers.
func (s *Stream) WriteMessage(body []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return writeFrame(s.writer, body)
}

// Close is idempotent; pending reads observe io.EOF.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// stdioCloser closes the real process streams.
type stdioCloser struct{}

func (stdioCloser) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}
