package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Pipe is the named-pipe transport. It listens on a server-chosen
// unix-domain socket, advertises the name as a single JSON line on
// the announcement channel before accepting, then speaks the same
// framed protocol as the standard-stream variant.
type Pipe struct {
	path     string
	announce io.Writer

	listener net.Listener
	stream   *Stream

	closeOnce sync.Once
	closeErr  error
}

// NewPipe creates a named-pipe transport. The announcement line goes
// to announce, which defaults to the process stdout; the protocol
// itself never touches that stream afterwards.
func NewPipe(announce io.Writer) *Pipe {
	if announce == nil {
		announce = os.Stdout
	}
	return &Pipe{
		path:     filepath.Join(os.TempDir(), fmt.Sprintf("quill-ls-%s.sock", uuid.NewString())),
		announce: announce,
	}
}

// Name returns the pipe path the peer should dial.
func (p *Pipe) Name() string { return p.path }

// Start advertises {"pipeName":"<name>"} and blocks until the peer
// connects. It is one-shot.
func (p *Pipe) Start() error {
	listener, err := net.Listen("unix", p.path)
	if err != nil {
		return fmt.Errorf("transport: listening on pipe %s: %w", p.path, err)
	}
	p.listener = listener

	line, err := json.Marshal(struct {
		PipeName string `json:"pipeName"`
	}{PipeName: p.path})
	if err != nil {
		listener.Close()
		return fmt.Errorf("transport: encoding pipe announcement: %w", err)
	}
	if _, err := fmt.Fprintf(p.announce, "%s\n", line); err != nil {
		listener.Close()
		return fmt.Errorf("transport: writing pipe announcement: %w", err)
	}

	conn, err := listener.Accept()
	if err != nil {
		listener.Close()
		return fmt.Errorf("transport: accepting pipe connection: %w", err)
	}
	p.stream = NewStream(conn, conn, conn)
	return nil
}

// ReadMessage returns the next framed body from the connected peer.
func (p *Pipe) ReadMessage() ([]byte, error) {
	if p.stream == nil {
		return nil, ErrClosed
	}
	return p.stream.ReadMessage()
}

// WriteMessage frames and writes body to the connected peer.
func (p *Pipe) WriteMessage(body []byte) error {
	if p.stream == nil {
		return ErrClosed
	}
	return p.stream.WriteMessage(body)
}

// Close tears down the connection and the listener and removes the
// socket file. Idempotent.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		if p.stream != nil {
			p.closeErr = p.stream.Close()
		}
		if p.listener != nil {
			if err := p.listener.Close(); err != nil && p.closeErr == nil {
				p.closeErr = err
			}
		}
		os.Remove(p.path)
	})
	return p.closeErr
}
