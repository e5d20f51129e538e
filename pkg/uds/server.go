package uds

import (
	"context"
	"net"
	"os"

	"github.com/yanun0323/errors"
)

var (
	// ErrEmptyPath is returned when a socket path is empty.
	ErrEmptyPath = errors.New("uds: empty path")
	// ErrAlreadyListening is returned when Listen is called twice.
	ErrAlreadyListening = errors.New("uds: already listening")
	// ErrNotListening is returned when Accept is called before Listen.
	ErrNotListening = errors.New("uds: not listening")
	// ErrPathNotSocket is returned when the existing path is not a socket.
	ErrPathNotSocket = errors.New("uds: path exists and is not a socket")
)

const unixNetwork = "unix"

// Server listens for Unix domain socket connections. A stale socket
// file at the path is removed on Listen; the listener unlinks its own
// file on Close.
type Server struct {
	addr net.UnixAddr
	ln   *net.UnixListener
}

// NewServer creates a server for the provided socket path.
func NewServer(path string) (*Server, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	return &Server{addr: net.UnixAddr{Name: path, Net: unixNetwork}}, nil
}

// Path returns the configured socket path.
func (s *Server) Path() string {
	return s.addr.Name
}

// Listen starts listening on the configured socket path.
func (s *Server) Listen() error {
	if s.ln != nil {
		return ErrAlreadyListening
	}
	if err := removeIfExists(s.addr.Name); err != nil {
		return err
	}
	ln, err := net.ListenUnix(unixNetwork, &s.addr)
	if err != nil {
		return errors.Wrap(err, "listen unix")
	}
	ln.SetUnlinkOnClose(true)
	s.ln = ln
	return nil
}

// Accept waits for the next incoming connection.
func (s *Server) Accept() (*net.UnixConn, error) {
	if s.ln == nil {
		return nil, ErrNotListening
	}
	return s.ln.AcceptUnix()
}

// Serve listens and runs one handler goroutine per connection until the
// context is done. The handler owns the connection and must close it.
func (s *Server) Serve(ctx context.Context, handle func(conn *net.UnixConn)) error {
	if err := s.Listen(); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	for {
		conn, err := s.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept unix")
		}
		go handle(conn)
	}
}

// Close stops the listener.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.ln = nil
	return err
}

func removeIfExists(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return ErrPathNotSocket
	}
	return os.Remove(path)
}
