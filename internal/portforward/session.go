package portforward

import (
	"context"
	"io"
	"sync"

	"github.com/cpaika/gokube/internal/logging"
	"github.com/cpaika/gokube/internal/runtime"
)

// Dialer opens a stream to a port inside a container; runtime.Runtime
// satisfies it directly.
type Dialer interface {
	Dial(ctx context.Context, containerID string, port int32) (io.ReadWriteCloser, error)
}

// session owns one upgraded connection for the lifetime of the request:
// one dial per mapped port, copying bytes in both directions as frames
// on that port's data/error stream pair.
type session struct {
	conn        io.ReadWriter
	dialer      Dialer
	containerID string
	mappings    []portMapping
	log         logging.Logger

	writeMu sync.Mutex
}

func newSession(conn io.ReadWriter, dialer Dialer, containerID string, mappings []portMapping, log logging.Logger) *session {
	return &session{conn: conn, dialer: dialer, containerID: containerID, mappings: mappings, log: log}
}

// writeFrame serializes and writes one frame, synchronized against the
// other streams sharing this connection.
func (s *session) writeFrame(streamID byte, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	frame, err := Construct(streamID, payload)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(frame)
	return err
}

func (s *session) writeAck(streamID byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(constructAck(streamID))
	return err
}

// run dials every mapped port, sends the two ACK frames each port's
// stream pair gets after upgrade, then pumps frames read off the
// connection into the right container socket until ctx is cancelled or
// the connection closes. Each port pair runs independently: one port's
// dial failure only emits an error frame on that pair, not a teardown
// of the whole connection.
func (s *session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	streams := make(map[byte]*portStream, len(s.mappings))
	var wg sync.WaitGroup
	for _, m := range s.mappings {
		ps := &portStream{mapping: m}
		streams[m.streamID] = ps

		if err := s.writeAck(m.streamID); err != nil {
			return err
		}
		if err := s.writeAck(m.streamID + 1); err != nil {
			return err
		}

		conn, err := s.dialer.Dial(ctx, s.containerID, m.remote)
		if err != nil {
			s.log.Info("port-forward dial failed", "port", m.remote, "error", err.Error())
			_ = s.writeFrame(m.streamID+1, []byte(err.Error()))
			continue
		}
		ps.conn = conn

		wg.Add(1)
		go func(ps *portStream) {
			defer wg.Done()
			s.pumpFromContainer(ctx, ps)
		}(ps)
	}

	fr := newFrameReader(s.conn)
	for {
		frame, err := fr.ReadFrame()
		if err != nil {
			cancel()
			break
		}
		ps, ok := streams[frame.StreamID]
		if !ok || ps.conn == nil || len(frame.Payload) == 0 {
			continue
		}
		if _, err := ps.conn.Write(frame.Payload); err != nil {
			_ = s.writeFrame(ps.mapping.streamID+1, []byte(err.Error()))
			_ = ps.conn.Close()
			ps.conn = nil
		}
	}

	for _, ps := range streams {
		if ps.conn != nil {
			_ = ps.conn.Close()
		}
	}
	wg.Wait()
	return nil
}

// pumpFromContainer copies bytes read from the container socket onto the
// port's data stream, emitting an error frame instead of tearing down
// the connection if the copy fails: a fatal error closes that stream
// pair, never the whole connection.
func (s *session) pumpFromContainer(ctx context.Context, ps *portStream) {
	conn := ps.conn
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := conn.Read(buf)
		if n > 0 {
			if werr := s.writeFrame(ps.mapping.streamID, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				_ = s.writeFrame(ps.mapping.streamID+1, []byte(err.Error()))
			}
			return
		}
	}
}

type portStream struct {
	mapping portMapping
	conn    io.ReadWriteCloser
}

var _ Dialer = (*runtime.ProcessRuntime)(nil)
