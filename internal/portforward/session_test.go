package portforward

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cpaika/gokube/internal/logging"
)

type fakeDialer struct {
	conns map[int32]io.ReadWriteCloser
	err   map[int32]error
}

func (d *fakeDialer) Dial(ctx context.Context, containerID string, port int32) (io.ReadWriteCloser, error) {
	if err, ok := d.err[port]; ok {
		return nil, err
	}
	return d.conns[port], nil
}

func TestSessionSendsTwoAckFramesPerMappedPort(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	containerSide, _ := net.Pipe()
	dialer := &fakeDialer{conns: map[int32]io.ReadWriteCloser{80: containerSide}}

	mappings := parsePorts("8080:80")
	sess := newSession(serverConn, dialer, "container-1", mappings, logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sess.run(ctx)
		close(done)
	}()

	fr := newFrameReader(clientConn)
	dataAck, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, mappings[0].streamID, dataAck.StreamID)
	require.Equal(t, flagAck, dataAck.Flags)

	errAck, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, mappings[0].streamID+1, errAck.StreamID)
	require.Equal(t, flagAck, errAck.Flags)

	cancel()
	clientConn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session.run did not return after cancellation")
	}
}

func TestSessionRoutesClientFrameToContainerConn(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	containerLocal, containerRemote := net.Pipe()
	dialer := &fakeDialer{conns: map[int32]io.ReadWriteCloser{80: containerRemote}}

	mappings := parsePorts("80")
	sess := newSession(serverConn, dialer, "container-1", mappings, logging.NewNopLogger())

	done := make(chan struct{})
	go func() {
		_ = sess.run(context.Background())
		close(done)
	}()

	fr := newFrameReader(clientConn)
	_, err := fr.ReadFrame() // data ack
	require.NoError(t, err)
	_, err = fr.ReadFrame() // error ack
	require.NoError(t, err)

	frame, err := Construct(mappings[0].streamID, []byte("ping"))
	require.NoError(t, err)
	_, err = clientConn.Write(frame)
	require.NoError(t, err)

	buf := make([]byte, 4)
	containerLocal.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(containerLocal, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session.run did not return after client disconnect")
	}
}

func TestSessionEmitsErrorFrameOnDialFailureWithoutAbortingOtherPorts(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	goodLocal, goodRemote := net.Pipe()
	dialer := &fakeDialer{
		conns: map[int32]io.ReadWriteCloser{443: goodRemote},
		err:   map[int32]error{80: io.ErrClosedPipe},
	}

	mappings := parsePorts("80,443")
	sess := newSession(serverConn, dialer, "container-1", mappings, logging.NewNopLogger())

	done := make(chan struct{})
	go func() {
		_ = sess.run(context.Background())
		close(done)
	}()

	fr := newFrameReader(clientConn)
	// Port 80 (index 0): data ack, error ack, then a non-ack error frame
	// since its dial failed.
	ack1, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, mappings[0].streamID, ack1.StreamID)

	ack2, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, mappings[0].streamID+1, ack2.StreamID)

	errFrame, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, mappings[0].streamID+1, errFrame.StreamID)
	require.Equal(t, flagData, errFrame.Flags)
	require.NotEmpty(t, errFrame.Payload)

	// Port 443 (index 1) still completes its ack handshake normally.
	ack3, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, mappings[1].streamID, ack3.StreamID)
	ack4, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, mappings[1].streamID+1, ack4.StreamID)

	_ = goodLocal
	clientConn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session.run did not return after client disconnect")
	}
}
