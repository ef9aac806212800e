package runtime

import (
	"context"
	"io"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
)

// bridgeTools is the preference list for stream-to-TCP bridging when
// direct TCP into a container is not feasible: try socat first, then
// the BSD/GNU nc variants.
var bridgeTools = []struct {
	name string
	args func(host string, port int32) []string
}{
	{"socat", func(host string, port int32) []string {
		return []string{"-", "TCP:" + host + ":" + portString(port)}
	}},
	{"nc", func(host string, port int32) []string {
		return []string{host, portString(port)}
	}},
	{"netcat", func(host string, port int32) []string {
		return []string{host, portString(port)}
	}},
}

// dialViaBridgeTool spawns the first available tool from bridgeTools as a
// subprocess and wires its stdin/stdout as the stream, closing the
// process when the stream is closed.
func dialViaBridgeTool(ctx context.Context, host string, port int32) (io.ReadWriteCloser, error) {
	for _, tool := range bridgeTools {
		path, err := exec.LookPath(tool.name)
		if err != nil {
			continue
		}
		cmd := exec.CommandContext(ctx, path, tool.args(host, port)...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			continue
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			continue
		}
		if err := cmd.Start(); err != nil {
			continue
		}
		return &bridgeStream{cmd: cmd, stdin: stdin, stdout: stdout}, nil
	}
	return nil, errors.Errorf("no bridge tool available to reach %s:%d (tried socat, nc, netcat)", host, port)
}

// bridgeStream adapts a subprocess's stdin/stdout pipes to
// io.ReadWriteCloser, terminating the process on Close.
type bridgeStream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (b *bridgeStream) Read(p []byte) (int, error)  { return b.stdout.Read(p) }
func (b *bridgeStream) Write(p []byte) (int, error) { return b.stdin.Write(p) }

func (b *bridgeStream) Close() error {
	_ = b.stdin.Close()
	_ = b.stdout.Close()
	if b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
	}
	return b.cmd.Wait()
}

func portString(p int32) string {
	return strconv.Itoa(int(p))
}
