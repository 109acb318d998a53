// Package mcpstdio implements the newline-delimited-JSON stdio transport,
// in both spawn mode (the owner launches and owns a child process) and
// in-process mode (the owner already has an io.Reader/io.Writer pair, e.g.
// os.Stdin/os.Stdout or an in-memory pipe used by tests).
package mcpstdio

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mutablelogic/go-mcp/pkg/mcpschema"
	"github.com/mutablelogic/go-mcp/pkg/mcptransport"
)

// Transport is a newline-delimited-JSON stdio transport. It implements
// mcptransport.Transport. It does not implement mcptransport.StreamRegistrar:
// stdio has exactly one reader/writer pair and no notion of multiple
// concurrent response streams, so every Send simply writes a line.
type Transport struct {
	owner mcptransport.Owner

	w io.Writer

	writeMu sync.Mutex // serialises writes so concurrent Sends don't interleave lines

	closeOnce sync.Once
	closeErr  error
	cmd       *exec.Cmd // non-nil in spawn mode

	group  *errgroup.Group
	cancel context.CancelFunc
}

var _ mcptransport.Transport = (*Transport)(nil)

// InProcess builds a stdio transport directly over an existing reader and
// writer — used when the current process is itself the MCP server reading
// os.Stdin/os.Stdout, or in tests wiring an in-memory pipe.
func InProcess(ctx context.Context, r io.Reader, w io.Writer, owner mcptransport.Owner) *Transport {
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)

	t := &Transport{
		owner:  owner,
		w:      w,
		group:  group,
		cancel: cancel,
	}

	group.Go(func() error {
		return t.readLoop(gctx, r)
	})

	return t
}

// Spawn launches a child process and wires this transport to its stdin and
// stdout; the child's stderr is forwarded line-by-line to stderrFn (never
// parsed as protocol traffic, per the stdio transport contract) and may be
// nil to discard it.
func Spawn(ctx context.Context, owner mcptransport.Owner, stderrFn func(line string), name string, args ...string) (*Transport, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)

	t := &Transport{
		owner:  owner,
		w:      stdin,
		cmd:    cmd,
		group:  group,
		cancel: cancel,
	}

	group.Go(func() error {
		return t.readLoop(gctx, stdout)
	})
	group.Go(func() error {
		t.forwardStderr(stderr, stderrFn)
		return nil
	})

	return t, nil
}

// readLoop reads newline-delimited JSON objects, tolerating a message that
// arrives split across multiple underlying reads (bufio.Reader.ReadLine's
// isPrefix signals this), classifies each complete line, and delivers it
// to the owner. It returns (and triggers Closed) on EOF or a read error.
func (t *Transport) readLoop(ctx context.Context, r io.Reader) error {
	reader := bufio.NewReaderSize(r, 64*1024)

	var line []byte
	var readErr error
	for {
		if err := ctx.Err(); err != nil {
			readErr = err
			break
		}

		part, isPrefix, err := reader.ReadLine()
		if err != nil {
			if err == io.EOF {
				readErr = nil
			} else {
				readErr = err
			}
			break
		}

		line = append(line, part...)
		if isPrefix {
			continue
		}

		payload := line
		line = nil
		if len(trimSpace(payload)) == 0 {
			continue
		}

		msg, err := mcpschema.Classify(payload)
		if err != nil {
			t.owner.ReceiveInvalid(err)
			continue
		}
		t.owner.Receive(msg)
	}

	t.finish(readErr)
	return readErr
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isSpace(b[i]) {
		i++
	}
	for j > i && isSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func (t *Transport) forwardStderr(r io.Reader, fn func(line string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if fn != nil {
			fn(scanner.Text())
		}
	}
}

// Send writes a single JSON-RPC message as one line. SendOpts are accepted
// for interface compatibility but have no effect: stdio has no concept of
// multiple response streams to route between.
func (t *Transport) Send(_ context.Context, msg mcpschema.Message, _ ...mcptransport.SendOpt) error {
	data, err := mcpschema.Encode(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.w.Write(data)
	return err
}

// Close shuts the transport down: cancels the read loop, waits for it (and
// the stderr forwarder, in spawn mode) to exit, and — in spawn mode —
// terminates the child process. It is idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		if closer, ok := t.w.(io.Closer); ok {
			closer.Close()
		}
		t.closeErr = t.group.Wait()
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
			_ = t.cmd.Wait()
		}
	})
	return t.closeErr
}

// finish is called by readLoop exactly once its loop exits; it notifies
// the owner. Since Close() also triggers loop exit via context
// cancellation, Closed is guaranteed to be observed exactly once even if
// both the remote side and Close race.
func (t *Transport) finish(err error) {
	t.owner.Closed(err)
}
