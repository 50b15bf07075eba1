package segment

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

// newTestStream creates a NetStream over an in-memory pipe and returns the
// executor driving it plus the raw peer side for the test to feed or drain.
func newTestStream(t *testing.T, opt ...Option) (*Executor, *NetStream, net.Conn) {
	t.Helper()

	exec := NewExecutor()
	local, peer := net.Pipe()
	stream := NewNetStream(exec, local, opt...)

	t.Cleanup(func() {
		stream.Close()
		peer.Close()
		exec.Shutdown()
	})

	return exec, stream, peer
}

func TestNetStream_Read(t *testing.T) {
	_, stream, peer := newTestStream(t)

	go func() {
		_, _ = peer.Write([]byte{1, 2, 3, 4, 5})
	}()

	buf := make([]byte, 8)
	n, err := stream.Read(buf).Wait()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 5 {
		t.Fatalf("Read = %d bytes, want 5", n)
	}
	if !bytes.Equal(buf[:n], []byte{1, 2, 3, 4, 5}) {
		t.Errorf("Read bytes = %v", buf[:n])
	}
}

func TestNetStream_ReadPartialDelivery(t *testing.T) {
	_, stream, peer := newTestStream(t)

	go func() {
		_, _ = peer.Write([]byte{1, 2, 3})
		time.Sleep(10 * time.Millisecond)
		_, _ = peer.Write([]byte{4, 5})
	}()

	buf := make([]byte, 8)
	n, err := stream.Read(buf).Wait()
	if err != nil {
		t.Fatalf("first Read failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("first Read = %d bytes, want 3", n)
	}

	n, err = stream.Read(buf[3:]).Wait()
	if err != nil {
		t.Fatalf("second Read failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("second Read = %d bytes, want 2", n)
	}
	if !bytes.Equal(buf[:5], []byte{1, 2, 3, 4, 5}) {
		t.Errorf("accumulated bytes = %v", buf[:5])
	}
}

func TestNetStream_ReadCleanEOF(t *testing.T) {
	_, stream, peer := newTestStream(t)

	peer.Close()

	n, err := stream.Read(make([]byte, 4)).Wait()
	if err != nil {
		t.Fatalf("Read at EOF failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Read at EOF = %d bytes, want 0", n)
	}
}

func TestNetStream_Write(t *testing.T) {
	_, stream, peer := newTestStream(t)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4)
		n, _ := peer.Read(buf)
		got <- buf[:n]
	}()

	n, err := stream.Write([]byte{9, 8, 7, 6}).Wait()
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != 4 {
		t.Fatalf("Write = %d bytes, want 4", n)
	}

	select {
	case buf := <-got:
		if !bytes.Equal(buf, []byte{9, 8, 7, 6}) {
			t.Errorf("peer received %v", buf)
		}
	case <-time.After(time.Second):
		t.Fatal("peer never received bytes")
	}
}

func TestNetStream_CloseRejectsOperations(t *testing.T) {
	_, stream, _ := newTestStream(t)

	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := stream.Read(make([]byte, 1)).Wait(); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Read after Close: expected ErrStreamClosed, got %v", err)
	}
	if _, err := stream.Write(make([]byte, 1)).Wait(); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Write after Close: expected ErrStreamClosed, got %v", err)
	}

	// Closing again is a no-op.
	if err := stream.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestNetStream_TransportErrorSticks(t *testing.T) {
	_, stream, _ := newTestStream(t)

	// Closing our own raw side, not the peer's, makes reads fail rather
	// than report end-of-stream.
	stream.conn.Close()

	_, err := stream.Read(make([]byte, 4)).Wait()
	if err == nil {
		t.Fatal("expected transport error")
	}

	_, err = stream.Read(make([]byte, 4)).Wait()
	if err == nil {
		t.Fatal("expected sticky transport error on later read")
	}
}

func TestNetStream_IdleTimeout(t *testing.T) {
	_, stream, _ := newTestStream(t, IdleTimeoutOption(10*time.Millisecond))

	// A silent peer trips the deadline; the read resolves with a timeout
	// error instead of suspending forever.
	_, err := stream.Read(make([]byte, 4)).Wait()
	if err == nil {
		t.Fatal("expected deadline error from a silent peer")
	}

	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("expected a timeout error, got %v", err)
	}
}

func TestNetStream_OperationQueueOverflow(t *testing.T) {
	_, stream, _ := newTestStream(t)

	// With the default queue capacity of 1 and no peer data, at most one
	// read can be served and one more queued. Issuing more at once violates
	// the single-reader discipline; the stream refuses rather than hangs.
	var pending []*Promise[int]
	var overflowed bool
	for i := 0; i < 3; i++ {
		p := stream.Read(make([]byte, 1))
		select {
		case <-p.Done():
			if _, err := p.Wait(); errors.Is(err, ErrBufferFull) {
				overflowed = true
			}
		default:
			pending = append(pending, p)
		}
	}

	if !overflowed {
		t.Error("expected ErrBufferFull when exceeding the operation queue")
	}
	for _, p := range pending {
		p.Cancel()
	}
}
