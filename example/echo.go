package main

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zereker/segment"
)

// handle echoes every framed message back to its sender until the peer
// closes the connection.
func handle(exec *segment.Executor, conn net.Conn) {
	stream := segment.NewNetStream(exec, conn)
	defer stream.Close()

	for {
		msg, err := segment.ReadMessage(exec, stream).Wait()
		if errors.Is(err, io.EOF) {
			slog.Info("peer closed", "addr", conn.RemoteAddr())
			return
		}
		if err != nil {
			slog.Error("read failed", "addr", conn.RemoteAddr(), "error", err)
			return
		}

		slog.Info("echoing message",
			"addr", conn.RemoteAddr(),
			"segments", msg.NumSegments(),
			"words", msg.TotalWords())

		if _, err := segment.WriteMessage(exec, stream, msg).Wait(); err != nil {
			slog.Error("write failed", "addr", conn.RemoteAddr(), "error", err)
			return
		}
	}
}

func main() {
	listener, err := net.Listen("tcp", "127.0.0.1:12345")
	if err != nil {
		slog.Error("failed to listen", "error", err)
		return
	}

	exec := segment.NewExecutor()
	defer exec.Shutdown()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down...")
		listener.Close()
	}()

	slog.Info("echo server started", "addr", listener.Addr())
	for {
		conn, err := listener.Accept()
		if err != nil {
			slog.Info("listener closed", "error", err)
			return
		}
		go handle(exec, conn)
	}
}
