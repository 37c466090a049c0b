package transport

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

func TestTCPServerLineProtocol(t *testing.T) {
	srv := &TCPServer{Dispatcher: newEchoDispatcher(), Addr: "127.0.0.1:0"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn, err := net.DialTimeout("tcp", srv.ListenAddr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	send := func(line string) string {
		t.Helper()
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		reply, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return reply[:len(reply)-1]
	}

	if got := send("PING"); got != "PONG" {
		t.Fatalf("PING returned %q", got)
	}
	// One bad command must not break the connection.
	if got := send("NOPE"); got != "ERROR|Unknown command: NOPE" {
		t.Fatalf("NOPE returned %q", got)
	}
	if got := send("PING"); got != "PONG" {
		t.Fatalf("second PING returned %q", got)
	}
}
