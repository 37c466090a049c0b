package transport

import (
	"bufio"
	"context"
	"log"
	"net"

	"nt-bridge/internal/dispatch"
)

// TCPServer serves the line protocol over plain TCP: one command per line,
// one response line back. Multiple clients may be connected at once; the
// dispatcher is safe for concurrent use.
type TCPServer struct {
	Dispatcher *dispatch.Dispatcher
	Addr       string

	ln net.Listener
}

// Start begins accepting connections until ctx is cancelled.
func (s *TCPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	log.Printf("transport: tcp listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("transport: accept: %v", err)
				continue
			}
			go s.serve(ctx, conn)
		}
	}()
	return nil
}

// Addr reports the bound listen address (useful when Addr was ":0").
func (s *TCPServer) ListenAddr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *TCPServer) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		reply := s.Dispatcher.Dispatch(ctx, scanner.Text())
		if _, err := conn.Write([]byte(reply + "\n")); err != nil {
			return
		}
	}
}
