package netutil

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestListenReusableBindsAndAccepts(t *testing.T) {
	ln, err := ListenReusable(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		c, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
		if err == nil {
			c.Close()
		}
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()
}

func TestLimitToOneRejectsSecondConnection(t *testing.T) {
	raw, err := ListenReusable(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ln := LimitToOne(raw)
	defer ln.Close()
	addr := ln.Addr().String()

	first, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	accepted, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	defer accepted.Close()

	second, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	if err == nil {
		second.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		buf := make([]byte, 1)
		if _, err := second.Read(buf); err == nil {
			t.Fatal("expected the second connection to never be served while the first is open")
		}
		second.Close()
	}
}
