package wire

import (
	"net"
	"os"
	"testing"
)

func TestFramedConnWriteReadExact(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sconn := NewFramedConn(server)
	cconn := NewFramedConn(client)

	payload := []byte("hello retrieve")
	done := make(chan error, 1)
	go func() { done <- sconn.WriteExact(payload) }()

	buf := make([]byte, len(payload))
	if err := cconn.ReadExact(buf); err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteExact: %v", err)
	}
	if string(buf) != string(payload) {
		t.Fatalf("got %q, want %q", buf, payload)
	}
}

func TestFramedConnReadExactShortConnClosed(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sconn := NewFramedConn(server)
	go func() {
		_ = sconn.WriteExact([]byte("ab"))
		server.Close()
	}()

	cconn := NewFramedConn(client)
	buf := make([]byte, 5)
	if err := cconn.ReadExact(buf); err == nil {
		t.Fatal("ReadExact should error on a connection that closes before filling buf")
	}
}

func TestSendFileRange(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "sendfile-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	content := []byte("the quick brown fox jumps over the lazy dog")
	if _, err := f.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sconn := NewFramedConn(server)

	done := make(chan error, 1)
	go func() { done <- sconn.SendFileRange(f, int64(len(content))) }()

	got := make([]byte, len(content))
	cconn := NewFramedConn(client)
	if err := cconn.ReadExact(got); err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendFileRange: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("got %q, want %q", got, content)
	}
}
