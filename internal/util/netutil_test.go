package util

import (
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCreateListener_Loopback(t *testing.T) {
	ln, err := CreateListener("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer ln.Close()

	_, ok := ln.Addr().(*net.TCPAddr)
	assert.True(t, ok, "expected a TCP address, got %T", ln.Addr())
}

func TestCreateListener_InvalidArgs(t *testing.T) {
	_, err := CreateListener("", 0)
	assert.Error(t, err)

	_, err = CreateListener("127.0.0.1:0", -1)
	assert.Error(t, err)
}

func TestCreateListener_AddrInUse(t *testing.T) {
	first, err := CreateListener("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer first.Close()

	_, err = CreateListener(first.Addr().String(), 0)
	require.Error(t, err)
	assert.True(t, IsAddrInUse(err), "expected address-in-use, got %v", err)
}

func TestCreateListener_ConnectionLimit(t *testing.T) {
	ln, err := CreateListener("127.0.0.1:0", 1)
	require.NoError(t, err)
	defer ln.Close()

	var wg sync.WaitGroup
	accepted := make(chan net.Conn, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2; i++ {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()

	c1, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c1.Close()
	c2, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c2.Close()

	first := <-accepted
	select {
	case <-accepted:
		t.Fatal("second connection accepted while the first still holds the only slot")
	case <-time.After(100 * time.Millisecond):
	}

	first.Close()
	select {
	case second := <-accepted:
		second.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("second connection was never accepted after the slot was released")
	}
	ln.Close()
	wg.Wait()
}

func TestIsAddrInUse(t *testing.T) {
	assert.False(t, IsAddrInUse(nil))
	assert.True(t, IsAddrInUse(&net.OpError{Op: "listen", Err: os.NewSyscallError("bind", unix.EADDRINUSE)}))
	assert.True(t, IsAddrInUse(fmt.Errorf("wrapped: bind: address already in use")))
	assert.False(t, IsAddrInUse(fmt.Errorf("connection refused")))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTemporaryAcceptError(t *testing.T) {
	assert.False(t, IsTemporaryAcceptError(nil))
	assert.True(t, IsTemporaryAcceptError(timeoutErr{}))
	assert.True(t, IsTemporaryAcceptError(&net.OpError{Op: "accept", Err: os.NewSyscallError("accept", unix.EMFILE)}))
	assert.False(t, IsTemporaryAcceptError(net.ErrClosed))
}
