package reachability

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialProbe_Reachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	probe := NewDialProbe(ln.Addr().String(), time.Second)
	assert.True(t, probe.IsReachable(context.Background()))
}

func TestDialProbe_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	probe := NewDialProbe(addr, 200*time.Millisecond)
	assert.False(t, probe.IsReachable(context.Background()))
}

func TestDialProbe_AnswersEveryCallFresh(t *testing.T) {
	var dials int
	up := true
	probe := NewDialProbe("example.invalid:443", time.Second)
	probe.dialer = func(context.Context, string, string) (net.Conn, error) {
		dials++
		if !up {
			return nil, &net.OpError{Op: "dial", Err: assert.AnError}
		}
		client, server := net.Pipe()
		_ = server.Close()
		return client, nil
	}

	assert.True(t, probe.IsReachable(context.Background()))
	up = false
	assert.False(t, probe.IsReachable(context.Background()))
	assert.Equal(t, 2, dials)
}

func TestDialProbe_DefaultTimeout(t *testing.T) {
	probe := NewDialProbe("localhost:1", 0)
	assert.Equal(t, DefaultTimeout, probe.timeout)
}

func TestStatic(t *testing.T) {
	assert.True(t, Static(true).IsReachable(context.Background()))
	assert.False(t, Static(false).IsReachable(context.Background()))
}
