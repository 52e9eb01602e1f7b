// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaledDeadline(t *testing.T) {
	t.Parallel()
	// 30s at 4KB/s is a 120KB window
	assert.Equal(t, 30*time.Second, scaledDeadline(30*time.Second, 0))
	assert.Equal(t, 30*time.Second, scaledDeadline(30*time.Second, 119_999))
	assert.Equal(t, 60*time.Second, scaledDeadline(30*time.Second, 120_000))
	assert.Equal(t, time.Nanosecond*2, scaledDeadline(time.Nanosecond, 1))
}

func TestJoinHostPort(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "10.0.0.1:5079", JoinHostPort("10.0.0.1", 5079))
	assert.Equal(t, "[::1]:5079", JoinHostPort("::1", 5079))
	assert.Equal(t, "[::1]:5079", JoinHostPort("[::1]", 5079))
}

func TestNewListener_RoundTrip(t *testing.T) {
	t.Parallel()
	ln, err := NewListener("127.0.0.1:0", time.Second)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		io.Copy(c, c)
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("chunk"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "chunk", string(buf))
}

func TestLoadServerTLSConfig(t *testing.T) {
	t.Parallel()

	cfg, err := LoadServerTLSConfig("", "", "")
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = LoadServerTLSConfig("cert.pem", "", "")
	assert.Error(t, err)

	_, err = LoadServerTLSConfig("", "", "ca.pem")
	assert.Error(t, err)

	_, err = LoadServerTLSConfig("missing.pem", "missing.key", "")
	assert.Error(t, err)
}
