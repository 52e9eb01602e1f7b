// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
)

const (
	// minClientThroughput is the slowest transfer rate (bytes/s) a chunk
	// upload is allowed before its connection times out.
	minClientThroughput = 4000

	// maxIdleGraceFactor caps the extra write deadline granted after a pause.
	maxIdleGraceFactor = 3
)

// Listener hands out connections whose deadlines stretch with the amount of
// data moved, so a large chunk on a slow link is not cut off at a fixed
// timeout while a stalled client still is.
type Listener struct {
	net.Listener
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: c, ReadTimeout: l.ReadTimeout, WriteTimeout: l.WriteTimeout}, nil
}

// Conn sets a throughput-scaled deadline before every read and write.
type Conn struct {
	net.Conn
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	bytesRead    int64
	bytesWritten int64
	lastWrite    time.Time
}

// scaledDeadline is timeout multiplied by how many timeout windows worth of
// minimum throughput have already been transferred.
func scaledDeadline(timeout time.Duration, transferred int64) time.Duration {
	window := int64(float64(minClientThroughput) * timeout.Seconds())
	if window <= 0 {
		window = 1
	}
	return timeout * time.Duration(transferred/window+1)
}

func (c *Conn) Read(b []byte) (int, error) {
	if c.ReadTimeout != 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(scaledDeadline(c.ReadTimeout, c.bytesRead))); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Read(b)
	if err == nil {
		c.bytesRead += int64(n)
	}
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	if c.WriteTimeout != 0 {
		now := time.Now()
		deadline := scaledDeadline(c.WriteTimeout, c.bytesWritten)
		// A pause longer than the base timeout (the server was busy, e.g.
		// combining parts) earns that much grace, capped.
		if !c.lastWrite.IsZero() {
			if idle := now.Sub(c.lastWrite); idle > c.WriteTimeout {
				deadline += min(idle, deadline*maxIdleGraceFactor)
			}
		}
		if err := c.Conn.SetWriteDeadline(now.Add(deadline)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Write(b)
	if err == nil {
		c.bytesWritten += int64(n)
		c.lastWrite = time.Now()
	}
	return n, err
}

// NewListener listens on addr. A zero timeout disables deadlines.
func NewListener(addr string, timeout time.Duration) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{Listener: listener, ReadTimeout: timeout, WriteTimeout: timeout}, nil
}

// DetectedHostAddress returns the first non-loopback IPv4 address, then
// IPv6, falling back to localhost.
func DetectedHostAddress() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		logger.Info().Err(err).Msg("failed to detect net interfaces")
		return ""
	}
	if addr := firstAddress(ifaces, true); addr != "" {
		return addr
	}
	if addr := firstAddress(ifaces, false); addr != "" {
		return addr
	}
	return "localhost"
}

func firstAddress(ifaces []net.Interface, v4 bool) string {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			logger.Info().Err(err).Str("interface", iface.Name).Msg("failed to read interface addresses")
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			ip := ipNet.IP
			if v4 && ip.To4() != nil {
				return ip.String()
			}
			// link-local v6 needs a zone and cannot be bound to
			if !v4 && ip.To4() == nil && ip.To16() != nil && !ip.IsLinkLocalUnicast() {
				return ip.String()
			}
		}
	}
	return ""
}

func JoinHostPort(host string, port int) string {
	p := strconv.Itoa(port)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host + ":" + p
	}
	return net.JoinHostPort(host, p)
}
