// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package quic

import (
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenUDPReusable opens a UDP socket bound to addr with SO_REUSEADDR
// (and, where supported, SO_REUSEPORT) set before bind, so a restarted
// or load-balanced cmd/quicd can rebind a just-vacated port without
// waiting out TIME_WAIT. Grounded on the raw-socket-options idiom seen
// across the corpus's socket-level tooling (runZeroInc's TCP exporters;
// MiraiMindz-watt's shockwave transport).
func listenUDPReusable(network, addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, err
	}

	domain := unix.AF_INET
	if udpAddr.IP != nil && udpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setnonblock", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt(SO_REUSEADDR)", err)
	}
	// Best-effort: not every unix variant exposes SO_REUSEPORT under the
	// same semantics, and a bind failure downstream is a clearer signal
	// than a failed setsockopt here.
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)

	sa, err := sockaddrForUDPAddr(udpAddr, domain)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}

	f := os.NewFile(uintptr(fd), "quic-udp")
	defer f.Close()
	conn, err := net.FilePacketConn(f)
	if err != nil {
		return nil, err
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return nil, &net.OpError{Op: "listen", Net: network, Err: syscall.EINVAL}
	}
	return udpConn, nil
}

func sockaddrForUDPAddr(addr *net.UDPAddr, domain int) (unix.Sockaddr, error) {
	if domain == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		if ip := addr.IP.To16(); ip != nil {
			copy(sa.Addr[:], ip)
		}
		return sa, nil
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	if ip := addr.IP.To4(); ip != nil {
		copy(sa.Addr[:], ip)
	}
	return sa, nil
}
