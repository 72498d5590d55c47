// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config configures a Listener (SPEC_FULL.md §10.3).
type Config struct {
	// TLSConfig selects the server's certificate and ALPN protocols. It
	// must be non-nil and configured for TLS 1.3.
	TLSConfig *tls.Config

	// LocalCIDLen is the length of connection IDs this listener issues.
	// Zero selects the default (spec §6 "default local_cid_len = 8").
	LocalCIDLen int

	// MaxIdleTimeout overrides defaultMaxIdleTimeout when non-zero.
	MaxIdleTimeout time.Duration

	// Events receives every connection's trace event stream, if set.
	Events EventSink

	Log *logrus.Entry
}

func (c *Config) localCIDLen() int {
	if c.LocalCIDLen <= 0 {
		return defaultLocalCIDLen
	}
	return c.LocalCIDLen
}

// packetConn is the subset of net.PacketConn the Listener depends on,
// so tests can substitute an in-memory fake for the UDP socket.
type packetConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	Close() error
}

// Listener demultiplexes UDP datagrams onto Conns by connection ID
// (spec §4.7). It holds the two CID indexes named there; insertion and
// removal are serialized by mu, while each Conn's own state remains
// exclusive to its loop goroutine (spec §5 "shared-resource policy").
type Listener struct {
	conn   packetConn
	config *Config
	log    *logrus.Entry

	mu    sync.Mutex
	icids map[string]*Conn // keyed by DCID||sockaddr, for unrecognized Initials
	cids  map[string]*Conn // keyed by our issued SCID

	metrics *metricsSet
}

// Listen opens addr and returns a Listener ready to Serve (grounded on
// the teacher's listener-construction shape, generalized to this core's
// CID-indexed demux rather than a single bound socket per connection).
func Listen(network, addr string, config *Config) (*Listener, error) {
	if config == nil || config.TLSConfig == nil {
		return nil, errors.New("quic: Config.TLSConfig is required")
	}
	udpConn, err := listenUDPReusable(network, addr)
	if err != nil {
		return nil, err
	}
	log := config.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Listener{
		conn:    udpConn,
		config:  config,
		log:     log.WithField("component", "quic.listener"),
		icids:   make(map[string]*Conn),
		cids:    make(map[string]*Conn),
		metrics: newMetricsSet(),
	}, nil
}

// Serve runs the listener's read loop until ctx is canceled or the
// socket errors (spec §5 "the UDP read handler runs on a per-socket task
// that dispatches datagrams to connection tasks by waking them").
func (l *Listener) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return l.conn.Close()
	})
	g.Go(func() error {
		return l.readLoop()
	})
	return g.Wait()
}

func (l *Listener) readLoop() error {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		l.metrics.datagramsReceived.Inc()
		b := append([]byte(nil), buf[:n]...)
		udpAddr, ok := addr.(*net.UDPAddr)
		var ap netip.AddrPort
		if ok {
			ap = udpAddr.AddrPort()
		}
		l.handleDatagram(b, ap)
	}
}

// handleDatagram implements spec §4.7's per-datagram algorithm.
func (l *Listener) handleDatagram(b []byte, addr netip.AddrPort) {
	if len(b) == 0 || b[0]&0x40 == 0 {
		l.dropDatagram("fixed bit unset")
		return // fixed bit unset: discard (step 1)
	}

	if isLongHeader(b[0]) {
		h, ok := parseLongHeaderPrefix(b)
		if !ok {
			l.dropDatagram("malformed long header")
			return
		}
		if h.ptype == packetTypeInitial {
			// A retransmitted Initial still carries the client's
			// original DCID, which the client won't replace with our
			// SCID until it has seen a response; check icids (keyed by
			// DCID||sockaddr) before cids (keyed by our SCID).
			if c := l.lookupICID(h.dstCID, addr); c != nil {
				c.sendMsg(&datagram{b: b, addr: addr})
				return
			}
			if c := l.lookupCID(h.dstCID); c != nil {
				c.sendMsg(&datagram{b: b, addr: addr})
				return
			}
			c, err := l.acceptInitial(h, addr)
			if err != nil {
				l.log.WithField("err", err).Debug("failed to accept Initial")
				l.dropDatagram("accept failed")
				return
			}
			c.sendMsg(&datagram{b: b, addr: addr})
			return
		}
		c := l.lookupCID(h.dstCID)
		if c == nil {
			l.dropDatagram("unknown DCID, non-Initial long header")
			return // non-Initial long-header with unknown DCID: drop
		}
		c.sendMsg(&datagram{b: b, addr: addr})
		return
	}

	dst, ok := dstConnIDForDatagram(b, l.config.localCIDLen())
	if !ok {
		l.dropDatagram("short-header datagram too short")
		return
	}
	c := l.lookupCID(dst)
	if c == nil {
		l.dropDatagram("unknown DCID, short header")
		return
	}
	c.sendMsg(&datagram{b: b, addr: addr})
}

// dropDatagram records a demux-stage drop (spec §4.7's discard paths),
// mirroring the per-connection dropPacket bookkeeping for packets that
// never reach a Conn at all.
func (l *Listener) dropDatagram(reason string) {
	l.metrics.packetsDropped.Inc()
	l.log.WithField("reason", reason).Debug("datagram dropped")
}

// acceptInitial implements spec §4.6/§4.7's instantiation path: a new
// Conn for an unrecognized Initial DCID, inserted into both indexes.
func (l *Listener) acceptInitial(h longHeader, addr netip.AddrPort) (*Conn, error) {
	c, err := newConn(time.Now(), serverSide, h.version, h.dstCID, h.srcCID, l.config.localCIDLen(), addr, l, nil)
	if err != nil {
		return nil, err
	}
	if l.config.Events != nil {
		c.events = l.config.Events
	}
	c.idleTimeout = defaultMaxIdleTimeout
	if l.config.MaxIdleTimeout != 0 {
		c.idleTimeout = l.config.MaxIdleTimeout
	}
	c.localTP.activeConnectionIDLimit = 2

	l.mu.Lock()
	l.icids[icidKey(h.dstCID, addr)] = c
	l.cids[c.scid.key()] = c
	l.mu.Unlock()

	l.metrics.connectionsAccepted.Inc()
	if err := c.hs.start(l.config.TLSConfig); err != nil {
		return nil, err
	}
	return c, nil
}

func (l *Listener) lookupCID(id cid) *Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cids[id.key()]
}

func (l *Listener) lookupICID(id cid, addr netip.AddrPort) *Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.icids[icidKey(id, addr)]
}

func icidKey(id cid, addr netip.AddrPort) string {
	return id.key() + "|" + addr.String()
}

// sendDatagram implements connListener for Conn's send pipeline.
func (l *Listener) sendDatagram(p []byte, addr netip.AddrPort) error {
	_, err := l.conn.WriteTo(p, net.UDPAddrFromAddrPort(addr))
	if err == nil {
		l.metrics.datagramsSent.Inc()
	}
	return err
}

// releaseConnID implements connListener: drop a Conn from the cids index
// once it has entered the closed state (spec §4.6 "Destruction path:
// ... release CIDs from the listener's indices").
func (l *Listener) releaseConnID(id cid) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cids, id.key())
}

// Close shuts down the listener's socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}
