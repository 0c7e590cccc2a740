package vision

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultMulticastAddr is the SSL-Vision broadcast group.
const DefaultMulticastAddr = "224.5.23.2:10006"

// FrameHandler consumes decoded packets from a Listener. Calls arrive from
// the receive goroutine one at a time.
type FrameHandler interface {
	HandleFrame(*DetectionFrame)
	HandleGeometry(Geometry)
}

// PacketStats tracks receive-loop counters between log intervals.
type PacketStats struct {
	mu          sync.Mutex
	packetCount int64
	byteCount   int64
	frameCount  int64
	decodeErrs  int64
	lastReset   time.Time
}

// AddPacket records one received datagram of n bytes.
func (s *PacketStats) AddPacket(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetCount++
	s.byteCount += int64(n)
}

// AddFrame records one successfully decoded detection frame.
func (s *PacketStats) AddFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameCount++
}

// AddDecodeError records one undecodable datagram.
func (s *PacketStats) AddDecodeError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decodeErrs++
}

// GetAndReset returns the counters since the last reset and starts a new
// interval.
func (s *PacketStats) GetAndReset() (packets, bytes, frames, decodeErrs int64, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	duration = now.Sub(s.lastReset)
	if s.lastReset.IsZero() {
		duration = 0
	}

	packets, bytes = s.packetCount, s.byteCount
	frames, decodeErrs = s.frameCount, s.decodeErrs

	s.packetCount, s.byteCount = 0, 0
	s.frameCount, s.decodeErrs = 0, 0
	s.lastReset = now
	return
}

// ListenerConfig configures the vision receive socket.
type ListenerConfig struct {
	// Address is the host:port to receive on. A multicast group address
	// joins the group; anything else binds a plain UDP socket.
	Address string

	// Interface optionally names the NIC used for the multicast join.
	Interface string

	// RcvBuf is the socket receive buffer in bytes. Zero keeps the OS
	// default.
	RcvBuf int

	// LogInterval is how often the receive loop logs throughput. Zero
	// disables periodic logging.
	LogInterval time.Duration
}

// Listener receives SSL-Vision datagrams, decodes them, and hands the
// results to a FrameHandler.
type Listener struct {
	cfg     ListenerConfig
	handler FrameHandler
	stats   PacketStats

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewListener returns an unstarted listener. Call Bind to reserve the
// socket early, or let Run bind on startup.
func NewListener(cfg ListenerConfig, h FrameHandler) *Listener {
	return &Listener{cfg: cfg, handler: h}
}

// Stats exposes the receive counters for periodic reporting.
func (l *Listener) Stats() *PacketStats {
	return &l.stats
}

// Bind resolves the configured address and opens the socket. It lets the
// daemon fail fast on a bad address or an occupied port before any
// goroutines start. Calling Bind twice is an error.
func (l *Listener) Bind() (net.Addr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil, fmt.Errorf("vision listener already bound to %s", l.conn.LocalAddr())
	}

	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve vision address %q: %w", l.cfg.Address, err)
	}

	var conn *net.UDPConn
	if addr.IP != nil && addr.IP.IsMulticast() {
		var iface *net.Interface
		if l.cfg.Interface != "" {
			iface, err = net.InterfaceByName(l.cfg.Interface)
			if err != nil {
				return nil, fmt.Errorf("multicast interface %q: %w", l.cfg.Interface, err)
			}
		}
		conn, err = net.ListenMulticastUDP("udp", iface, addr)
		if err != nil {
			return nil, fmt.Errorf("join multicast group %s: %w", addr, err)
		}
	} else {
		conn, err = net.ListenUDP("udp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
	}

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			Diagf("failed to set receive buffer to %d bytes: %v (some OSes clamp buffer sizes)", l.cfg.RcvBuf, err)
		}
	}

	l.conn = conn
	return conn.LocalAddr(), nil
}

// Close releases the socket if Bind succeeded but Run never started, or
// forces a running receive loop to exit. Safe to call more than once.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

// Run receives datagrams until ctx is cancelled. It binds the socket if
// Bind has not been called yet.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		if _, err := l.Bind(); err != nil {
			return err
		}
		l.mu.Lock()
		conn = l.conn
		l.mu.Unlock()
	}
	defer conn.Close()

	Opsf("listening for vision packets on %s", conn.LocalAddr())

	if l.cfg.LogInterval > 0 {
		go l.logLoop(ctx)
	}

	// Geometry packets with per-camera calibrations run well past a
	// single MTU, so size the buffer for a reassembled datagram.
	buffer := make([]byte, 16*1024)
	timeoutCount := 0

	for {
		select {
		case <-ctx.Done():
			Opsf("vision listener shutting down")
			return ctx.Err()
		default:
			// Read with a short deadline so cancellation is noticed.
			if err := conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
				Diagf("set read deadline: %v", err)
				continue
			}

			n, _, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					timeoutCount++
					if timeoutCount%10 == 0 {
						Diagf("no vision packets for %d seconds", timeoutCount)
					}
					continue
				}
				Diagf("read vision packet: %v", err)
				continue
			}
			timeoutCount = 0
			l.stats.AddPacket(n)

			// DecodeWrapper copies every field out of the buffer, so the
			// buffer is safe to reuse on the next read.
			frame, geom, err := DecodeWrapper(buffer[:n])
			if err != nil {
				l.stats.AddDecodeError()
				Tracef("undecodable vision packet (%d bytes): %v", n, err)
				continue
			}
			if geom != nil {
				l.handler.HandleGeometry(*geom)
			}
			if frame != nil {
				l.stats.AddFrame()
				l.handler.HandleFrame(frame)
			}
		}
	}
}

func (l *Listener) logLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.LogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			packets, bytes, frames, decodeErrs, duration := l.stats.GetAndReset()
			if packets == 0 && decodeErrs == 0 {
				continue
			}
			secs := duration.Seconds()
			if secs <= 0 {
				secs = 1
			}
			msg := fmt.Sprintf("vision stats (/sec): %.1f packets, %.1f KB, %.1f frames",
				float64(packets)/secs, float64(bytes)/secs/1024, float64(frames)/secs)
			if decodeErrs > 0 {
				msg += fmt.Sprintf(", %d decode errors", decodeErrs)
			}
			Opsf("%s", msg)
		}
	}
}
