// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"net"
	"testing"
	"time"

	"pvrec/internal/analysis"
	"pvrec/pkg/utils"
)

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newSpectrum(t *testing.T) *analysis.SpectrumProcessor {
	t.Helper()
	sp, err := analysis.NewSpectrumProcessor(64, 16000, analysis.Hann)
	if err != nil {
		t.Fatal(err)
	}
	sp.Process(utils.GenerateSineWave(1000, 16000, 64, 0.5))
	return sp
}

func TestSenderClosed(t *testing.T) {
	ln := listen(t)
	s, err := NewUDPSender(ln.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Send([]byte{1}); !errors.Is(err, ErrSenderClosed) {
		t.Errorf("Send after Close = %v, want ErrSenderClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestPublisherPacket(t *testing.T) {
	ln := listen(t)
	s, err := NewUDPSender(ln.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	sp := newSpectrum(t)
	p, err := NewUDPPublisher(time.Millisecond, s, sp)
	if err != nil {
		t.Fatal(err)
	}
	stamp := time.Unix(1700000000, 5)
	p.now = func() time.Time { return stamp }

	p.buildAndSendPacket()

	buf := make([]byte, 2048)
	ln.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := ln.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if want := HeaderSize + 4*analysis.BinCount(sp); n != want {
		t.Fatalf("packet size = %d, want %d", n, want)
	}

	pkt, err := DecodePacket(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Sequence != 1 || !pkt.Timestamp.Equal(stamp) {
		t.Errorf("header = %d %v", pkt.Sequence, pkt.Timestamp)
	}
	mags := sp.GetMagnitudes()
	for i, m := range pkt.Magnitudes {
		if m != float32(mags[i]) {
			t.Fatalf("magnitude %d = %g, want %g", i, m, float32(mags[i]))
		}
	}
}

func TestPublisherStartStop(t *testing.T) {
	ln := listen(t)
	s, err := NewUDPSender(ln.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	p, err := NewUDPPublisher(time.Millisecond, s, newSpectrum(t))
	if err != nil {
		t.Fatal(err)
	}
	p.Start()
	p.Start()

	buf := make([]byte, 2048)
	ln.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := ln.Read(buf); err != nil {
		t.Fatalf("no packet while running: %v", err)
	}

	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close after Stop: %v", err)
	}
}

func TestPublisherHotPath(t *testing.T) {
	ln := listen(t)
	s, err := NewUDPSender(ln.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	p, err := NewUDPPublisher(time.Millisecond, s, newSpectrum(t))
	if err != nil {
		t.Fatal(err)
	}
	p.buildAndSendPacket()
	allocs := testing.AllocsPerRun(50, p.buildAndSendPacket)
	if allocs > 0 {
		t.Errorf("Expected zero allocations building packets, got %.1f", allocs)
	}
}

func TestDecodeShortPacket(t *testing.T) {
	if _, err := DecodePacket(make([]byte, HeaderSize-1)); !errors.Is(err, ErrShortPacket) {
		t.Errorf("err = %v, want ErrShortPacket", err)
	}
	b := make([]byte, HeaderSize)
	b[13] = 2 // two magnitudes declared, none present
	if _, err := DecodePacket(b); !errors.Is(err, ErrShortPacket) {
		t.Errorf("err = %v, want ErrShortPacket", err)
	}
}

func TestNewPublisherValidation(t *testing.T) {
	if _, err := NewUDPPublisher(time.Millisecond, nil, newSpectrum(t)); err == nil {
		t.Error("nil sender accepted")
	}
}
