// SPDX-License-Identifier: MIT

// Package udp streams spectrum magnitudes as fixed-layout datagrams.
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"pvrec/internal/analysis"
	"pvrec/internal/log"
)

/*
UDP Packet Structure (BigEndian)

|<---- 4 Bytes ---->|<------ 8 Bytes ------>|<-- 2 Bytes -->|<----- N * 4 Bytes ----->|
+-------------------+-----------------------+---------------+-------------------------+
|  Sequence Number  |       Timestamp       |   Magnitude   |       Magnitudes        |
|      (uint32)     |   (int64, unix ns)    |     Count     |      (N * float32)      |
|                   |                       |    (uint16)   |                         |
+-------------------+-----------------------+---------------+-------------------------+
*/

// HeaderSize is the fixed packet header length in bytes.
const HeaderSize = 4 + 8 + 2

// ErrShortPacket is returned by DecodePacket for truncated input.
var ErrShortPacket = errors.New("udp: short packet")

// Packet is a decoded datagram.
type Packet struct {
	Sequence   uint32
	Timestamp  time.Time
	Magnitudes []float32
}

// DecodePacket parses a datagram produced by UDPPublisher.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, ErrShortPacket
	}
	p := Packet{
		Sequence:  binary.BigEndian.Uint32(b[0:4]),
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(b[4:12]))),
	}
	n := int(binary.BigEndian.Uint16(b[12:14]))
	if len(b) < HeaderSize+4*n {
		return Packet{}, fmt.Errorf("%w: %d magnitudes declared, %d bytes", ErrShortPacket, n, len(b))
	}
	p.Magnitudes = make([]float32, n)
	for i := range p.Magnitudes {
		off := HeaderSize + 4*i
		p.Magnitudes[i] = math.Float32frombits(binary.BigEndian.Uint32(b[off:]))
	}
	return p, nil
}

// UDPPublisher periodically packs the latest spectrum into a datagram and
// sends it. It runs in its own goroutine between Start and Stop.
type UDPPublisher struct {
	sender   *UDPSender
	provider analysis.SpectrumProvider
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.

	sequenceNum uint32
	now         func() time.Time

	// Reused on every tick.
	magBuffer    []float64
	packetBuffer []byte
}

// NewUDPPublisher creates a publisher. An interval <= 0 defaults to 16ms.
func NewUDPPublisher(interval time.Duration, sender *UDPSender, provider analysis.SpectrumProvider) (*UDPPublisher, error) {
	if sender == nil {
		return nil, errors.New("udp: sender cannot be nil")
	}
	if provider == nil {
		return nil, errors.New("udp: spectrum provider cannot be nil")
	}
	if interval <= 0 {
		interval = 16 * time.Millisecond
		log.Warnf("udp: invalid publish interval, defaulting to %s", interval)
	}

	bins := analysis.BinCount(provider)
	if bins > math.MaxUint16 {
		return nil, fmt.Errorf("udp: %d bins exceed packet capacity", bins)
	}
	log.Infof("udp: publisher every %s with %d bins", interval, bins)

	return &UDPPublisher{
		sender:       sender,
		provider:     provider,
		interval:     interval,
		now:          time.Now,
		magBuffer:    make([]float64, bins),
		packetBuffer: make([]byte, 0, HeaderSize+4*bins),
	}, nil
}

// Start launches the publishing goroutine. Calling Start while running is a
// no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		log.Warnf("udp: publisher already running")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})

	// Local copies so the goroutine never reads the fields Stop resets.
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the goroutine and waits for it to exit. It is safe to call
// more than once.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.doneChan)
	p.ticker.Stop()
	p.ticker = nil
	p.mu.Unlock()

	p.wg.Wait()
	log.Debugf("udp: publisher stopped after %d packets", p.sequenceNum)
	return nil
}

// buildAndSendPacket runs on each tick without allocating.
func (p *UDPPublisher) buildAndSendPacket() {
	if err := p.provider.GetMagnitudesInto(p.magBuffer); err != nil {
		log.Errorf("udp: reading magnitudes: %v", err)
		return
	}

	p.sequenceNum++
	b := p.packetBuffer[:0]
	b = binary.BigEndian.AppendUint32(b, p.sequenceNum)
	b = binary.BigEndian.AppendUint64(b, uint64(p.now().UnixNano()))
	b = binary.BigEndian.AppendUint16(b, uint16(len(p.magBuffer)))
	for _, v := range p.magBuffer {
		b = binary.BigEndian.AppendUint32(b, math.Float32bits(float32(v)))
	}
	p.packetBuffer = b

	if err := p.sender.Send(b); err != nil {
		log.Debugf("udp: packet %d: %v", p.sequenceNum, err)
	}
}

// Close implements io.Closer by stopping the publisher.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
