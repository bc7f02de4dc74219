// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"rosettas/internal/pipeline"
	"rosettas/internal/stability"
	"rosettas/internal/topology"
)

func testFrame() pipeline.Frame {
	return pipeline.Frame{
		Seq:       42,
		Timestamp: time.Unix(1700000000, 123456789),
		Frequency: 432,
		Token: topology.Token{
			N: 4, M: 2, Betti0: 1, Betti1: 2, Label: "4:2",
		},
		ClusterID:           "Ψ-3",
		Delta:               2,
		State:               stability.Evolving,
		StructuralIntegrity: 0.8,
	}
}

func TestEncodeDecodeFrame(t *testing.T) {
	f := testFrame()
	b := EncodeFrame(nil, 9, f)

	if len(b) != HeaderSize+len("Ψ-3") {
		t.Fatalf("packet length = %d", len(b))
	}

	p, err := DecodeFrame(b)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if p.Seq != 9 || p.FrameSeq != 42 {
		t.Errorf("seq = %d/%d", p.Seq, p.FrameSeq)
	}
	if !p.Timestamp.Equal(f.Timestamp) {
		t.Errorf("timestamp = %v, want %v", p.Timestamp, f.Timestamp)
	}
	if p.Frequency != 432 || p.N != 4 || p.M != 2 || p.Betti0 != 1 || p.Betti1 != 2 {
		t.Errorf("token fields = %+v", p)
	}
	if p.State != stability.Evolving || p.Delta != 2 || p.StructuralIntegrity != float32(0.8) {
		t.Errorf("state fields = %+v", p)
	}
	if p.ClusterID != "Ψ-3" {
		t.Errorf("cluster = %q", p.ClusterID)
	}
}

func TestEncodeFrameClamps(t *testing.T) {
	f := testFrame()
	f.Delta = 1 << 20
	f.Token.N = -3
	f.ClusterID = strings.Repeat("x", 300)

	p, err := DecodeFrame(EncodeFrame(nil, 1, f))
	if err != nil {
		t.Fatal(err)
	}
	if p.Delta != 65535 || p.N != 0 || len(p.ClusterID) != 255 {
		t.Errorf("delta=%d n=%d cluster len=%d", p.Delta, p.N, len(p.ClusterID))
	}
}

func TestDecodeFrameShort(t *testing.T) {
	b := EncodeFrame(nil, 1, testFrame())

	tests := []struct {
		desc string
		in   []byte
	}{
		{"Empty", nil},
		{"Header cut", b[:HeaderSize-1]},
		{"Cluster cut", b[:len(b)-1]},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if _, err := DecodeFrame(tt.in); !errors.Is(err, ErrShortPacket) {
				t.Errorf("err = %v, want ErrShortPacket", err)
			}
		})
	}
}

func TestEncodeFrameNoAllocs(t *testing.T) {
	f := testFrame()
	buf := make([]byte, 0, 128)
	allocs := testing.AllocsPerRun(100, func() {
		buf = EncodeFrame(buf[:0], 1, f)
	})
	if allocs > 0 {
		t.Errorf("EncodeFrame allocated %.1f times", allocs)
	}
}

type staticSource struct {
	frame pipeline.Frame
	ok    bool
}

func (s staticSource) Latest() (pipeline.Frame, bool) { return s.frame, s.ok }

type recordingSender struct {
	mu      sync.Mutex
	packets [][]byte
	err     error
}

func (r *recordingSender) Send(b []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, append([]byte(nil), b...))
	return r.err
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

func TestNewPublisherValidation(t *testing.T) {
	if _, err := NewPublisher(time.Millisecond, nil, staticSource{}); err == nil {
		t.Error("expected error for nil sender")
	}
	if _, err := NewPublisher(time.Millisecond, &recordingSender{}, nil); err == nil {
		t.Error("expected error for nil source")
	}
	p, err := NewPublisher(0, &recordingSender{}, staticSource{})
	if err != nil {
		t.Fatal(err)
	}
	if p.interval != DefaultInterval {
		t.Errorf("interval = %v, want default", p.interval)
	}
}

func TestPublishSkipsEmptySource(t *testing.T) {
	sender := &recordingSender{}
	p, _ := NewPublisher(time.Millisecond, sender, staticSource{})
	p.publish()
	if sender.count() != 0 {
		t.Error("nothing should be sent before the first frame")
	}
}

func TestPublishSequence(t *testing.T) {
	sender := &recordingSender{err: errors.New("network down")}
	p, _ := NewPublisher(time.Millisecond, sender, staticSource{frame: testFrame(), ok: true})

	p.publish()
	p.publish()

	if sender.count() != 2 {
		t.Fatalf("sent %d packets, want 2", sender.count())
	}
	for i, b := range sender.packets {
		pkt, err := DecodeFrame(b)
		if err != nil {
			t.Fatal(err)
		}
		if pkt.Seq != uint32(i+1) {
			t.Errorf("packet %d seq = %d", i, pkt.Seq)
		}
	}
	if p.failures != 2 {
		t.Errorf("failures = %d, want 2", p.failures)
	}
}

func TestPublisherStartStop(t *testing.T) {
	sender := &recordingSender{}
	p, _ := NewPublisher(time.Millisecond, sender, staticSource{frame: testFrame(), ok: true})

	p.Start()
	p.Start() // no-op while running

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	if sender.count() < 3 {
		t.Fatalf("only %d packets published", sender.count())
	}

	n := sender.count()
	time.Sleep(10 * time.Millisecond)
	if sender.count() != n {
		t.Error("packets sent after Stop")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close after Stop: %v", err)
	}
}

func TestSenderLoopback(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sender, err := NewSender(conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}

	packet := EncodeFrame(nil, 1, testFrame())
	if err := sender.Send(packet); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 512)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	p, err := DecodeFrame(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if p.ClusterID != "Ψ-3" {
		t.Errorf("cluster = %q", p.ClusterID)
	}

	if err := sender.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sender.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := sender.Send(packet); err == nil {
		t.Error("Send after Close should fail")
	}
}

func TestNewSenderBadAddress(t *testing.T) {
	if _, err := NewSender("not-an-address"); err == nil {
		t.Error("expected resolve error")
	}
}
