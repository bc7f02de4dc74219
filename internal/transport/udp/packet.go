// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"rosettas/internal/pipeline"
	"rosettas/internal/stability"
)

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------+
| Field             | Data Type | Size (Bytes) | Description            |
|-------------------|-----------|--------------|------------------------|
| Sequence Number   | uint32    | 4            | Per-publisher counter  |
| Frame Sequence    | uint64    | 8            | Frame.Seq              |
| Timestamp         | int64     | 8            | Nanoseconds since epoch|
| Frequency         | float32   | 4            | Hz, 0 for silence      |
| N, M              | uint8 x2  | 2            | Token stratum / subdiv |
| Betti0, Betti1    | uint8 x2  | 2            | Token invariants       |
| State             | uint8     | 1            | stability.State        |
| Delta             | uint16    | 2            | Saturates at 65535     |
| Integrity         | float32   | 4            | Structural integrity   |
| Cluster Length    | uint8     | 1            | Bytes that follow (L)  |
| Cluster ID        | []byte    | L            | UTF-8, at most 255     |
+-----------------------------------------------------------------------+
*/

// HeaderSize is the packet length without the cluster id.
const HeaderSize = 4 + 8 + 8 + 4 + 4 + 1 + 2 + 4 + 1

var ErrShortPacket = errors.New("udp: packet too short")

// Packet is a decoded frame packet.
type Packet struct {
	Seq                 uint32
	FrameSeq            uint64
	Timestamp           time.Time
	Frequency           float32
	N, M                uint8
	Betti0, Betti1      uint8
	State               stability.State
	Delta               uint16
	StructuralIntegrity float32
	ClusterID           string
}

// EncodeFrame appends the packet for f to dst and returns the extended
// slice. Appending to a buffer with enough capacity does not allocate.
func EncodeFrame(dst []byte, seq uint32, f pipeline.Frame) []byte {
	cluster := f.ClusterID
	if len(cluster) > math.MaxUint8 {
		cluster = cluster[:math.MaxUint8]
	}

	dst = binary.BigEndian.AppendUint32(dst, seq)
	dst = binary.BigEndian.AppendUint64(dst, f.Seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(f.Timestamp.UnixNano()))
	dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(f.Frequency)))
	dst = append(dst,
		clampUint8(f.Token.N), clampUint8(f.Token.M),
		clampUint8(f.Token.Betti0), clampUint8(f.Token.Betti1),
		uint8(f.State))
	dst = binary.BigEndian.AppendUint16(dst, clampUint16(f.Delta))
	dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(f.StructuralIntegrity)))
	dst = append(dst, uint8(len(cluster)))
	return append(dst, cluster...)
}

// DecodeFrame parses one packet produced by EncodeFrame.
func DecodeFrame(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}

	var p Packet
	p.Seq = binary.BigEndian.Uint32(b[0:])
	p.FrameSeq = binary.BigEndian.Uint64(b[4:])
	p.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(b[12:])))
	p.Frequency = math.Float32frombits(binary.BigEndian.Uint32(b[20:]))
	p.N, p.M, p.Betti0, p.Betti1 = b[24], b[25], b[26], b[27]
	p.State = stability.State(b[28])
	p.Delta = binary.BigEndian.Uint16(b[29:])
	p.StructuralIntegrity = math.Float32frombits(binary.BigEndian.Uint32(b[31:]))

	n := int(b[35])
	if len(b) < HeaderSize+n {
		return Packet{}, fmt.Errorf("%w: cluster id needs %d bytes, have %d", ErrShortPacket, n, len(b)-HeaderSize)
	}
	p.ClusterID = string(b[HeaderSize : HeaderSize+n])
	return p, nil
}

func clampUint8(v int) uint8 {
	return uint8(min(max(v, 0), math.MaxUint8))
}

func clampUint16(v int) uint16 {
	return uint16(min(max(v, 0), math.MaxUint16))
}
