package exmebus

import (
	"fmt"
	"math"
)

const (
	// HeaderSize is the size of the fixed record header in bytes.
	HeaderSize = 20

	// MaxPacketSize is the largest frame the collector accepts.
	MaxPacketSize = 1000

	// lengthPrefixSize is subtracted from the frame size when deriving
	// packet_length. The collector reads packet_length+8 bytes per record.
	lengthPrefixSize = 8

	// sampleHeaderSize is the part of packet_length not counted by
	// sample_packet_length.
	sampleHeaderSize = 4
)

// Header field offsets.
const (
	offPacketLength       = 0
	offPacketID           = 2
	offSamplePacketLength = 4
	offSampleType         = 6
	offViewType           = 7
	offSignalNumber       = 8
	offSignalGroup        = 10
	offMilliseconds       = 12
)

// Encode serialises p into a wire frame.
//
// The header fields are written in declared order as native-endian scalars,
// followed by Data as a raw byte run. packet_length and
// sample_packet_length are derived here and stored back into p.
//
// Parameters:
//   - p: Record with Data already populated
//
// Returns:
//   - []byte: HeaderSize+len(p.Data) bytes
//   - error: ErrConversionNotDefined if the frame exceeds MaxPacketSize or
//     Data was encoded under a view type other than p.ViewType
func Encode(p *Packet) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrConversionNotDefined)
	}
	if p.hasView && p.dataView != p.ViewType {
		return nil, fmt.Errorf("%w: data encoded as %s, view type is now %s",
			ErrConversionNotDefined, p.dataView, p.ViewType)
	}

	size := HeaderSize + len(p.Data)
	if size > MaxPacketSize || size > math.MaxUint16 {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d",
			ErrConversionNotDefined, size, MaxPacketSize)
	}

	p.packetLength = uint16(size - lengthPrefixSize) //nolint:gosec // bounded above
	p.samplePacketLength = p.packetLength - sampleHeaderSize

	frame := make([]byte, size)
	byteOrder.PutUint16(frame[offPacketLength:], p.packetLength)
	byteOrder.PutUint16(frame[offPacketID:], uint16(p.packetID))
	byteOrder.PutUint16(frame[offSamplePacketLength:], p.samplePacketLength)
	frame[offSampleType] = byte(p.SampleType)
	frame[offViewType] = byte(p.ViewType)
	byteOrder.PutUint16(frame[offSignalNumber:], p.SignalNumber)
	byteOrder.PutUint16(frame[offSignalGroup:], uint16(p.SignalGroup))
	byteOrder.PutUint64(frame[offMilliseconds:], uint64(p.Milliseconds)) //nolint:gosec // two's complement on the wire
	copy(frame[HeaderSize:], p.Data)

	return frame, nil
}

// FrameLength returns the total size of the frame whose header starts at
// header[0]. It needs at least the first two bytes.
func FrameLength(header []byte) (int, error) {
	if len(header) < 2 {
		return 0, fmt.Errorf("%w: need 2 bytes for packet_length, got %d", ErrInvalidFrame, len(header))
	}
	n := int(byteOrder.Uint16(header[offPacketLength:])) + lengthPrefixSize
	if n < HeaderSize || n > MaxPacketSize {
		return 0, fmt.Errorf("%w: frame length %d out of range", ErrInvalidFrame, n)
	}
	return n, nil
}

// Decode parses one complete frame produced by Encode.
func Decode(frame []byte) (*Packet, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidFrame, len(frame))
	}
	n, err := FrameLength(frame)
	if err != nil {
		return nil, err
	}
	if n != len(frame) {
		return nil, fmt.Errorf("%w: packet_length says %d bytes, got %d", ErrInvalidFrame, n, len(frame))
	}

	p := &Packet{
		packetLength:       byteOrder.Uint16(frame[offPacketLength:]),
		packetID:           MessageType(byteOrder.Uint16(frame[offPacketID:])),
		samplePacketLength: byteOrder.Uint16(frame[offSamplePacketLength:]),
		SampleType:         SampleType(frame[offSampleType]),
		ViewType:           ViewType(frame[offViewType]),
		SignalNumber:       byteOrder.Uint16(frame[offSignalNumber:]),
		SignalGroup:        SignalGroup(byteOrder.Uint16(frame[offSignalGroup:])),
		Milliseconds:       int64(byteOrder.Uint64(frame[offMilliseconds:])), //nolint:gosec // two's complement on the wire
	}
	if p.packetID != MsgOwnDataSignal {
		return nil, fmt.Errorf("%w: packet id %s", ErrInvalidFrame, p.packetID)
	}
	if p.samplePacketLength != p.packetLength-sampleHeaderSize {
		return nil, fmt.Errorf("%w: sample_packet_length %d does not match packet_length %d",
			ErrInvalidFrame, p.samplePacketLength, p.packetLength)
	}
	if len(frame) > HeaderSize {
		p.Data = append([]byte(nil), frame[HeaderSize:]...)
	}
	p.dataView = p.ViewType
	p.hasView = true
	return p, nil
}
