package exmebus

import (
	"fmt"
	"time"
)

// Packet is an own data signal record.
//
// The length fields are derived: they are written only by Encode and are
// read through PacketLength and SamplePacketLength. The packet id is fixed
// to MsgOwnDataSignal at construction.
type Packet struct {
	packetLength       uint16
	packetID           MessageType
	samplePacketLength uint16

	SampleType   SampleType
	ViewType     ViewType
	SignalNumber uint16
	SignalGroup  SignalGroup
	Milliseconds int64

	// Data is the encoded value. SetValue replaces it wholesale.
	Data []byte

	// dataView is the view type Data was encoded under by SetValue or
	// Decode. Encode refuses a record whose ViewType changed since.
	dataView ViewType
	hasView  bool
}

// PacketOption overrides one default of a new Packet.
type PacketOption func(*Packet)

// WithViewType sets the view type used to encode the value.
func WithViewType(vt ViewType) PacketOption {
	return func(p *Packet) { p.ViewType = vt }
}

// WithSignalNumber sets the signal number.
func WithSignalNumber(n uint16) PacketOption {
	return func(p *Packet) { p.SignalNumber = n }
}

// WithSampleType sets the sample type.
func WithSampleType(st SampleType) PacketOption {
	return func(p *Packet) { p.SampleType = st }
}

// WithSignalGroup sets the signal group.
func WithSignalGroup(g SignalGroup) PacketOption {
	return func(p *Packet) { p.SignalGroup = g }
}

// WithMilliseconds sets the event timestamp.
func WithMilliseconds(ms int64) PacketOption {
	return func(p *Packet) { p.Milliseconds = ms }
}

// NewPacket returns a record with protocol defaults: current value sample,
// user signal group, view type void and no data.
func NewPacket(opts ...PacketOption) *Packet {
	p := &Packet{
		packetID:    MsgOwnDataSignal,
		SampleType:  SampleCurrentValue,
		ViewType:    ViewVoid,
		SignalGroup: GroupUser,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PacketLength returns the packet_length written by the last Encode, or 0.
func (p *Packet) PacketLength() uint16 { return p.packetLength }

// PacketID returns the packet id (always MsgOwnDataSignal).
func (p *Packet) PacketID() MessageType { return p.packetID }

// SamplePacketLength returns the sample_packet_length written by the last
// Encode, or 0.
func (p *Packet) SamplePacketLength() uint16 { return p.samplePacketLength }

// SetValue encodes text under the packet's current view type and replaces
// Data. Data is left untouched on error. Call it after the last change to
// ViewType; Encode rejects data encoded under a different view type.
func (p *Packet) SetValue(text string) error {
	data, err := EncodeValue(p.ViewType, text)
	if err != nil {
		return err
	}
	p.Data = data
	p.dataView = p.ViewType
	p.hasView = true
	return nil
}

// Value decodes Data back to text under the packet's view type.
func (p *Packet) Value() (string, error) {
	return DecodeValue(p.ViewType, p.Data)
}

// String formats the record for log output.
func (p *Packet) String() string {
	value, err := p.Value()
	if err != nil {
		value = fmt.Sprintf("%x", p.Data)
	}
	return fmt.Sprintf("%s signal=%d group=%s view=%s sample=%s ms=%d value=%q",
		p.packetID, p.SignalNumber, p.SignalGroup, p.ViewType, p.SampleType, p.Milliseconds, value)
}

// windowsEpochOffsetMillis is the distance between 1601-01-01 and
// 1970-01-01 in milliseconds.
const windowsEpochOffsetMillis int64 = 11_644_473_600_000

// Time converts Milliseconds to wall-clock time. Event timestamps count
// milliseconds since 1601-01-01 UTC.
func (p *Packet) Time() time.Time {
	return time.UnixMilli(p.Milliseconds - windowsEpochOffsetMillis).UTC()
}

