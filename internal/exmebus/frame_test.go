package exmebus

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestNewPacketDefaults(t *testing.T) {
	p := NewPacket()

	if p.PacketID() != MsgOwnDataSignal {
		t.Errorf("PacketID() = %d, want %d", p.PacketID(), MsgOwnDataSignal)
	}
	if p.SampleType != SampleCurrentValue {
		t.Errorf("SampleType = %s, want %s", p.SampleType, SampleCurrentValue)
	}
	if p.SignalGroup != GroupUser {
		t.Errorf("SignalGroup = %d, want %d", p.SignalGroup, GroupUser)
	}
	if p.ViewType != ViewVoid {
		t.Errorf("ViewType = %s, want %s", p.ViewType, ViewVoid)
	}
	if p.PacketLength() != 0 || p.SamplePacketLength() != 0 {
		t.Errorf("lengths = %d/%d before Encode, want 0/0", p.PacketLength(), p.SamplePacketLength())
	}
}

func TestNewPacketOptions(t *testing.T) {
	p := NewPacket(
		WithViewType(ViewFloat),
		WithSignalNumber(7),
		WithSampleType(SampleAverage),
		WithSignalGroup(GroupCommon),
		WithMilliseconds(-5),
	)

	if p.ViewType != ViewFloat || p.SignalNumber != 7 || p.SampleType != SampleAverage ||
		p.SignalGroup != GroupCommon || p.Milliseconds != -5 {
		t.Errorf("options not applied: %+v", p)
	}
}

func TestSetValueUnsupportedKeepsData(t *testing.T) {
	p := NewPacket(WithViewType(ViewUnsignedChar))
	if err := p.SetValue("9"); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}

	p.ViewType = ViewVoid
	if err := p.SetValue("10"); !errors.Is(err, ErrConversionNotDefined) {
		t.Fatalf("SetValue() error = %v, want ErrConversionNotDefined", err)
	}
	if !bytes.Equal(p.Data, []byte{9}) {
		t.Errorf("Data = %x, want 09", p.Data)
	}
}

// readHeader decodes the header fields by hand so the test does not depend
// on Decode.
func readHeader(frame []byte) (pl, id, spl uint16, st, vt uint8, num, grp uint16, ms int64) {
	return byteOrder.Uint16(frame[0:]),
		byteOrder.Uint16(frame[2:]),
		byteOrder.Uint16(frame[4:]),
		frame[6],
		frame[7],
		byteOrder.Uint16(frame[8:]),
		byteOrder.Uint16(frame[10:]),
		int64(byteOrder.Uint64(frame[12:])) //nolint:gosec // test
}

func TestEncodeUnsignedShortScenario(t *testing.T) {
	p := NewPacket(WithViewType(ViewUnsignedShort), WithSignalNumber(42), WithMilliseconds(1000))
	if err := p.SetValue("7"); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}

	frame, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if len(frame) != 22 {
		t.Fatalf("len(frame) = %d, want 22", len(frame))
	}

	pl, id, spl, st, vt, num, grp, ms := readHeader(frame)
	if pl != 14 {
		t.Errorf("packet_length = %d, want 14", pl)
	}
	if id != 21 {
		t.Errorf("packet_id = %d, want 21", id)
	}
	if spl != 10 {
		t.Errorf("sample_packet_length = %d, want 10", spl)
	}
	if st != 0 || vt != 6 || num != 42 || grp != 100 || ms != 1000 {
		t.Errorf("header = st:%d vt:%d num:%d grp:%d ms:%d, want 0 6 42 100 1000", st, vt, num, grp, ms)
	}
	if !bytes.Equal(frame[20:], byteOrder.AppendUint16(nil, 7)) {
		t.Errorf("payload = %x, want u16(7)", frame[20:])
	}

	if p.PacketLength() != 14 || p.SamplePacketLength() != 10 {
		t.Errorf("packet lengths = %d/%d, want 14/10", p.PacketLength(), p.SamplePacketLength())
	}
}

func TestEncodeStringScenario(t *testing.T) {
	p := NewPacket(WithViewType(ViewString), WithSignalNumber(1), WithMilliseconds(5))
	if err := p.SetValue("hello"); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}

	frame, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if len(frame) != 25 {
		t.Fatalf("len(frame) = %d, want 25", len(frame))
	}
	if !bytes.Equal(frame[20:], []byte("hello")) {
		t.Errorf("payload = %q, want hello", frame[20:])
	}

	pl, _, spl, _, _, _, _, _ := readHeader(frame)
	if pl != 17 || spl != 13 {
		t.Errorf("lengths = %d/%d, want 17/13", pl, spl)
	}
}

func TestEncodeLengthRelationship(t *testing.T) {
	for n := 0; n <= MaxPacketSize-HeaderSize; n += 97 {
		p := NewPacket(WithViewType(ViewString))
		p.Data = bytes.Repeat([]byte{'x'}, n)

		frame, err := Encode(p)
		if err != nil {
			t.Fatalf("Encode(%d bytes) error: %v", n, err)
		}
		if len(frame) != HeaderSize+n {
			t.Errorf("len(frame) = %d, want %d", len(frame), HeaderSize+n)
		}
		pl, _, spl, _, _, _, _, _ := readHeader(frame)
		if int(pl) != HeaderSize+n-8 {
			t.Errorf("packet_length = %d, want %d", pl, HeaderSize+n-8)
		}
		if spl != pl-4 {
			t.Errorf("sample_packet_length = %d, want %d", spl, pl-4)
		}
	}
}

func TestEncodeRecomputesLengths(t *testing.T) {
	p := NewPacket(WithViewType(ViewString))
	_ = p.SetValue("a long value")
	if _, err := Encode(p); err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	_ = p.SetValue("b")
	frame, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if pl, _, _, _, _, _, _, _ := readHeader(frame); pl != 13 {
		t.Errorf("packet_length = %d after re-encode, want 13", pl)
	}
}

func TestEncodeTooLarge(t *testing.T) {
	p := NewPacket(WithViewType(ViewString))
	p.Data = make([]byte, MaxPacketSize-HeaderSize+1)

	if _, err := Encode(p); !errors.Is(err, ErrConversionNotDefined) {
		t.Errorf("Encode() error = %v, want ErrConversionNotDefined", err)
	}
	if _, err := Encode(nil); !errors.Is(err, ErrConversionNotDefined) {
		t.Errorf("Encode(nil) error = %v, want ErrConversionNotDefined", err)
	}
}

func TestDecode(t *testing.T) {
	p := NewPacket(
		WithViewType(ViewSignedLong),
		WithSignalNumber(513),
		WithSignalGroup(GroupSPN),
		WithMilliseconds(13_300_000_000_000),
	)
	_ = p.SetValue("-42")
	frame, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.SignalNumber != 513 || got.SignalGroup != GroupSPN || got.ViewType != ViewSignedLong ||
		got.Milliseconds != 13_300_000_000_000 || got.PacketLength() != p.PacketLength() {
		t.Errorf("Decode() = %+v, want %+v", got, p)
	}
	if v, _ := got.Value(); v != "-42" {
		t.Errorf("Value() = %q, want -42", v)
	}
}

func TestDecodeInvalid(t *testing.T) {
	p := NewPacket(WithViewType(ViewUnsignedChar))
	_ = p.SetValue("1")
	good, _ := Encode(p)

	badID := append([]byte(nil), good...)
	byteOrder.PutUint16(badID[2:], uint16(MsgDataSignal))

	badSample := append([]byte(nil), good...)
	byteOrder.PutUint16(badSample[4:], 99)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"short", good[:10]},
		{"truncated", good[:len(good)-1]},
		{"wrong packet id", badID},
		{"wrong sample length", badSample},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.frame); !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("Decode() error = %v, want ErrInvalidFrame", err)
			}
		})
	}
}

func TestFrameLength(t *testing.T) {
	header := byteOrder.AppendUint16(nil, 14)
	n, err := FrameLength(header)
	if err != nil || n != 22 {
		t.Errorf("FrameLength() = %d, %v, want 22, nil", n, err)
	}

	if _, err := FrameLength([]byte{1}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("FrameLength(short) error = %v, want ErrInvalidFrame", err)
	}
	if _, err := FrameLength(byteOrder.AppendUint16(nil, 2000)); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("FrameLength(huge) error = %v, want ErrInvalidFrame", err)
	}
}

func TestPacketTime(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := NewPacket(WithMilliseconds(want.UnixMilli() + 11_644_473_600_000))

	if got := p.Time(); !got.Equal(want) {
		t.Errorf("Time() = %v, want %v", got, want)
	}
	if got := NewPacket(WithMilliseconds(11_644_473_600_000)).Time(); !got.Equal(time.Unix(0, 0)) {
		t.Errorf("Time() at the unix epoch = %v", got)
	}
}

func TestEncodeRejectsViewTypeChangedAfterSetValue(t *testing.T) {
	p := NewPacket(WithViewType(ViewSignedLong))
	if err := p.SetValue("-42"); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}

	p.ViewType = ViewUnsignedChar
	if _, err := Encode(p); !errors.Is(err, ErrConversionNotDefined) {
		t.Fatalf("Encode() after view type change error = %v, want ErrConversionNotDefined", err)
	}

	if err := p.SetValue("200"); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}
	frame, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() after re-encoding error: %v", err)
	}
	if len(frame) != HeaderSize+1 {
		t.Errorf("frame length = %d, want %d", len(frame), HeaderSize+1)
	}
}

func TestEncodeDecodedPacket(t *testing.T) {
	p := NewPacket(WithViewType(ViewUnsignedShort), WithSignalNumber(3))
	if err := p.SetValue("513"); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}
	frame, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}

	again, err := Encode(decoded)
	if err != nil {
		t.Fatalf("Encode(decoded) error: %v", err)
	}
	if !bytes.Equal(again, frame) {
		t.Errorf("re-encoded frame = %x, want %x", again, frame)
	}

	decoded.ViewType = ViewSignedLong
	if _, err := Encode(decoded); !errors.Is(err, ErrConversionNotDefined) {
		t.Errorf("Encode() after changing a decoded view type error = %v, want ErrConversionNotDefined", err)
	}
}
