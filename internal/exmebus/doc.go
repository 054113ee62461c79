// Package exmebus implements the own data signal record of the exmebus
// point-to-point protocol and the stream client that delivers it to the
// local collector.
//
// # Record layout
//
// A frame is a 20-byte header followed by the encoded value:
//
//	offset size field
//	0      2    packet_length         (frame size - 8)
//	2      2    packet_id             (MsgOwnDataSignal, 21)
//	4      2    sample_packet_length  (packet_length - 4)
//	6      1    signal_sample_type
//	7      1    signal_view_type
//	8      2    signal_number
//	10     2    signal_group
//	12     8    milliseconds
//	20     n    data
//
// All multi-byte fields, including numeric values in data, use the host's
// native byte order. The collector runs on the same machine.
//
// # Values
//
// The view type selects one of a closed set of encodings:
//
//	p := exmebus.NewPacket(
//	    exmebus.WithViewType(exmebus.ViewUnsignedShort),
//	    exmebus.WithSignalNumber(42),
//	    exmebus.WithMilliseconds(1000),
//	)
//	if err := p.SetValue("7"); err != nil {
//	    return err
//	}
//	frame, err := exmebus.Encode(p) // 22 bytes
//
// View types outside ViewBit..ViewString fail with ErrConversionNotDefined.
//
// # Thread Safety
//
// Packets are not safe for concurrent mutation. CollectorClient statistics
// may be read from any goroutine while a single goroutine writes frames.
package exmebus
