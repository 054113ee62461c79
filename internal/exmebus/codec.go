package exmebus

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// byteOrder is the order used for every multi-byte field on the wire.
// The collector runs on the same host, so records use its native layout.
var byteOrder = binary.NativeEndian

// EncodeValue converts the textual value of a signal into the fixed-width
// byte representation selected by the view type.
//
// Integers are parsed at the exact bit size of the target type, so "300"
// fails for an unsigned char rather than wrapping. ViewString values are
// copied as raw UTF-8 with no terminator.
//
// Parameters:
//   - vt: View type that selects the encoding
//   - text: Value as received in the event
//
// Returns:
//   - []byte: Encoded value in native byte order
//   - error: ErrConversionNotDefined for unsupported view types,
//     ErrConversionError when text does not parse for the type
func EncodeValue(vt ViewType, text string) ([]byte, error) {
	enc := vt.Encoding()
	if enc == EncodingBytes {
		return []byte(text), nil
	}
	if enc == EncodingUnsupported {
		return nil, fmt.Errorf("%w: view type %s", ErrConversionNotDefined, vt)
	}

	text = strings.TrimSpace(text)
	buf := make([]byte, enc.Width())

	switch enc {
	case EncodingU8:
		v, err := strconv.ParseUint(text, 10, 8)
		if err != nil {
			return nil, conversionError(vt, text, err)
		}
		buf[0] = uint8(v)
	case EncodingI8:
		v, err := strconv.ParseInt(text, 10, 8)
		if err != nil {
			return nil, conversionError(vt, text, err)
		}
		buf[0] = byte(int8(v))
	case EncodingI16:
		v, err := strconv.ParseInt(text, 10, 16)
		if err != nil {
			return nil, conversionError(vt, text, err)
		}
		byteOrder.PutUint16(buf, uint16(int16(v))) //nolint:gosec // range checked by ParseInt
	case EncodingU16:
		v, err := strconv.ParseUint(text, 10, 16)
		if err != nil {
			return nil, conversionError(vt, text, err)
		}
		byteOrder.PutUint16(buf, uint16(v))
	case EncodingI32:
		v, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, conversionError(vt, text, err)
		}
		byteOrder.PutUint32(buf, uint32(int32(v))) //nolint:gosec // range checked by ParseInt
	case EncodingU32:
		v, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return nil, conversionError(vt, text, err)
		}
		byteOrder.PutUint32(buf, uint32(v))
	case EncodingF32:
		v, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, conversionError(vt, text, err)
		}
		byteOrder.PutUint32(buf, math.Float32bits(float32(v)))
	case EncodingBytes, EncodingUnsupported:
		// handled above
	}

	return buf, nil
}

// DecodeValue converts encoded bytes back to their textual form.
//
// It is the inverse of EncodeValue: DecodeValue(vt, EncodeValue(vt, s))
// yields the canonical spelling of s (e.g. "007" comes back as "7").
//
// Returns:
//   - string: Decimal text for numbers, the raw string for ViewString
//   - error: ErrConversionNotDefined for unsupported view types,
//     ErrInvalidFrame when data has the wrong width
func DecodeValue(vt ViewType, data []byte) (string, error) {
	enc := vt.Encoding()
	switch enc {
	case EncodingUnsupported:
		return "", fmt.Errorf("%w: view type %s", ErrConversionNotDefined, vt)
	case EncodingBytes:
		return string(data), nil
	case EncodingU8, EncodingI8, EncodingI16, EncodingU16, EncodingI32, EncodingU32, EncodingF32:
	}

	if len(data) != enc.Width() {
		return "", fmt.Errorf("%w: %s value needs %d bytes, got %d",
			ErrInvalidFrame, vt, enc.Width(), len(data))
	}

	switch enc {
	case EncodingU8:
		return strconv.FormatUint(uint64(data[0]), 10), nil
	case EncodingI8:
		return strconv.FormatInt(int64(int8(data[0])), 10), nil
	case EncodingI16:
		return strconv.FormatInt(int64(int16(byteOrder.Uint16(data))), 10), nil //nolint:gosec // reinterpretation
	case EncodingU16:
		return strconv.FormatUint(uint64(byteOrder.Uint16(data)), 10), nil
	case EncodingI32:
		return strconv.FormatInt(int64(int32(byteOrder.Uint32(data))), 10), nil //nolint:gosec // reinterpretation
	case EncodingU32:
		return strconv.FormatUint(uint64(byteOrder.Uint32(data)), 10), nil
	case EncodingF32:
		f := math.Float32frombits(byteOrder.Uint32(data))
		return strconv.FormatFloat(float64(f), 'g', -1, 32), nil
	case EncodingBytes, EncodingUnsupported:
	}
	return "", fmt.Errorf("%w: view type %s", ErrConversionNotDefined, vt)
}

// DecodeNumeric returns the numeric value of encoded data, for sinks that
// store numbers. ok is false for strings and unsupported view types.
func DecodeNumeric(vt ViewType, data []byte) (value float64, ok bool) {
	enc := vt.Encoding()
	if enc == EncodingBytes || enc == EncodingUnsupported || len(data) != enc.Width() {
		return 0, false
	}
	switch enc {
	case EncodingU8:
		return float64(data[0]), true
	case EncodingI8:
		return float64(int8(data[0])), true
	case EncodingI16:
		return float64(int16(byteOrder.Uint16(data))), true //nolint:gosec // reinterpretation
	case EncodingU16:
		return float64(byteOrder.Uint16(data)), true
	case EncodingI32:
		return float64(int32(byteOrder.Uint32(data))), true //nolint:gosec // reinterpretation
	case EncodingU32:
		return float64(byteOrder.Uint32(data)), true
	case EncodingF32:
		return float64(math.Float32frombits(byteOrder.Uint32(data))), true
	case EncodingBytes, EncodingUnsupported:
	}
	return 0, false
}

func conversionError(vt ViewType, text string, err error) error {
	return fmt.Errorf("%w: %q as %s: %w", ErrConversionError, text, vt, err)
}
