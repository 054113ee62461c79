package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/exertus/exmebus-gateway/internal/exmebus"
)

// Event keys. "dt" and "value" are the names used by the first revision
// of the machine-side publisher.
var (
	viewTypeKeys = []string{"type", "dt"}
	signalKeys   = []string{"id"}
	timeKeys     = []string{"ts"}
	valueKeys    = []string{"val", "value"}
)

// ParserOptions configures event parsing.
type ParserOptions struct {
	// LenientValues keeps a record whose value text does not parse for its
	// view type, with empty data, instead of rejecting it.
	LenientValues bool

	// Logger receives a warning for every record kept by LenientValues.
	Logger Logger
}

// Parser turns JSON event payloads into exmebus records.
//
// An event is a JSON object
//
//	{"type": 6, "id": 42, "ts": "13394520000000", "val": "7"}
//
// or an array of such objects. ts counts milliseconds since 1601-01-01.
type Parser struct {
	opts ParserOptions
}

// NewParser returns a parser with the given options.
func NewParser(opts ParserOptions) *Parser {
	return &Parser{opts: opts}
}

// Parse decodes payload into one record per event object.
//
// For an array, every element is parsed independently: the records that
// parsed are returned together with the joined errors of those that did
// not, each prefixed with its element index.
//
// Parameters:
//   - payload: Raw MQTT message payload
//
// Returns:
//   - []*exmebus.Packet: Populated records, in input order
//   - error: exmebus.ErrPreliminaryDataNotValid for malformed input, or
//     errors matching exmebus.ErrConversionNotDefined for value failures
func (p *Parser) Parse(payload []byte) ([]*exmebus.Packet, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %w", exmebus.ErrPreliminaryDataNotValid, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after event", exmebus.ErrPreliminaryDataNotValid)
	}

	switch v := root.(type) {
	case map[string]any:
		pkt, err := p.parseObject(v)
		if err != nil {
			return nil, err
		}
		return []*exmebus.Packet{pkt}, nil

	case []any:
		packets := make([]*exmebus.Packet, 0, len(v))
		var errs []error
		for i, elem := range v {
			obj, ok := elem.(map[string]any)
			if !ok {
				errs = append(errs, fmt.Errorf("element %d: %w: not an object", i, exmebus.ErrPreliminaryDataNotValid))
				continue
			}
			pkt, err := p.parseObject(obj)
			if err != nil {
				errs = append(errs, fmt.Errorf("element %d: %w", i, err))
				continue
			}
			packets = append(packets, pkt)
		}
		return packets, errors.Join(errs...)

	default:
		return nil, fmt.Errorf("%w: expected object or array, got %s", exmebus.ErrPreliminaryDataNotValid, jsonKind(root))
	}
}

func (p *Parser) parseObject(obj map[string]any) (*exmebus.Packet, error) {
	pkt := exmebus.NewPacket()

	if v, ok := unsignedField(obj, viewTypeKeys); ok {
		pkt.ViewType = exmebus.ViewType(uint8(v)) //nolint:gosec // truncation to the wire width
	}
	if v, ok := unsignedField(obj, signalKeys); ok {
		pkt.SignalNumber = uint16(v) //nolint:gosec // truncation to the wire width
	}

	ms, err := timestampField(obj)
	if err != nil {
		return nil, err
	}
	pkt.Milliseconds = ms

	text, err := valueField(obj)
	if err != nil {
		return nil, fmt.Errorf("signal %d: %w", pkt.SignalNumber, err)
	}

	if err := pkt.SetValue(text); err != nil {
		if p.opts.LenientValues && errors.Is(err, exmebus.ErrConversionError) {
			if p.opts.Logger != nil {
				p.opts.Logger.Warn("keeping record with empty value",
					"signal", pkt.SignalNumber, "view", pkt.ViewType, "error", err)
			}
			pkt.Data = []byte{}
			return pkt, nil
		}
		if errors.Is(err, exmebus.ErrConversionNotDefined) {
			return nil, fmt.Errorf("signal %d: %w", pkt.SignalNumber, err)
		}
		return nil, fmt.Errorf("%w: signal %d: %w", exmebus.ErrConversionNotDefined, pkt.SignalNumber, err)
	}

	return pkt, nil
}

// lookup returns the value of the first key present in obj.
func lookup(obj map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// unsignedField reads the first key holding a non-negative JSON integer.
// A key holding anything else is skipped in favour of the next one; ok is
// false when no key qualifies.
func unsignedField(obj map[string]any, keys []string) (uint64, bool) {
	for _, k := range keys {
		n, isNumber := obj[k].(json.Number)
		if !isNumber {
			continue
		}
		v, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

// timestampField reads ts as a decimal string or a JSON integer.
func timestampField(obj map[string]any) (int64, error) {
	raw, found := lookup(obj, timeKeys)
	if !found {
		return 0, fmt.Errorf("%w: missing ts", exmebus.ErrPreliminaryDataNotValid)
	}

	var text string
	switch v := raw.(type) {
	case string:
		text = strings.TrimSpace(v)
	case json.Number:
		text = v.String()
	default:
		return 0, fmt.Errorf("%w: ts must be a string or integer, got %s", exmebus.ErrPreliminaryDataNotValid, jsonKind(raw))
	}

	ms, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: ts %q: %w", exmebus.ErrPreliminaryDataNotValid, text, err)
	}
	return ms, nil
}

// valueField returns the value text: strings as-is, numbers by their
// literal JSON text.
func valueField(obj map[string]any) (string, error) {
	raw, found := lookup(obj, valueKeys)
	if !found {
		return "", fmt.Errorf("%w: missing val", exmebus.ErrConversionNotDefined)
	}

	switch v := raw.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("%w: val must be a string or number, got %s", exmebus.ErrConversionNotDefined, jsonKind(raw))
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
