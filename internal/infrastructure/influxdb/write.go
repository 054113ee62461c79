package influxdb

import (
	"strconv"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/exertus/exmebus-gateway/internal/exmebus"
)

// SignalMeasurement is the measurement every mirrored signal is written to.
const SignalMeasurement = "exmebus_signal"

// WriteSignal queues one decoded record. The write is non-blocking; data
// is batched and sent asynchronously. Records whose value cannot be
// decoded are skipped.
//
// Example:
//
//	client.WriteSignal("m-17", packet)
func (c *Client) WriteSignal(machineID string, p *exmebus.Packet) {
	if !c.IsConnected() {
		return
	}
	if point := signalPoint(machineID, p); point != nil {
		c.writeAPI.WritePoint(point)
	}
}

// signalPoint maps a record to a point: numeric kinds become field "value",
// strings field "text". The point time is the event time.
func signalPoint(machineID string, p *exmebus.Packet) *write.Point {
	fields := make(map[string]any, 1)
	if v, ok := exmebus.DecodeNumeric(p.ViewType, p.Data); ok {
		fields["value"] = v
	} else {
		text, err := p.Value()
		if err != nil {
			return nil
		}
		fields["text"] = text
	}

	tags := map[string]string{
		"signal": strconv.FormatUint(uint64(p.SignalNumber), 10),
		"group":  p.SignalGroup.String(),
		"view":   p.ViewType.String(),
	}
	if machineID != "" {
		tags["machine"] = machineID
	}

	return write.NewPoint(SignalMeasurement, tags, fields, p.Time())
}
