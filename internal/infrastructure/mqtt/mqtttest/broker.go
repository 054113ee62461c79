// Package mqtttest provides an in-process MQTT broker for tests.
//
// Broker speaks just enough MQTT 3.1.1 to drive a paho client through
// connect, subscribe, QoS 1 delivery and connection loss. It accepts every
// CONNECT, grants every SUBSCRIBE and delivers queued messages right after
// the next CONNACK, the way a broker resumes a persistent session.
package mqtttest

import (
	"net"
	"sync"
	"testing"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

type queuedMessage struct {
	topic   string
	payload []byte
}

// Broker is a minimal MQTT broker listening on a loopback port.
type Broker struct {
	ln net.Listener

	mu         sync.Mutex
	conns      map[net.Conn]struct{}
	queued     []queuedMessage
	connects   int
	subscribes int
	acked      int

	wg sync.WaitGroup
}

// NewBroker starts a broker. It is closed when the test ends.
func NewBroker(t testing.TB) *Broker {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("mqtttest: listen: %v", err)
	}

	b := &Broker{ln: ln, conns: make(map[net.Conn]struct{})}
	b.wg.Add(1)
	go b.accept()
	t.Cleanup(b.Close)
	return b
}

// Port returns the TCP port the broker listens on.
func (b *Broker) Port() int {
	return b.ln.Addr().(*net.TCPAddr).Port
}

// Queue holds messages for delivery at QoS 1 right after the next CONNACK,
// ahead of anything the client sends.
func (b *Broker) Queue(topic string, payloads ...[]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range payloads {
		b.queued = append(b.queued, queuedMessage{topic: topic, payload: p})
	}
}

// Drop closes every open client connection without a DISCONNECT.
func (b *Broker) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.conns {
		c.Close()
	}
}

// Connects returns how many CONNECT packets were accepted.
func (b *Broker) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// Subscribes returns how many SUBSCRIBE packets were granted.
func (b *Broker) Subscribes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes
}

// Acked returns how many PUBACK packets were received.
func (b *Broker) Acked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked
}

// Close stops the broker and closes every connection.
func (b *Broker) Close() {
	b.ln.Close()
	b.Drop()
	b.wg.Wait()
}

func (b *Broker) accept() {
	defer b.wg.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns[conn] = struct{}{}
		b.mu.Unlock()

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				b.mu.Lock()
				delete(b.conns, conn)
				b.mu.Unlock()
				conn.Close()
			}()
			b.serve(conn)
		}()
	}
}

func (b *Broker) serve(conn net.Conn) {
	first, err := packets.ReadPacket(conn)
	if err != nil {
		return
	}
	if _, ok := first.(*packets.ConnectPacket); !ok {
		return
	}

	b.mu.Lock()
	b.connects++
	resumed := b.connects > 1
	queued := b.queued
	b.queued = nil
	b.mu.Unlock()

	connack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
	connack.SessionPresent = resumed
	if err := connack.Write(conn); err != nil {
		return
	}

	for i, m := range queued {
		pub := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
		pub.Qos = 1
		pub.TopicName = m.topic
		pub.MessageID = uint16(i%65535 + 1) //nolint:gosec // wraps within the id space
		pub.Payload = m.payload
		if err := pub.Write(conn); err != nil {
			return
		}
	}

	for {
		pkt, err := packets.ReadPacket(conn)
		if err != nil {
			return
		}

		switch p := pkt.(type) {
		case *packets.SubscribePacket:
			b.mu.Lock()
			b.subscribes++
			b.mu.Unlock()

			suback := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
			suback.MessageID = p.MessageID
			suback.ReturnCodes = append([]byte(nil), p.Qoss...)
			if err := suback.Write(conn); err != nil {
				return
			}

		case *packets.PubackPacket:
			b.mu.Lock()
			b.acked++
			b.mu.Unlock()

		case *packets.PingreqPacket:
			if err := packets.NewControlPacket(packets.Pingresp).Write(conn); err != nil {
				return
			}

		case *packets.DisconnectPacket:
			return
		}
	}
}
