// exmebus-monitor is a local stand-in for the exmebus collector.
//
// It listens on the collector port, splits each incoming stream into
// frames and logs every decoded record. Point a gateway's --exmebus-port at
// it to bench test without the collector.
//
// Usage:
//
//	exmebus-monitor --listen 127.0.0.1:5000 -d
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/exertus/exmebus-gateway/internal/exmebus"
	"github.com/exertus/exmebus-gateway/internal/infrastructure/config"
	"github.com/exertus/exmebus-gateway/internal/infrastructure/logging"
)

var version = "dev"

const serviceName = "exmebus-monitor"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	listen := fs.String("listen", "127.0.0.1:5000", "address to accept collector connections on")
	format := fs.String("log-format", "text", "log format: text or json")
	debug := fs.CountP("debug", "d", "also log raw frames in hex")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := "info"
	if *debug > 0 {
		level = "debug"
	}
	log := logging.New(config.LoggingConfig{Level: level, Format: *format, Output: "stdout"}, serviceName, version)

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", *listen, err)
	}
	log.Info("monitor listening", "address", ln.Addr().String())

	m := &monitor{logger: log}
	return m.serve(ctx, ln)
}

// monitor accepts collector connections and logs their records.
type monitor struct {
	logger *logging.Logger

	// onPacket, when set, receives every decoded record.
	onPacket func(remote string, p *exmebus.Packet)
}

// serve accepts connections until ctx is cancelled. It closes ln.
func (m *monitor) serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	var connsMu sync.Mutex
	conns := make(map[net.Conn]struct{})

	go func() {
		<-ctx.Done()
		ln.Close()
		connsMu.Lock()
		for c := range conns {
			c.Close()
		}
		connsMu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		connsMu.Lock()
		conns[conn] = struct{}{}
		if ctx.Err() != nil {
			conn.Close()
		}
		connsMu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				connsMu.Lock()
				delete(conns, conn)
				connsMu.Unlock()
				conn.Close()
			}()
			m.handle(conn)
		}()
	}
}

func (m *monitor) handle(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log := m.logger.With("remote", remote)
	log.Info("gateway connected")

	n, err := readFrames(conn, func(frame []byte, p *exmebus.Packet) {
		log.Debug("frame", "bytes", len(frame), "hex", fmt.Sprintf("%x", frame))
		log.Info("record",
			"signal", p.SignalNumber,
			"group", p.SignalGroup.String(),
			"view", p.ViewType.String(),
			"sample", p.SampleType.String(),
			"time", p.Time(),
			"value", valueOf(p),
		)
		if m.onPacket != nil {
			m.onPacket(remote, p)
		}
	})

	switch {
	case err == nil:
		log.Info("gateway disconnected", "frames", n)
	case errors.Is(err, net.ErrClosed):
		log.Info("connection closed", "frames", n)
	default:
		log.Warn("stream error", "frames", n, "error", err)
	}
}

// readFrames splits a collector stream into frames and decodes each one.
// It returns the number of frames read, and nil on a clean EOF between
// frames. A malformed frame ends the stream since the framing is lost.
func readFrames(r io.Reader, fn func(frame []byte, p *exmebus.Packet)) (int, error) {
	br := bufio.NewReader(r)
	count := 0

	for {
		prefix, err := br.Peek(2)
		if err != nil {
			if errors.Is(err, io.EOF) && len(prefix) == 0 {
				return count, nil
			}
			if errors.Is(err, io.EOF) {
				return count, io.ErrUnexpectedEOF
			}
			return count, err
		}

		size, err := exmebus.FrameLength(prefix)
		if err != nil {
			return count, err
		}

		frame := make([]byte, size)
		if _, err := io.ReadFull(br, frame); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return count, err
		}

		p, err := exmebus.Decode(frame)
		if err != nil {
			return count, err
		}
		count++
		fn(frame, p)
	}
}

func valueOf(p *exmebus.Packet) string {
	v, err := p.Value()
	if err != nil {
		return fmt.Sprintf("<%x>", p.Data)
	}
	return v
}
