// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/ffutop/agile-modbus-go/internal/config"
	"github.com/ffutop/agile-modbus-go/modbus"
	"github.com/ffutop/agile-modbus-go/modbus/rtu"
	"github.com/ffutop/agile-modbus-go/transport"
	"github.com/grid-x/serial"
)

// Server implements transport.Upstream over a serial line: it acts as a
// slave on the bus, scanning for well-framed requests and handing the
// decoded PDU to handler.
type Server struct {
	Config config.SerialConfig

	backend *rtu.Backend
	engine  *modbus.Modbus
}

// NewServer creates a new RTU server. slave is set on the backend as its
// own address; the scan loop does not filter by it and hands every
// well-framed request to the handler, whatever its slave address.
func NewServer(cfg config.SerialConfig, slave int) *Server {
	backend := rtu.NewBackend()
	backend.SetSlave(slave)
	return &Server{
		Config:  cfg,
		backend: backend,
		engine:  modbus.NewModbus(backend, make([]byte, maxADUSize), make([]byte, maxADUSize)),
	}
}

// Start opens the serial port and runs the scan loop until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	spConfig := &serial.Config{
		Address:  s.Config.Device,
		BaudRate: s.Config.BaudRate,
		DataBits: s.Config.DataBits,
		StopBits: s.Config.StopBits,
		Parity:   s.Config.Parity,
		Timeout:  s.Config.Timeout,
	}

	port, err := serial.Open(spConfig)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Config.Device, err)
	}
	defer port.Close()
	slog.Info("rtu server listening", "device", s.Config.Device)

	go func() {
		<-ctx.Done()
		port.Close()
	}()

	return s.scanLoop(ctx, port, handler)
}

// scanLoop feeds bytes to the engine's validator one at a time; a frame
// is complete the instant ReceiveJudge returns a positive length, so
// there is no hand-rolled per-function-code length table to maintain.
func (s *Server) scanLoop(ctx context.Context, port io.ReadWriteCloser, handler transport.RequestHandler) error {
	readBuf := s.engine.ReadBuf()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n := 0
		for {
			if n >= len(readBuf) {
				n = 0
				break
			}
			m, err := port.Read(readBuf[n : n+1])
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				n = 0
				break
			}
			if m == 0 {
				continue
			}
			n++
			if rc := s.engine.ReceiveJudge(n, modbus.Indication); rc > 0 {
				n = rc
				break
			}
		}
		if n == 0 {
			continue
		}

		sft, data, err := s.engine.ReceiveIndication(n)
		if err != nil {
			continue
		}

		// The serial bus is half-duplex and the engine is not safe for
		// concurrent use, so each request is answered before the next
		// byte is scanned.
		s.respond(ctx, port, sft, data, handler)
	}
}

func (s *Server) respond(ctx context.Context, port io.Writer, sft modbus.SlaveFuncTID, data []byte, handler transport.RequestHandler) {
	respPDU, err := handler(ctx, byte(sft.Slave), transport.PDU{FunctionCode: sft.Function, Data: data})
	if err != nil {
		slog.Error("rtu upstream handler failed", "err", err)
		return
	}
	if sft.Slave == rtu.BroadcastAddress {
		return
	}

	raw := make([]byte, 1+len(respPDU.Data))
	raw[0] = respPDU.FunctionCode
	copy(raw[1:], respPDU.Data)

	n, err := s.engine.SerializeRawResponse(sft, raw)
	if err != nil {
		slog.Error("rtu upstream failed to format response", "err", err)
		return
	}
	if _, err := port.Write(s.engine.SendBuf()[:n]); err != nil {
		slog.Error("rtu upstream failed to write response", "err", err)
	}
}

func (s *Server) Close() error {
	return nil
}
