// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/ffutop/agile-modbus-go/modbus"
	"github.com/ffutop/agile-modbus-go/modbus/rtu"
	"github.com/ffutop/agile-modbus-go/transport"
)

// Server implements transport.Upstream, accepting TCP connections that
// carry RTU-framed ADUs rather than MBAP.
type Server struct {
	Address  string
	listener net.Listener
}

// NewServer creates a new RTU-over-TCP Server.
func NewServer(address string) *Server {
	return &Server{Address: address}
}

// Start starts the TCP server.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.listener = listener
	slog.Info("rtu-over-tcp server listening", "addr", s.Address)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				slog.Error("failed to accept connection", "err", err)
				continue
			}
		}
		go s.handleConnection(ctx, conn, handler)
	}
}

func (s *Server) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, handler transport.RequestHandler) {
	defer conn.Close()
	slog.Info("rtu-over-tcp client connected", "addr", conn.RemoteAddr())

	backend := rtu.NewBackend()
	engine := modbus.NewModbus(backend, make([]byte, maxADUSize), make([]byte, maxADUSize))
	readBuf := engine.ReadBuf()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n := 0
		for {
			if n >= len(readBuf) {
				slog.Warn("rtu-over-tcp frame exceeded max ADU size, resetting connection")
				return
			}
			if _, err := io.ReadAtLeast(conn, readBuf[n:n+1], 1); err != nil {
				if err != io.EOF {
					slog.Error("connection read error", "addr", conn.RemoteAddr(), "err", err)
				}
				return
			}
			n++
			if rc := engine.ReceiveJudge(n, modbus.Indication); rc > 0 {
				n = rc
				break
			}
		}

		sft, data, err := engine.ReceiveIndication(n)
		if err != nil {
			slog.Warn("rtu-over-tcp frame validation failed", "err", err)
			continue
		}

		respFunction, respData := handle(ctx, handler, sft, data)
		if sft.Slave == rtu.BroadcastAddress {
			continue
		}

		raw := make([]byte, 1+len(respData))
		raw[0] = respFunction
		copy(raw[1:], respData)

		respLength, err := engine.SerializeRawResponse(sft, raw)
		if err != nil {
			slog.Error("failed to format response", "err", err)
			continue
		}
		if _, err := conn.Write(engine.SendBuf()[:respLength]); err != nil {
			slog.Error("failed to write response", "err", err)
			return
		}
	}
}

// handle invokes the user handler and maps any error into an exception
// response rather than dropping the connection.
func handle(ctx context.Context, handler transport.RequestHandler, sft modbus.SlaveFuncTID, data []byte) (byte, []byte) {
	respPDU, err := handler(ctx, byte(sft.Slave), transport.PDU{FunctionCode: sft.Function, Data: data})
	if err == nil {
		return respPDU.FunctionCode, respPDU.Data
	}

	slog.Error("rtu-over-tcp handler failed", "err", err)
	code := byte(modbus.ExceptionGatewayTargetFailed)
	if errors.Is(err, context.DeadlineExceeded) {
		code = modbus.ExceptionGatewayPathUnavail
	}
	return sft.Function | 0x80, []byte{code}
}
