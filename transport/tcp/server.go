// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/ffutop/agile-modbus-go/modbus"
	"github.com/ffutop/agile-modbus-go/modbus/tcp"
	"github.com/ffutop/agile-modbus-go/transport"
)

// Server implements transport.Upstream over a TCP listener.
type Server struct {
	Address string

	listener net.Listener
}

// NewServer creates a new TCP Server.
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
	slog.Info("modbus tcp server listening", "addr", s.Address)

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
	slog.Info("tcp client connected", "addr", conn.RemoteAddr())

	backend := tcp.NewBackend()
	engine := modbus.NewModbus(backend, make([]byte, maxADUSize), make([]byte, maxADUSize))
	readBuf := engine.ReadBuf()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		header := readBuf[:6]
		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF {
				slog.Error("failed to read mbap header", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}
		length := int(header[4])<<8 | int(header[5])
		if 6+length > len(readBuf) {
			slog.Error("mbap length too large", "length", length)
			return
		}
		if _, err := io.ReadFull(conn, readBuf[6:6+length]); err != nil {
			slog.Error("failed to read mbap payload", "addr", conn.RemoteAddr(), "err", err)
			return
		}

		sft, data, err := engine.ReceiveIndication(6 + length)
		if err != nil {
			slog.Error("failed to validate tcp request", "err", err)
			continue
		}

		respPDU, err := handler(ctx, byte(sft.Slave), transport.PDU{FunctionCode: sft.Function, Data: data})
		if err != nil {
			slog.Error("tcp upstream handler failed", "err", err)
			code := modbus.ExceptionGatewayTargetFailed
			if errors.Is(err, context.DeadlineExceeded) {
				code = modbus.ExceptionGatewayPathUnavail
			}
			respPDU = transport.PDU{FunctionCode: sft.Function | 0x80, Data: []byte{code}}
		}

		raw := make([]byte, 1+len(respPDU.Data))
		raw[0] = respPDU.FunctionCode
		copy(raw[1:], respPDU.Data)

		n, err := engine.SerializeRawResponse(sft, raw)
		if err != nil {
			slog.Error("failed to format tcp response", "err", err)
			continue
		}
		if _, err := conn.Write(engine.SendBuf()[:n]); err != nil {
			slog.Error("failed to write tcp response", "addr", conn.RemoteAddr(), "err", err)
			return
		}
	}
}
