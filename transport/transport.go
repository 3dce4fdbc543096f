// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport wires the no-I/O modbus engine to real byte
// transports: serial lines and TCP sockets, acting either as the
// upstream (server, receiving requests from a master) or the
// downstream (client, forwarding requests to a slave) side of a
// gateway.
package transport

import "context"

// PDU is a function-code-plus-payload request or response, the unit
// Upstream and Downstream exchange once slave addressing and framing
// have been stripped by the modbus engine.
type PDU struct {
	FunctionCode byte
	Data         []byte
}

// RequestHandler processes one decoded request and returns its reply.
// On a non-nil error the TCP and RTU-over-TCP upstreams reply with a
// gateway exception (ExceptionGatewayPathUnavail when the error is
// context.DeadlineExceeded, ExceptionGatewayTargetFailed otherwise); the
// serial RTU upstream sends no reply. The code of a returned
// *modbus.ExceptionError is not forwarded; to send a specific exception,
// return it as a PDU with the exception bit set in FunctionCode.
type RequestHandler func(ctx context.Context, slaveID byte, pdu PDU) (PDU, error)

// Upstream is a source of requests: a modbus master connected to us.
// It runs as a server.
type Upstream interface {
	// Start runs the server loop, invoking handler once per request,
	// until ctx is cancelled or an unrecoverable error occurs.
	Start(ctx context.Context, handler RequestHandler) error
	Close() error
}

// Downstream is a destination for requests: a modbus slave we poll on
// the gateway's behalf. It runs as a client.
type Downstream interface {
	Send(ctx context.Context, slaveID byte, pdu PDU) (PDU, error)
	Connect(ctx context.Context) error
	Close() error
}
