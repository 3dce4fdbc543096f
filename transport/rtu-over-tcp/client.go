// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtuovertcp carries RTU-framed ADUs (CRC and all) over a plain
// TCP stream, for slave devices that speak RTU but sit behind a TCP
// bridge rather than a real serial line.
package rtuovertcp

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ffutop/agile-modbus-go/modbus"
	"github.com/ffutop/agile-modbus-go/modbus/rtu"
	"github.com/ffutop/agile-modbus-go/transport"
)

const (
	tcpTimeout = 10 * time.Second
	maxADUSize = 256
)

// Client implements transport.Downstream, framing requests as RTU ADUs
// but carrying them over a TCP connection instead of a serial line.
type Client struct {
	Address string
	Timeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	backend *rtu.Backend
	engine  *modbus.Modbus
}

// NewClient allocates and initializes a Client.
func NewClient(address string) *Client {
	backend := rtu.NewBackend()
	return &Client{
		Address: address,
		Timeout: tcpTimeout,
		backend: backend,
		engine:  modbus.NewModbus(backend, make([]byte, maxADUSize), make([]byte, maxADUSize)),
	}
}

// Send sends a PDU to the downstream slave and returns its reply.
func (mb *Client) Send(ctx context.Context, slaveID byte, pdu transport.PDU) (transport.PDU, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err := mb.connect(); err != nil {
		return transport.PDU{}, fmt.Errorf("modbus: failed to connect to %s: %w", mb.Address, err)
	}

	mb.backend.SetSlave(int(slaveID))
	raw := make([]byte, 1+len(pdu.Data))
	raw[0] = pdu.FunctionCode
	copy(raw[1:], pdu.Data)

	n, err := mb.engine.SerializeRawRequest(raw)
	if err != nil {
		return transport.PDU{}, err
	}

	if err := mb.conn.SetDeadline(time.Now().Add(mb.Timeout)); err != nil {
		mb.close()
		return transport.PDU{}, err
	}
	if _, err := mb.conn.Write(mb.engine.SendBuf()[:n]); err != nil {
		mb.close()
		return transport.PDU{}, fmt.Errorf("failed to write to connection: %w", err)
	}

	respLength, err := mb.readFrame(mb.conn, time.Now().Add(mb.Timeout))
	if err != nil {
		mb.close()
		return transport.PDU{}, fmt.Errorf("failed to read response: %w", err)
	}

	if _, err := mb.engine.DeserializeRawResponse(respLength); err != nil {
		return transport.PDU{}, err
	}
	readBuf := mb.engine.ReadBuf()
	offset := mb.backend.HeaderLength()
	return transport.PDU{
		FunctionCode: readBuf[offset],
		Data:         readBuf[offset+1 : respLength-mb.backend.ChecksumLength()],
	}, nil
}

// readFrame reads an RTU frame byte-by-byte off the stream, letting the
// engine's validator decide when a complete frame has arrived (RTU has
// no explicit length prefix, so unlike tcp.Client this can't read a
// fixed header first).
func (mb *Client) readFrame(r io.Reader, deadline time.Time) (int, error) {
	readBuf := mb.engine.ReadBuf()
	n := 0
	for {
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("modbus: request timed out")
		}
		if n >= len(readBuf) {
			return 0, fmt.Errorf("modbus: response exceeds max ADU size %d", len(readBuf))
		}
		if _, err := io.ReadAtLeast(r, readBuf[n:n+1], 1); err != nil {
			return 0, err
		}
		n++
		if rc := mb.engine.ReceiveJudge(n, modbus.Confirmation); rc > 0 {
			return rc, nil
		}
	}
}

func (mb *Client) Connect(ctx context.Context) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.connect()
}

func (mb *Client) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.close()
	return nil
}

func (mb *Client) connect() error {
	if mb.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", mb.Address, mb.Timeout)
	if err != nil {
		return err
	}
	mb.conn = conn
	return nil
}

func (mb *Client) close() {
	if mb.conn != nil {
		mb.conn.Close()
		mb.conn = nil
	}
}
