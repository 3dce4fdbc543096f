// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ffutop/agile-modbus-go/modbus"
	"github.com/ffutop/agile-modbus-go/modbus/tcp"
	"github.com/ffutop/agile-modbus-go/transport"
)

const (
	tcpTimeout = 10 * time.Second
	maxADUSize = 260
)

// Client implements transport.Downstream over a TCP socket; MBAP
// framing and transaction-id bookkeeping are delegated to the modbus
// engine.
type Client struct {
	Address string
	Timeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	backend *tcp.Backend
	engine  *modbus.Modbus
}

// NewClient allocates and initializes a TCP Client.
func NewClient(address string) *Client {
	backend := tcp.NewBackend()
	return &Client{
		Address: address,
		Timeout: tcpTimeout,
		backend: backend,
		engine:  modbus.NewModbus(backend, make([]byte, maxADUSize), make([]byte, maxADUSize)),
	}
}

// Send sends a PDU to the downstream slave identified by slaveID (the
// MBAP unit identifier) and returns its reply.
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

	respLength, err := mb.sendAndRead(mb.conn, mb.engine.SendBuf()[:n])
	if err != nil {
		mb.close()
		return transport.PDU{}, err
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

// sendAndRead writes the request and reads exactly one MBAP-framed
// response into the engine's read buffer, returning its framed length.
func (mb *Client) sendAndRead(conn net.Conn, reqFrame []byte) (int, error) {
	if _, err := conn.Write(reqFrame); err != nil {
		return 0, err
	}

	readBuf := mb.engine.ReadBuf()
	header := readBuf[:6]
	if _, err := io.ReadFull(conn, header); err != nil {
		return 0, err
	}
	length := int(header[4])<<8 | int(header[5])
	if 6+length > len(readBuf) {
		return 0, fmt.Errorf("modbus: response length %d exceeds max ADU size", 6+length)
	}
	if _, err := io.ReadFull(conn, readBuf[6:6+length]); err != nil {
		return 0, err
	}

	slog.Debug("recv from modbus tcp slave", "response", hex.EncodeToString(readBuf[:6+length]))
	return 6 + length, nil
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
