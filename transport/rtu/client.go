// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ffutop/agile-modbus-go/internal/config"
	"github.com/ffutop/agile-modbus-go/modbus"
	"github.com/ffutop/agile-modbus-go/modbus/rtu"
	"github.com/ffutop/agile-modbus-go/transport"
)

// ErrRequestTimedOut is returned when a response is not received within
// the configured timeout.
var ErrRequestTimedOut = errors.New("modbus: request timed out")

const maxADUSize = 256

// Client implements transport.Downstream over a serial line, building
// and parsing ADUs through the modbus engine instead of hand-rolled
// framing.
type Client struct {
	rtuSerialTransporter
	engine  *modbus.Modbus
	backend *rtu.Backend
}

// NewClient allocates and initializes a RTU Client.
func NewClient(cfg config.SerialConfig) *Client {
	client := &Client{}

	client.serialPort.Config.Address = cfg.Device
	client.serialPort.Config.BaudRate = cfg.BaudRate
	client.serialPort.Config.DataBits = cfg.DataBits
	client.serialPort.Config.StopBits = cfg.StopBits
	client.serialPort.Config.Parity = cfg.Parity
	client.serialPort.Config.Timeout = cfg.Timeout
	client.IdleTimeout = serialIdleTimeout

	client.backend = rtu.NewBackend()
	client.engine = modbus.NewModbus(client.backend, make([]byte, maxADUSize), make([]byte, maxADUSize))
	return client
}

// Send sends a PDU to the downstream slave and returns its reply.
func (mb *Client) Send(ctx context.Context, slaveID byte, pdu transport.PDU) (transport.PDU, error) {
	mb.backend.SetSlave(int(slaveID))

	raw := make([]byte, 1+len(pdu.Data))
	raw[0] = pdu.FunctionCode
	copy(raw[1:], pdu.Data)

	n, err := mb.engine.SerializeRawRequest(raw)
	if err != nil {
		return transport.PDU{}, err
	}
	reqFrame := mb.engine.SendBuf()[:n]

	respLength, err := mb.send(ctx, reqFrame)
	if err != nil {
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

type rtuSerialTransporter struct {
	serialPort
}

// send reads a full response frame byte-by-byte, feeding the engine's
// validator after every byte so framing decides completion instead of a
// hand-rolled state machine.
func (mb *Client) send(ctx context.Context, reqFrame []byte) (int, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err := mb.connect(ctx); err != nil {
		return 0, err
	}
	mb.lastActivity = time.Now()
	mb.startCloseTimer()

	slog.Debug("send to modbus slave", "request", hex.EncodeToString(reqFrame))
	if _, err := mb.port.Write(reqFrame); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(mb.Config.Timeout)
	readBuf := mb.engine.ReadBuf()
	n := 0
	for {
		if time.Now().After(deadline) {
			return 0, ErrRequestTimedOut
		}
		if n >= len(readBuf) {
			return 0, fmt.Errorf("modbus: response exceeds max ADU size %d", len(readBuf))
		}
		if _, err := io.ReadAtLeast(mb.port, readBuf[n:n+1], 1); err != nil {
			return 0, err
		}
		n++
		if rc := mb.engine.ReceiveJudge(n, modbus.Confirmation); rc > 0 {
			slog.Debug("recv from modbus slave", "response", hex.EncodeToString(readBuf[:rc]))
			return rc, nil
		}
	}
}

func (mb *rtuSerialTransporter) calculateDelay(chars int) time.Duration {
	var characterDelay, frameDelay int

	if mb.BaudRate <= 0 || mb.BaudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / mb.BaudRate
		frameDelay = 35000000 / mb.BaudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}
