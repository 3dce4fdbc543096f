// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcp implements the modbus.Backend for MBAP framing: a 7-byte
// header (transaction id, protocol id, length, unit id) and no trailing
// checksum — TCP already guarantees byte-exact delivery (spec.md §6.1
// "TCP wire format").
package tcp

import (
	"errors"

	"github.com/ffutop/agile-modbus-go/modbus"
)

const (
	headerLength   = 7
	checksumLength = 0
	maxADULength   = 260

	protocolID = 0
)

var errProtocolMismatch = errors.New("tcp: protocol id is not 0")

// Backend is the TCP modbus.Backend. Unlike RTU there is no broadcast
// address and no per-byte checksum; framing integrity instead hinges on
// the MBAP length field matching what actually followed it, and
// request/response correlation hinges on the transaction id.
type Backend struct {
	slave int
	tid   uint16
}

var _ modbus.Backend = (*Backend)(nil)

// NewBackend constructs a TCP backend with no unit id configured (Slave
// returns -1); set one via SetSlave, conventionally 0xFF for devices that
// don't route by unit id.
func NewBackend() *Backend {
	return &Backend{slave: -1}
}

func (b *Backend) HeaderLength() int   { return headerLength }
func (b *Backend) ChecksumLength() int { return checksumLength }
func (b *Backend) MaxADULength() int   { return maxADULength }

func (b *Backend) SetSlave(slave int) { b.slave = slave }
func (b *Backend) Slave() int         { return b.slave }

func (b *Backend) RequestSlave(req []byte) int {
	return int(req[6])
}

// AddressMatch always holds for TCP: unit-id based routing, where
// needed, happens above the engine (e.g. a gateway's downstream table).
func (b *Backend) AddressMatch(reqSlave int) bool {
	return true
}

// IsBroadcast is always false: TCP has no broadcast address.
func (b *Backend) IsBroadcast(reqSlave int) bool {
	return false
}

func (b *Backend) BuildRequestBasis(fc byte, addr, nb uint16, buf []byte) int {
	b.tid++
	putUint16BE(buf[0:], b.tid)
	putUint16BE(buf[2:], protocolID)
	// buf[4:6] (length) is patched by SendMsgPre once the PDU is complete.
	buf[6] = byte(b.slave)
	buf[7] = fc
	putUint16BE(buf[8:], addr)
	putUint16BE(buf[10:], nb)
	return 12
}

func (b *Backend) BuildResponseBasis(sft modbus.SlaveFuncTID, buf []byte) int {
	putUint16BE(buf[0:], sft.TID)
	putUint16BE(buf[2:], protocolID)
	buf[6] = byte(sft.Slave)
	buf[7] = sft.Function
	return headerLength + 1
}

// PrepareResponseTID extracts the transaction id a server must echo back
// in its reply.
func (b *Backend) PrepareResponseTID(req []byte) uint16 {
	return uint16BE(req[0:])
}

// SendMsgPre patches the MBAP length field (unit id + PDU bytes) and
// returns msgLength unchanged; TCP appends no checksum.
func (b *Backend) SendMsgPre(buf []byte, msgLength int) int {
	putUint16BE(buf[4:], uint16(msgLength-6))
	return msgLength
}

// CheckIntegrity verifies the MBAP length field matches the bytes that
// actually followed it and the protocol id is 0.
func (b *Backend) CheckIntegrity(buf []byte, msgLength int) int {
	if msgLength < headerLength+1 {
		return -1
	}
	if uint16BE(buf[2:]) != protocolID {
		return -1
	}
	declared := int(uint16BE(buf[4:]))
	if declared != msgLength-6 {
		return -1
	}
	return msgLength
}

// PreCheckConfirmation checks the transaction id and protocol id match
// between request and response.
func (b *Backend) PreCheckConfirmation(req, rsp []byte, rspLength int) error {
	if uint16BE(req[0:]) != uint16BE(rsp[0:]) {
		return errProtocolMismatch
	}
	if uint16BE(rsp[2:]) != protocolID {
		return errProtocolMismatch
	}
	return nil
}

func putUint16BE(buf []byte, v uint16) {
	buf[0] = byte(v >> 8)
	buf[1] = byte(v)
}

func uint16BE(buf []byte) uint16 {
	return uint16(buf[0])<<8 | uint16(buf[1])
}
