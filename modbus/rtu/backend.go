// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the modbus.Backend for RTU framing: a 1-byte
// slave address header and a trailing CRC-16/MODBUS checksum, no
// protocol framing beyond that (spec.md §6.1 "RTU wire format").
package rtu

import (
	"errors"

	"github.com/ffutop/agile-modbus-go/modbus"
	"github.com/ffutop/agile-modbus-go/modbus/rtu/crc"
)

var errSlaveMismatch = errors.New("rtu: response slave address does not match request")

const (
	headerLength   = 1
	checksumLength = 2
	maxADULength   = 256

	// BroadcastAddress is the RTU slave address that every device on the
	// line accepts but none replies to.
	BroadcastAddress = 0
)

// Backend is the RTU modbus.Backend. The zero value has slave address 0
// (the broadcast address); NewBackend returns one with no slave address
// configured (Slave returns -1). Either must be given one via SetSlave
// before it builds requests.
type Backend struct {
	slave int
}

var _ modbus.Backend = (*Backend)(nil)

// NewBackend constructs an RTU backend with no slave address configured.
func NewBackend() *Backend {
	return &Backend{slave: -1}
}

func (b *Backend) HeaderLength() int   { return headerLength }
func (b *Backend) ChecksumLength() int { return checksumLength }
func (b *Backend) MaxADULength() int   { return maxADULength }

func (b *Backend) SetSlave(slave int) { b.slave = slave }
func (b *Backend) Slave() int         { return b.slave }

func (b *Backend) RequestSlave(req []byte) int {
	return int(req[0])
}

func (b *Backend) AddressMatch(reqSlave int) bool {
	return reqSlave == b.slave || reqSlave == BroadcastAddress
}

func (b *Backend) IsBroadcast(reqSlave int) bool {
	return reqSlave == BroadcastAddress
}

func (b *Backend) BuildRequestBasis(fc byte, addr, nb uint16, buf []byte) int {
	buf[0] = byte(b.slave)
	buf[1] = fc
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	buf[4] = byte(nb >> 8)
	buf[5] = byte(nb)
	return 6
}

func (b *Backend) BuildResponseBasis(sft modbus.SlaveFuncTID, buf []byte) int {
	buf[0] = byte(sft.Slave)
	buf[1] = sft.Function
	return 2
}

// PrepareResponseTID is a no-op for RTU: there is no per-message
// correlation id to carry forward.
func (b *Backend) PrepareResponseTID(req []byte) uint16 {
	return 0
}

// SendMsgPre appends the CRC-16/MODBUS checksum and returns the new
// framed length.
func (b *Backend) SendMsgPre(buf []byte, msgLength int) int {
	var c crc.CRC
	c.Reset()
	c.PushBytes(buf[:msgLength])
	value := c.Value()
	buf[msgLength] = byte(value)
	buf[msgLength+1] = byte(value >> 8)
	return msgLength + checksumLength
}

// CheckIntegrity recomputes the CRC over buf[0:msgLength-2] and compares
// it against the trailing two bytes.
func (b *Backend) CheckIntegrity(buf []byte, msgLength int) int {
	if msgLength < checksumLength {
		return -1
	}
	var c crc.CRC
	c.Reset()
	c.PushBytes(buf[:msgLength-checksumLength])
	value := c.Value()
	if buf[msgLength-2] != byte(value) || buf[msgLength-1] != byte(value>>8) {
		return -1
	}
	return msgLength
}

// PreCheckConfirmation checks the request and response carry the same
// slave address; RTU has no other per-message correlation to verify.
func (b *Backend) PreCheckConfirmation(req, rsp []byte, rspLength int) error {
	if req[0] != rsp[0] {
		return errSlaveMismatch
	}
	return nil
}
