// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package local implements the modbus.Backend for an in-process slave: a
// PDU handed directly to SlaveHandle with no header, no checksum, and no
// wire transport at all. It lets internal/localslave answer requests
// through the exact same engine algorithm that rtu and tcp use, instead
// of a bespoke function-code switch.
package local

import "github.com/ffutop/agile-modbus-go/modbus"

const (
	headerLength   = 0
	checksumLength = 0
	maxADULength   = modbus.MaxPDULength + 1
)

// Backend is the in-process modbus.Backend. There is exactly one slave
// (the process itself), so address matching and broadcast handling are
// trivial, and PrepareResponseTID is meaningless (TID is a TCP concept);
// it always returns 0.
type Backend struct {
	slave int
}

var _ modbus.Backend = (*Backend)(nil)

// NewBackend constructs a local backend that answers to slave.
func NewBackend(slave int) *Backend {
	return &Backend{slave: slave}
}

func (b *Backend) HeaderLength() int   { return headerLength }
func (b *Backend) ChecksumLength() int { return checksumLength }
func (b *Backend) MaxADULength() int   { return maxADULength }

func (b *Backend) SetSlave(slave int) { b.slave = slave }
func (b *Backend) Slave() int         { return b.slave }

// RequestSlave has no header byte to read the address from; the engine
// is always talking to the one slave it was built for.
func (b *Backend) RequestSlave(req []byte) int {
	return b.slave
}

func (b *Backend) AddressMatch(reqSlave int) bool {
	return true
}

func (b *Backend) IsBroadcast(reqSlave int) bool {
	return false
}

func (b *Backend) BuildRequestBasis(fc byte, addr, nb uint16, buf []byte) int {
	buf[0] = fc
	putUint16BE(buf[1:], addr)
	putUint16BE(buf[3:], nb)
	return 5
}

func (b *Backend) BuildResponseBasis(sft modbus.SlaveFuncTID, buf []byte) int {
	buf[0] = sft.Function
	return headerLength + 1
}

func (b *Backend) PrepareResponseTID(req []byte) uint16 {
	return 0
}

// SendMsgPre is a no-op: there is nothing to append or patch.
func (b *Backend) SendMsgPre(buf []byte, msgLength int) int {
	return msgLength
}

// CheckIntegrity always holds: a PDU built in-process carries no
// transport noise to validate against.
func (b *Backend) CheckIntegrity(buf []byte, msgLength int) int {
	return msgLength
}

func (b *Backend) PreCheckConfirmation(req, rsp []byte, rspLength int) error {
	return nil
}

func putUint16BE(buf []byte, v uint16) {
	buf[0] = byte(v >> 8)
	buf[1] = byte(v)
}
