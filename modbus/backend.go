// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// Backend is the fixed capability bundle a framing variant must provide
// (spec.md §4.1, §9 "Polymorphism over backends"). RTU and TCP are the two
// concrete implementations; the engine never switches backends at runtime,
// so Backend is chosen once at construction and held immutably.
type Backend interface {
	// HeaderLength is the number of bytes before the function code
	// (1 for RTU's slave address, 7 for TCP's MBAP header).
	HeaderLength() int
	// ChecksumLength is the number of trailing checksum bytes (2 for
	// RTU's CRC-16, 0 for TCP).
	ChecksumLength() int
	// MaxADULength is the largest complete framed message this backend
	// ever produces or accepts.
	MaxADULength() int

	// SetSlave stores the locally configured slave address.
	SetSlave(slave int)
	// Slave returns the locally configured slave address, or -1 if unset.
	Slave() int

	// RequestSlave extracts the slave address a received request is
	// addressed to (RTU: req[0]; TCP: the MBAP unit identifier).
	RequestSlave(req []byte) int
	// AddressMatch reports whether a request addressed to reqSlave should
	// be serviced by this locally configured backend. RTU matches on
	// exact address or the broadcast address 0; TCP always matches, since
	// unit-id routing (if any) happens above the engine.
	AddressMatch(reqSlave int) bool
	// IsBroadcast reports whether a serviced request must never receive a
	// reply (RTU broadcast only; always false for TCP).
	IsBroadcast(reqSlave int) bool

	// BuildRequestBasis writes the header, function code and address/
	// quantity fields of a request into buf and returns the number of
	// bytes written.
	BuildRequestBasis(fc byte, addr, nb uint16, buf []byte) int
	// BuildResponseBasis writes the header and function code of a
	// response into buf and returns the number of bytes written.
	BuildResponseBasis(sft SlaveFuncTID, buf []byte) int
	// PrepareResponseTID extracts whatever per-message correlation id the
	// backend carries from a received request (TCP: the MBAP tid; RTU:
	// always 0).
	PrepareResponseTID(req []byte) uint16

	// SendMsgPre finalises a framed message of length msgLength sitting in
	// buf (RTU: appends the CRC and returns the new length; TCP: patches
	// the MBAP length field and returns msgLength unchanged).
	SendMsgPre(buf []byte, msgLength int) int
	// CheckIntegrity validates checksum/framing over buf[0:msgLength] and
	// returns msgLength on success, -1 on failure.
	CheckIntegrity(buf []byte, msgLength int) int
	// PreCheckConfirmation runs backend-specific request/response
	// correlation checks (TCP: tid + protocol id equality). Returns nil
	// on success.
	PreCheckConfirmation(req, rsp []byte, rspLength int) error
}

// SlaveFuncTID bundles the three fields every response basis needs: the
// slave address, the function code, and (TCP only) the transaction id
// (spec.md §3 "sft").
type SlaveFuncTID struct {
	Slave    int
	Function byte
	TID      uint16
}

func putUint16BE(buf []byte, v uint16) {
	buf[0] = byte(v >> 8)
	buf[1] = byte(v)
}

func uint16BE(buf []byte) uint16 {
	return uint16(buf[0])<<8 | uint16(buf[1])
}
