// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "errors"

// Callback is the set of data-access operations a server-side user must
// provide; SlaveHandle calls exactly one of these per request, after
// validating the frame and the function-specific quantity bounds itself
// (spec.md §4.4 "per-function preflight"). Implementations return
// (*ExceptionError) to signal a MODBUS exception response, or any other
// error to abort the exchange with no reply at all: SlaveHandle returns
// that error with a zero length (for a broadcast request, the error is
// dropped and SlaveHandle returns a nil error).
//
// slaveutil.Table synthesizes a Callback from address-range tables; a
// caller with simple needs can also implement it directly.
type Callback interface {
	ReadCoils(slave, addr, nb int) ([]byte, error)
	ReadDiscreteInputs(slave, addr, nb int) ([]byte, error)
	ReadHoldingRegisters(slave, addr, nb int) ([]uint16, error)
	ReadInputRegisters(slave, addr, nb int) ([]uint16, error)
	WriteSingleCoil(slave, addr int, value bool) error
	WriteSingleRegister(slave, addr int, value uint16) error
	WriteMultipleCoils(slave, addr, nb int, values []byte) error
	WriteMultipleRegisters(slave, addr, nb int, values []uint16) error
	MaskWriteRegister(slave, addr int, andMask, orMask uint16) error
	ReadWriteMultipleRegisters(slave, writeAddr, writeNB int, values []uint16, readAddr, readNB int) ([]uint16, error)
	ReportSlaveID(slave int) ([]byte, error)
}

type slaveResult struct {
	bits []byte
	regs []uint16
	raw  []byte
}

// checkAddressBound enforces spec.md §8's "address + nb > 65536" property:
// every address-bearing function code must reject a range that runs past
// the 16-bit address space with ExceptionIllegalDataAddress, computed in
// uint32 so addr+nb can't itself wrap back into range.
func checkAddressBound(addr, nb int) error {
	if uint32(addr)+uint32(nb) > 0x10000 {
		return &ExceptionError{Code: ExceptionIllegalDataAddress}
	}
	return nil
}

// ReceiveIndication validates the first reqLength bytes of the read
// buffer as a request and returns the slave/function/TID it is
// addressed with, for gateway-style callers that forward the raw PDU
// to another device rather than answering it locally (spec.md §4.4's
// preamble, steps 1-2, without the dispatch and response steps).
func (m *Modbus) ReceiveIndication(reqLength int) (SlaveFuncTID, []byte, error) {
	req := m.readBuf
	rc := m.receiveMsgJudge(req, reqLength, Indication)
	if rc < 0 {
		return SlaveFuncTID{}, nil, ErrMalformedFrame
	}
	headerLength := m.backend.HeaderLength()
	sft := SlaveFuncTID{
		Slave:    m.backend.RequestSlave(req),
		Function: req[headerLength],
		TID:      m.backend.PrepareResponseTID(req),
	}
	return sft, req[headerLength+1 : rc-m.backend.ChecksumLength()], nil
}

// SerializeRawResponse formats a function-code-plus-payload reply to
// sft into the send buffer (the forwarding counterpart of
// SerializeRawRequest, preserving the original request's TID instead of
// advancing the backend's own counter) and returns its framed length.
func (m *Modbus) SerializeRawResponse(sft SlaveFuncTID, raw []byte) (int, error) {
	if len(raw) < 1 || len(raw) > MaxPDULength+1 {
		return -1, ErrBufferTooSmall
	}
	headerLength := m.backend.HeaderLength()
	if len(m.sendBuf) < headerLength+len(raw)+m.backend.ChecksumLength() {
		return -1, ErrBufferTooSmall
	}

	n := m.backend.BuildResponseBasis(SlaveFuncTID{Slave: sft.Slave, Function: raw[0], TID: sft.TID}, m.sendBuf)
	copy(m.sendBuf[n:], raw[1:])
	n += len(raw) - 1

	return m.backend.SendMsgPre(m.sendBuf, n), nil
}

// SlaveHandle implements the server-side dispatch algorithm (spec.md
// §4.4): validate the frame sitting in the first reqLength bytes of the
// read buffer, check it is addressed to us, run the per-function
// preflight and invoke cb, then format a response (or exception, or
// nothing at all for a broadcast) into the send buffer.
//
// It returns the number of bytes written to SendBuf(), or 0 if nothing
// should be sent (address mismatch, broadcast, or an error the caller
// chose to treat as silent). A non-nil error is always accompanied by a
// 0 length and means the frame itself could not be processed; it is
// distinct from an *ExceptionError returned by cb, which SlaveHandle
// turns into a normal exception response.
//
// strict controls address matching: when true (the common case),
// requests not addressed to us or to broadcast are rejected with
// ErrNotForUs; when false, AddressMatch is skipped and every frame is
// dispatched regardless of its slave id, for callers that have already
// established the frame belongs to them by other means.
//
// frameLen, if non-nil, receives the length of the request frame that
// was actually consumed out of reqLength bytes. This lets a caller
// reading from a byte stream that may carry trailing garbage or a
// pipelined next request (spec.md §8 scenario 5) resynchronize by
// advancing only *frameLen bytes rather than all of reqLength.
func (m *Modbus) SlaveHandle(reqLength int, strict bool, cb Callback, frameLen *int) (int, error) {
	req := m.readBuf
	rc := m.receiveMsgJudge(req, reqLength, Indication)
	if rc < 0 {
		return 0, ErrMalformedFrame
	}
	if frameLen != nil {
		*frameLen = rc
	}

	headerLength := m.backend.HeaderLength()
	function := req[headerLength]
	reqSlave := m.backend.RequestSlave(req)

	if strict && !m.backend.AddressMatch(reqSlave) {
		return 0, ErrNotForUs
	}
	broadcast := m.backend.IsBroadcast(reqSlave)

	sft := SlaveFuncTID{
		Slave:    reqSlave,
		Function: function,
		TID:      m.backend.PrepareResponseTID(req),
	}

	result, dispatchErr := m.dispatch(cb, sft, req, headerLength)
	if dispatchErr != nil {
		if broadcast {
			return 0, nil
		}
		var exc *ExceptionError
		if errors.As(dispatchErr, &exc) {
			return m.formatException(sft, exc.Code), nil
		}
		return 0, dispatchErr
	}

	if broadcast {
		return 0, nil
	}
	return m.formatResponse(sft, req, headerLength, result), nil
}

// dispatch runs the per-function quantity/value preflight and invokes
// the matching Callback method (spec.md §4.4 algorithm, steps 3-4).
func (m *Modbus) dispatch(cb Callback, sft SlaveFuncTID, req []byte, headerLength int) (slaveResult, error) {
	switch sft.Function {
	case FuncCodeReadCoils:
		addr, nb := int(uint16BE(req[headerLength+1:])), int(uint16BE(req[headerLength+3:]))
		if nb < 1 || nb > MaxReadBits {
			return slaveResult{}, &ExceptionError{Code: ExceptionIllegalDataValue}
		}
		if err := checkAddressBound(addr, nb); err != nil {
			return slaveResult{}, err
		}
		bits, err := cb.ReadCoils(sft.Slave, addr, nb)
		return slaveResult{bits: bits}, err

	case FuncCodeReadDiscreteInputs:
		addr, nb := int(uint16BE(req[headerLength+1:])), int(uint16BE(req[headerLength+3:]))
		if nb < 1 || nb > MaxReadBits {
			return slaveResult{}, &ExceptionError{Code: ExceptionIllegalDataValue}
		}
		if err := checkAddressBound(addr, nb); err != nil {
			return slaveResult{}, err
		}
		bits, err := cb.ReadDiscreteInputs(sft.Slave, addr, nb)
		return slaveResult{bits: bits}, err

	case FuncCodeReadHoldingRegisters:
		addr, nb := int(uint16BE(req[headerLength+1:])), int(uint16BE(req[headerLength+3:]))
		if nb < 1 || nb > MaxReadRegisters {
			return slaveResult{}, &ExceptionError{Code: ExceptionIllegalDataValue}
		}
		if err := checkAddressBound(addr, nb); err != nil {
			return slaveResult{}, err
		}
		regs, err := cb.ReadHoldingRegisters(sft.Slave, addr, nb)
		return slaveResult{regs: regs}, err

	case FuncCodeReadInputRegisters:
		addr, nb := int(uint16BE(req[headerLength+1:])), int(uint16BE(req[headerLength+3:]))
		if nb < 1 || nb > MaxReadRegisters {
			return slaveResult{}, &ExceptionError{Code: ExceptionIllegalDataValue}
		}
		if err := checkAddressBound(addr, nb); err != nil {
			return slaveResult{}, err
		}
		regs, err := cb.ReadInputRegisters(sft.Slave, addr, nb)
		return slaveResult{regs: regs}, err

	case FuncCodeWriteSingleCoil:
		addr := int(uint16BE(req[headerLength+1:]))
		value := uint16BE(req[headerLength+3:])
		if value != 0x0000 && value != 0xFF00 {
			return slaveResult{}, &ExceptionError{Code: ExceptionIllegalDataValue}
		}
		if err := checkAddressBound(addr, 1); err != nil {
			return slaveResult{}, err
		}
		return slaveResult{}, cb.WriteSingleCoil(sft.Slave, addr, value == 0xFF00)

	case FuncCodeWriteSingleRegister:
		addr := int(uint16BE(req[headerLength+1:]))
		value := uint16BE(req[headerLength+3:])
		if err := checkAddressBound(addr, 1); err != nil {
			return slaveResult{}, err
		}
		return slaveResult{}, cb.WriteSingleRegister(sft.Slave, addr, value)

	case FuncCodeWriteMultipleCoils:
		addr, nb := int(uint16BE(req[headerLength+1:])), int(uint16BE(req[headerLength+3:]))
		if nb < 1 || nb > MaxWriteBits {
			return slaveResult{}, &ExceptionError{Code: ExceptionIllegalDataValue}
		}
		if err := checkAddressBound(addr, nb); err != nil {
			return slaveResult{}, err
		}
		values := make([]byte, nb)
		byteOffset := headerLength + 6
		pos := 0
		for i := 0; i < (nb+7)/8 && pos < nb; i++ {
			b := req[byteOffset+i]
			for bit := 0; bit < 8 && pos < nb; bit++ {
				if b&(1<<uint(bit)) != 0 {
					values[pos] = 1
				}
				pos++
			}
		}
		return slaveResult{}, cb.WriteMultipleCoils(sft.Slave, addr, nb, values)

	case FuncCodeWriteMultipleRegisters:
		addr, nb := int(uint16BE(req[headerLength+1:])), int(uint16BE(req[headerLength+3:]))
		if nb < 1 || nb > MaxWriteRegisters {
			return slaveResult{}, &ExceptionError{Code: ExceptionIllegalDataValue}
		}
		if err := checkAddressBound(addr, nb); err != nil {
			return slaveResult{}, err
		}
		values := make([]uint16, nb)
		offset := headerLength + 6
		for i := 0; i < nb; i++ {
			values[i] = uint16BE(req[offset+2*i:])
		}
		return slaveResult{}, cb.WriteMultipleRegisters(sft.Slave, addr, nb, values)

	case FuncCodeMaskWriteRegister:
		addr := int(uint16BE(req[headerLength+1:]))
		andMask := uint16BE(req[headerLength+3:])
		orMask := uint16BE(req[headerLength+5:])
		if err := checkAddressBound(addr, 1); err != nil {
			return slaveResult{}, err
		}
		return slaveResult{}, cb.MaskWriteRegister(sft.Slave, addr, andMask, orMask)

	case FuncCodeReadWriteMultipleRegisters:
		readAddr, readNB := int(uint16BE(req[headerLength+1:])), int(uint16BE(req[headerLength+3:]))
		writeAddr, writeNB := int(uint16BE(req[headerLength+5:])), int(uint16BE(req[headerLength+7:]))
		if readNB < 1 || readNB > MaxWRReadRegisters || writeNB < 1 || writeNB > MaxWRWriteRegisters {
			return slaveResult{}, &ExceptionError{Code: ExceptionIllegalDataValue}
		}
		if err := checkAddressBound(readAddr, readNB); err != nil {
			return slaveResult{}, err
		}
		if err := checkAddressBound(writeAddr, writeNB); err != nil {
			return slaveResult{}, err
		}
		values := make([]uint16, writeNB)
		offset := headerLength + 10
		for i := 0; i < writeNB; i++ {
			values[i] = uint16BE(req[offset+2*i:])
		}
		regs, err := cb.ReadWriteMultipleRegisters(sft.Slave, writeAddr, writeNB, values, readAddr, readNB)
		return slaveResult{regs: regs}, err

	case FuncCodeReportSlaveID:
		raw, err := cb.ReportSlaveID(sft.Slave)
		return slaveResult{raw: raw}, err

	default:
		return slaveResult{}, &ExceptionError{Code: ExceptionIllegalFunction}
	}
}

// formatResponse writes a successful reply for sft into the send buffer
// and returns its finalised length.
func (m *Modbus) formatResponse(sft SlaveFuncTID, req []byte, headerLength int, result slaveResult) int {
	n := m.backend.BuildResponseBasis(sft, m.sendBuf)

	switch sft.Function {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		n += m.packBits(n, result.bits)

	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters, FuncCodeReadWriteMultipleRegisters:
		n += m.packRegisters(n, result.regs)

	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister:
		copy(m.sendBuf[n:], req[headerLength+1:headerLength+5])
		n += 4

	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		copy(m.sendBuf[n:], req[headerLength+1:headerLength+5])
		n += 4

	case FuncCodeMaskWriteRegister:
		copy(m.sendBuf[n:], req[headerLength+1:headerLength+7])
		n += 6

	case FuncCodeReportSlaveID:
		m.sendBuf[n] = byte(len(result.raw))
		n++
		copy(m.sendBuf[n:], result.raw)
		n += len(result.raw)
	}

	return m.backend.SendMsgPre(m.sendBuf, n)
}

// formatException writes an exception reply (function|0x80, code) into
// the send buffer and returns its finalised length.
func (m *Modbus) formatException(sft SlaveFuncTID, code byte) int {
	excSft := SlaveFuncTID{Slave: sft.Slave, Function: sft.Function | exceptionBit, TID: sft.TID}
	n := m.backend.BuildResponseBasis(excSft, m.sendBuf)
	m.sendBuf[n] = code
	n++
	return m.backend.SendMsgPre(m.sendBuf, n)
}

// packBits writes a 1-byte-count-prefixed, LSB-first bit-packed payload
// at offset n and returns the number of bytes written including the
// count byte.
func (m *Modbus) packBits(n int, bits []byte) int {
	byteCount := len(bits) / 8
	if len(bits)%8 != 0 {
		byteCount++
	}
	m.sendBuf[n] = byte(byteCount)
	written := 1

	pos := 0
	for i := 0; i < byteCount; i++ {
		var b byte
		for bit := 0; bit < 8 && pos < len(bits); bit++ {
			if bits[pos] != 0 {
				b |= 1 << uint(bit)
			}
			pos++
		}
		m.sendBuf[n+written] = b
		written++
	}
	return written
}

// packRegisters writes a 1-byte-count-prefixed, big-endian register
// payload at offset n and returns the number of bytes written including
// the count byte.
func (m *Modbus) packRegisters(n int, regs []uint16) int {
	m.sendBuf[n] = byte(len(regs) * 2)
	written := 1
	for _, r := range regs {
		putUint16BE(m.sendBuf[n+written:], r)
		written += 2
	}
	return written
}
