// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// This file implements the client codec (spec.md §4.3): one
// Serialize/Deserialize pair per standard function code, plus the raw PDU
// escape hatch. Serialize builds a request into the engine's send buffer
// and returns its length. Deserialize validates a response sitting in the
// read buffer against the request still sitting in the send buffer and
// decodes its payload.

const msgLengthUndefined = -1

// computeResponseLengthFromRequest predicts the exact response frame
// length a well-formed (non-exception) reply to req must have, or
// msgLengthUndefined when the response length is device/payload specific
// and can't be predicted (spec.md's check_confirmation uses this only as
// a fast-path length check; function-code equality still gates).
func (m *Modbus) computeResponseLengthFromRequest(req []byte) int {
	offset := m.backend.HeaderLength()
	var length int

	switch req[offset] {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		nb := int(req[offset+3])<<8 | int(req[offset+4])
		length = 2 + nb/8
		if nb%8 != 0 {
			length++
		}
	case FuncCodeReadWriteMultipleRegisters, FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		nb := int(req[offset+3])<<8 | int(req[offset+4])
		length = 2 + 2*nb
	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		length = 5
	case FuncCodeMaskWriteRegister:
		length = 7
	default:
		return msgLengthUndefined
	}

	return offset + length + m.backend.ChecksumLength()
}

// CheckConfirmation validates a response against the matching request
// (spec.md §4.3 "check_confirmation"). On success it returns the
// function-specific "number of values" (e.g. registers read). On a
// MODBUS exception it returns an *ExceptionError. On any framing
// mismatch it returns ErrMalformedFrame.
func (m *Modbus) CheckConfirmation(req, rsp []byte, rspLength int) (int, error) {
	offset := m.backend.HeaderLength()
	function := rsp[offset]

	if err := m.backend.PreCheckConfirmation(req, rsp, rspLength); err != nil {
		return -1, ErrMalformedFrame
	}

	if function >= exceptionBit {
		if rspLength == offset+2+m.backend.ChecksumLength() && req[offset] == function-exceptionBit {
			return -1, &ExceptionError{Code: rsp[offset+1]}
		}
		return -1, ErrMalformedFrame
	}

	computed := m.computeResponseLengthFromRequest(req)
	if rspLength != computed && computed != msgLengthUndefined {
		return -1, ErrMalformedFrame
	}
	if function != req[offset] {
		return -1, ErrMalformedFrame
	}

	var reqNB, rspNB int
	switch function {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		nb := int(req[offset+3])<<8 | int(req[offset+4])
		reqNB = nb / 8
		if nb%8 != 0 {
			reqNB++
		}
		rspNB = int(rsp[offset+1])
	case FuncCodeReadWriteMultipleRegisters, FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		reqNB = int(req[offset+3])<<8 | int(req[offset+4])
		rspNB = int(rsp[offset+1]) / 2
	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		reqNB = int(req[offset+3])<<8 | int(req[offset+4])
		rspNB = int(rsp[offset+3])<<8 | int(rsp[offset+4])
	case FuncCodeReportSlaveID:
		reqNB = int(rsp[offset+1])
		rspNB = reqNB
	default:
		reqNB, rspNB = 1, 1
	}

	if reqNB != rspNB {
		return -1, ErrMalformedFrame
	}
	return rspNB, nil
}

func (m *Modbus) deserializeCommon(msgLength int) (int, error) {
	if len(m.sendBuf) < m.minRequestLength() {
		return -1, ErrBufferTooSmall
	}
	if msgLength <= 0 || msgLength > len(m.readBuf) {
		return -1, ErrMalformedFrame
	}

	rc := m.receiveMsgJudge(m.readBuf, msgLength, Confirmation)
	if rc < 0 {
		return -1, ErrMalformedFrame
	}
	return m.CheckConfirmation(m.sendBuf, m.readBuf, rc)
}

// --- FC 01: Read Coils -------------------------------------------------

func (m *Modbus) SerializeReadBits(addr, nb int) (int, error) {
	if len(m.sendBuf) < m.minRequestLength() {
		return -1, ErrBufferTooSmall
	}
	if nb > MaxReadBits {
		return -1, ErrBufferTooSmall
	}
	n := m.backend.BuildRequestBasis(FuncCodeReadCoils, uint16(addr), uint16(nb), m.sendBuf)
	return m.backend.SendMsgPre(m.sendBuf, n), nil
}

func (m *Modbus) DeserializeReadBits(msgLength int, dest []byte) (int, error) {
	rc, err := m.deserializeCommon(msgLength)
	if err != nil {
		return rc, err
	}
	return m.unpackBits(rc, dest), nil
}

// --- FC 02: Read Discrete Inputs ---------------------------------------

func (m *Modbus) SerializeReadInputBits(addr, nb int) (int, error) {
	if len(m.sendBuf) < m.minRequestLength() {
		return -1, ErrBufferTooSmall
	}
	if nb > MaxReadBits {
		return -1, ErrBufferTooSmall
	}
	n := m.backend.BuildRequestBasis(FuncCodeReadDiscreteInputs, uint16(addr), uint16(nb), m.sendBuf)
	return m.backend.SendMsgPre(m.sendBuf, n), nil
}

func (m *Modbus) DeserializeReadInputBits(msgLength int, dest []byte) (int, error) {
	rc, err := m.deserializeCommon(msgLength)
	if err != nil {
		return rc, err
	}
	return m.unpackBits(rc, dest), nil
}

// unpackBits unpacks the response payload LSB-first into one byte per
// bit, mirroring agile_modbus_deserialize_read_bits.
func (m *Modbus) unpackBits(rc int, dest []byte) int {
	headerLength := m.backend.HeaderLength()
	nb := int(m.sendBuf[headerLength+3])<<8 | int(m.sendBuf[headerLength+4])

	offset := headerLength + 2
	pos := 0
	for i := offset; i < offset+rc && pos < nb; i++ {
		temp := m.readBuf[i]
		for bit := 0; bit < 8 && pos < nb; bit++ {
			if temp&(1<<uint(bit)) != 0 {
				dest[pos] = 1
			} else {
				dest[pos] = 0
			}
			pos++
		}
	}
	return nb
}

// --- FC 03: Read Holding Registers --------------------------------------

func (m *Modbus) SerializeReadRegisters(addr, nb int) (int, error) {
	if len(m.sendBuf) < m.minRequestLength() {
		return -1, ErrBufferTooSmall
	}
	if nb > MaxReadRegisters {
		return -1, ErrBufferTooSmall
	}
	n := m.backend.BuildRequestBasis(FuncCodeReadHoldingRegisters, uint16(addr), uint16(nb), m.sendBuf)
	return m.backend.SendMsgPre(m.sendBuf, n), nil
}

func (m *Modbus) DeserializeReadRegisters(msgLength int, dest []uint16) (int, error) {
	rc, err := m.deserializeCommon(msgLength)
	if err != nil {
		return rc, err
	}
	m.unpackRegisters(rc, dest)
	return rc, nil
}

// --- FC 04: Read Input Registers ----------------------------------------

func (m *Modbus) SerializeReadInputRegisters(addr, nb int) (int, error) {
	if len(m.sendBuf) < m.minRequestLength() {
		return -1, ErrBufferTooSmall
	}
	if nb > MaxReadRegisters {
		return -1, ErrBufferTooSmall
	}
	n := m.backend.BuildRequestBasis(FuncCodeReadInputRegisters, uint16(addr), uint16(nb), m.sendBuf)
	return m.backend.SendMsgPre(m.sendBuf, n), nil
}

func (m *Modbus) DeserializeReadInputRegisters(msgLength int, dest []uint16) (int, error) {
	rc, err := m.deserializeCommon(msgLength)
	if err != nil {
		return rc, err
	}
	m.unpackRegisters(rc, dest)
	return rc, nil
}

func (m *Modbus) unpackRegisters(rc int, dest []uint16) {
	offset := m.backend.HeaderLength()
	for i := 0; i < rc; i++ {
		dest[i] = uint16(m.readBuf[offset+2+2*i])<<8 | uint16(m.readBuf[offset+3+2*i])
	}
}

// --- FC 05: Write Single Coil --------------------------------------------

func (m *Modbus) SerializeWriteBit(addr int, status bool) (int, error) {
	if len(m.sendBuf) < m.minRequestLength() {
		return -1, ErrBufferTooSmall
	}
	var v uint16
	if status {
		v = 0xFF00
	}
	n := m.backend.BuildRequestBasis(FuncCodeWriteSingleCoil, uint16(addr), v, m.sendBuf)
	return m.backend.SendMsgPre(m.sendBuf, n), nil
}

func (m *Modbus) DeserializeWriteBit(msgLength int) (int, error) {
	return m.deserializeCommon(msgLength)
}

// --- FC 06: Write Single Register -----------------------------------------

func (m *Modbus) SerializeWriteRegister(addr int, value uint16) (int, error) {
	if len(m.sendBuf) < m.minRequestLength() {
		return -1, ErrBufferTooSmall
	}
	n := m.backend.BuildRequestBasis(FuncCodeWriteSingleRegister, uint16(addr), value, m.sendBuf)
	return m.backend.SendMsgPre(m.sendBuf, n), nil
}

func (m *Modbus) DeserializeWriteRegister(msgLength int) (int, error) {
	return m.deserializeCommon(msgLength)
}

// --- FC 15: Write Multiple Coils -------------------------------------------

func (m *Modbus) SerializeWriteBits(addr, nb int, src []byte) (int, error) {
	minLen := m.minRequestLength()
	if len(m.sendBuf) < minLen {
		return -1, ErrBufferTooSmall
	}
	if nb > MaxWriteBits {
		return -1, ErrBufferTooSmall
	}

	reqLength := m.backend.BuildRequestBasis(FuncCodeWriteMultipleCoils, uint16(addr), uint16(nb), m.sendBuf)
	byteCount := nb / 8
	if nb%8 != 0 {
		byteCount++
	}

	if len(m.sendBuf) < minLen+1+byteCount {
		return -1, ErrBufferTooSmall
	}

	m.sendBuf[reqLength] = byte(byteCount)
	reqLength++
	pos := 0
	for i := 0; i < byteCount; i++ {
		var b byte
		for bit := 0; bit < 8 && pos < nb; bit++ {
			if src[pos] != 0 {
				b |= 1 << uint(bit)
			}
			pos++
		}
		m.sendBuf[reqLength] = b
		reqLength++
	}

	return m.backend.SendMsgPre(m.sendBuf, reqLength), nil
}

func (m *Modbus) DeserializeWriteBits(msgLength int) (int, error) {
	return m.deserializeCommon(msgLength)
}

// --- FC 16: Write Multiple Registers ---------------------------------------

func (m *Modbus) SerializeWriteRegisters(addr, nb int, src []uint16) (int, error) {
	minLen := m.minRequestLength()
	if len(m.sendBuf) < minLen {
		return -1, ErrBufferTooSmall
	}
	if nb > MaxWriteRegisters {
		return -1, ErrBufferTooSmall
	}

	reqLength := m.backend.BuildRequestBasis(FuncCodeWriteMultipleRegisters, uint16(addr), uint16(nb), m.sendBuf)
	byteCount := nb * 2

	if len(m.sendBuf) < minLen+1+byteCount {
		return -1, ErrBufferTooSmall
	}

	m.sendBuf[reqLength] = byte(byteCount)
	reqLength++
	for i := 0; i < nb; i++ {
		m.sendBuf[reqLength] = byte(src[i] >> 8)
		m.sendBuf[reqLength+1] = byte(src[i])
		reqLength += 2
	}

	return m.backend.SendMsgPre(m.sendBuf, reqLength), nil
}

func (m *Modbus) DeserializeWriteRegisters(msgLength int) (int, error) {
	return m.deserializeCommon(msgLength)
}

// --- FC 22: Mask Write Register ---------------------------------------------

func (m *Modbus) SerializeMaskWriteRegister(addr int, andMask, orMask uint16) (int, error) {
	if len(m.sendBuf) < m.minRequestLength()+2 {
		return -1, ErrBufferTooSmall
	}

	reqLength := m.backend.BuildRequestBasis(FuncCodeMaskWriteRegister, uint16(addr), 0, m.sendBuf)
	// The basis writer always appends a 2-byte "nb" field meant for
	// read/write requests; mask-write doesn't use it, so back up over it.
	reqLength -= 2

	m.sendBuf[reqLength] = byte(andMask >> 8)
	m.sendBuf[reqLength+1] = byte(andMask)
	m.sendBuf[reqLength+2] = byte(orMask >> 8)
	m.sendBuf[reqLength+3] = byte(orMask)
	reqLength += 4

	return m.backend.SendMsgPre(m.sendBuf, reqLength), nil
}

func (m *Modbus) DeserializeMaskWriteRegister(msgLength int) (int, error) {
	return m.deserializeCommon(msgLength)
}

// --- FC 23: Read/Write Multiple Registers -----------------------------------

func (m *Modbus) SerializeReadWriteMultipleRegisters(writeAddr, writeNB int, src []uint16, readAddr, readNB int) (int, error) {
	minLen := m.minRequestLength()
	if len(m.sendBuf) < minLen {
		return -1, ErrBufferTooSmall
	}
	if writeNB > MaxWRWriteRegisters {
		return -1, ErrBufferTooSmall
	}
	if readNB > MaxWRReadRegisters {
		return -1, ErrBufferTooSmall
	}

	reqLength := m.backend.BuildRequestBasis(FuncCodeReadWriteMultipleRegisters, uint16(readAddr), uint16(readNB), m.sendBuf)
	byteCount := writeNB * 2

	if len(m.sendBuf) < minLen+5+byteCount {
		return -1, ErrBufferTooSmall
	}

	putUint16BE(m.sendBuf[reqLength:], uint16(writeAddr))
	putUint16BE(m.sendBuf[reqLength+2:], uint16(writeNB))
	m.sendBuf[reqLength+4] = byte(byteCount)
	reqLength += 5
	for i := 0; i < writeNB; i++ {
		m.sendBuf[reqLength] = byte(src[i] >> 8)
		m.sendBuf[reqLength+1] = byte(src[i])
		reqLength += 2
	}

	return m.backend.SendMsgPre(m.sendBuf, reqLength), nil
}

func (m *Modbus) DeserializeReadWriteMultipleRegisters(msgLength int, dest []uint16) (int, error) {
	rc, err := m.deserializeCommon(msgLength)
	if err != nil {
		return rc, err
	}
	m.unpackRegisters(rc, dest)
	return rc, nil
}

// --- FC 17: Report Slave ID --------------------------------------------------

func (m *Modbus) SerializeReportSlaveID() (int, error) {
	if len(m.sendBuf) < m.minRequestLength() {
		return -1, ErrBufferTooSmall
	}
	reqLength := m.backend.BuildRequestBasis(FuncCodeReportSlaveID, 0, 0, m.sendBuf)
	// Addr and count fields are unused by this request; drop them.
	reqLength -= 4
	return m.backend.SendMsgPre(m.sendBuf, reqLength), nil
}

// DeserializeReportSlaveID copies up to len(dest) bytes of the payload
// that follows the byte count (slave id, run indicator and data, as raw
// bytes) and returns the byte count the response carried.
func (m *Modbus) DeserializeReportSlaveID(msgLength int, dest []byte) (int, error) {
	if len(dest) == 0 {
		return -1, ErrBufferTooSmall
	}
	rc, err := m.deserializeCommon(msgLength)
	if err != nil {
		return rc, err
	}

	offset := m.backend.HeaderLength() + 2
	n := rc
	if n > len(dest) {
		n = len(dest)
	}
	copy(dest[:n], m.readBuf[offset:offset+n])
	return rc, nil
}

// --- Raw PDU escape hatch ----------------------------------------------------

// SerializeRawRequest wraps a caller-assembled PDU (slave-less; function
// code first) in framing and returns the ready-to-send length. raw must be
// 2..MaxPDULength+1 bytes (spec.md §4.3 "Raw request/response API").
func (m *Modbus) SerializeRawRequest(raw []byte) (int, error) {
	if len(raw) < 2 || len(raw) > MaxPDULength+1 {
		return -1, ErrBufferTooSmall
	}
	headerLength := m.backend.HeaderLength()
	if len(m.sendBuf) < headerLength+len(raw)+m.backend.ChecksumLength() || len(m.sendBuf) < m.minRequestLength() {
		return -1, ErrBufferTooSmall
	}

	n := m.backend.BuildRequestBasis(raw[0], 0, 0, m.sendBuf)
	// Addr and count fields are replaced by the caller's payload.
	n -= 4
	copy(m.sendBuf[n:], raw[1:])
	n += len(raw) - 1

	return m.backend.SendMsgPre(m.sendBuf, n), nil
}

// DeserializeRawResponse runs the validator and CheckConfirmation with no
// payload decoding, for caller-defined function codes.
func (m *Modbus) DeserializeRawResponse(msgLength int) (int, error) {
	return m.deserializeCommon(msgLength)
}
