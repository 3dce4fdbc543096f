// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// receiveMsgJudge runs the three-step resolver described in spec.md §4.2
// over msg[0:msgLength] and, if the buffer holds a complete well-formed
// frame, returns its framed length (including checksum). It returns -1 on
// any failure; "incomplete" and "malformed" are not distinguished, per
// the validator contract.
func (m *Modbus) receiveMsgJudge(msg []byte, msgLength int, dir Direction) int {
	remain := msgLength

	if remain > m.backend.MaxADULength() {
		return -1
	}

	headerLength := m.backend.HeaderLength()
	remain -= headerLength + 1
	if remain < 0 {
		return -1
	}

	remain -= computeMetaLengthAfterFunction(msg[headerLength], dir, m.metaLengthHook)
	if remain < 0 {
		return -1
	}

	remain -= computeDataLengthAfterMeta(msg, msgLength, headerLength, m.backend.ChecksumLength(), dir, m.dataLengthHook)
	if remain < 0 {
		return -1
	}

	return m.backend.CheckIntegrity(msg, msgLength-remain)
}

// ReceiveJudge validates the first msgLength bytes of the engine's
// read buffer in the given Direction and returns the framed length
// (including checksum) on success, or -1 on failure (spec.md §6.3).
// Exposed so pipelined/dirty-byte callers can resync without
// re-implementing framing.
func (m *Modbus) ReceiveJudge(msgLength int, dir Direction) int {
	if msgLength <= 0 || msgLength > len(m.readBuf) {
		return -1
	}
	return m.receiveMsgJudge(m.readBuf, msgLength, dir)
}
