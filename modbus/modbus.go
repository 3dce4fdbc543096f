// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// Modbus is a single codec instance: a backend, a pair of caller-owned
// buffers, and the two optional length-extension hooks (spec.md §3
// "Engine state"). One instance carries both the client-side
// serialize/deserialize operations and the server-side dispatcher; callers
// that only ever act as client or only as server simply never call the
// other half.
//
// Modbus never does I/O and is not safe for concurrent use by multiple
// goroutines without external synchronisation — spec.md §5 "Concurrency
// & Resource Model". Framing works in the caller's buffers; SlaveHandle's
// dispatcher does allocate, for the decoded write values it passes to the
// Callback.
type Modbus struct {
	backend Backend

	sendBuf []byte
	readBuf []byte

	metaLengthHook MetaLengthHook
	dataLengthHook DataLengthHook
}

// NewModbus constructs a codec instance over caller-owned send and receive
// buffers and a chosen backend. The buffers are held for the lifetime of
// the instance; the engine never reslices or reallocates them.
func NewModbus(backend Backend, sendBuf, readBuf []byte) *Modbus {
	return &Modbus{
		backend: backend,
		sendBuf: sendBuf,
		readBuf: readBuf,
	}
}

// SetSlave sets the locally configured slave address (RTU: 0 broadcast,
// 1..247 unicast; TCP: any byte, conventionally 0xFF).
func (m *Modbus) SetSlave(slave int) {
	m.backend.SetSlave(slave)
}

// Slave returns the locally configured slave address, or -1 if unset.
func (m *Modbus) Slave() int {
	return m.backend.Slave()
}

// Backend returns the backend this instance was constructed with.
func (m *Modbus) Backend() Backend {
	return m.backend
}

// SendBuf exposes the caller-owned send buffer, e.g. so a transport can
// write out m.SendBuf()[:n] after a successful Serialize call.
func (m *Modbus) SendBuf() []byte {
	return m.sendBuf
}

// ReadBuf exposes the caller-owned receive buffer for the transport to
// fill before calling a Deserialize or SlaveHandle method.
func (m *Modbus) ReadBuf() []byte {
	return m.readBuf
}

// SetMetaLengthHook installs the meta-after-function extension hook
// (spec.md §4.2 "Extension hooks").
func (m *Modbus) SetMetaLengthHook(hook MetaLengthHook) {
	m.metaLengthHook = hook
}

// SetDataLengthHook installs the data-after-meta extension hook.
func (m *Modbus) SetDataLengthHook(hook DataLengthHook) {
	m.dataLengthHook = hook
}

// minRequestLength is the header + function + addr/nb + checksum minimum
// every standard builder/parser asserts before touching the buffers
// (spec.md §3 invariants).
func (m *Modbus) minRequestLength() int {
	return m.backend.HeaderLength() + 5 + m.backend.ChecksumLength()
}
