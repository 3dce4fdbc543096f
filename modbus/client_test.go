// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ffutop/agile-modbus-go/modbus"
	"github.com/ffutop/agile-modbus-go/modbus/rtu"
	"github.com/ffutop/agile-modbus-go/modbus/tcp"
	"github.com/ffutop/agile-modbus-go/slaveutil"
)

const bufSize = 256

// newPipe builds a client/server Modbus pair sharing the same backend
// constructor, wired so a serialized client request can be handed
// straight to the server and a serialized server response straight back.
func newPipe(t *testing.T, newBackend func() modbus.Backend, slave int) (client, server *modbus.Modbus) {
	t.Helper()
	client = modbus.NewModbus(newBackend(), make([]byte, bufSize), make([]byte, bufSize))
	server = modbus.NewModbus(newBackend(), make([]byte, bufSize), make([]byte, bufSize))
	client.SetSlave(slave)
	server.SetSlave(slave)
	return client, server
}

// roundTrip carries a serialized client request over to the server,
// dispatches it, and carries the response back, returning the response
// length the client should deserialize against.
func roundTrip(t *testing.T, client, server *modbus.Modbus, cb modbus.Callback, reqLen int) int {
	t.Helper()
	copy(server.ReadBuf(), client.SendBuf()[:reqLen])
	n, err := server.SlaveHandle(reqLen, true, cb, nil)
	if err != nil {
		t.Fatalf("SlaveHandle: %v", err)
	}
	copy(client.ReadBuf(), server.SendBuf()[:n])
	return n
}

func newRegisterTable(nb int) (*slaveutil.Table, []uint16) {
	regs := make([]uint16, nb)
	return &slaveutil.Table{
		HoldingRegisters: []slaveutil.RegisterMapping{{
			Start: 0, End: uint16(nb - 1),
			Get: func() []uint16 { return regs },
			Set: func(index, n int, values []uint16) error {
				copy(regs[index:index+n], values[index:index+n])
				return nil
			},
		}},
	}, regs
}

func TestReadHoldingRegistersRTU(t *testing.T) {
	client, server := newPipe(t, func() modbus.Backend { return rtu.NewBackend() }, 17)
	table, regs := newRegisterTable(10)
	regs[3], regs[4] = 0x1234, 0x5678

	reqLen, err := client.SerializeReadRegisters(3, 2)
	if err != nil {
		t.Fatalf("SerializeReadRegisters: %v", err)
	}

	rspLen := roundTrip(t, client, server, table, reqLen)

	dest := make([]uint16, 2)
	n, err := client.DeserializeReadRegisters(rspLen, dest)
	if err != nil {
		t.Fatalf("DeserializeReadRegisters: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d registers, want 2", n)
	}
	if diff := cmp.Diff([]uint16{0x1234, 0x5678}, dest); diff != "" {
		t.Fatalf("registers mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteHoldingRegistersTCP(t *testing.T) {
	client, server := newPipe(t, func() modbus.Backend { return tcp.NewBackend() }, 0xFF)
	table, regs := newRegisterTable(10)

	reqLen, err := client.SerializeWriteRegisters(5, 3, []uint16{1, 2, 3})
	if err != nil {
		t.Fatalf("SerializeWriteRegisters: %v", err)
	}

	rspLen := roundTrip(t, client, server, table, reqLen)

	n, err := client.DeserializeWriteRegisters(rspLen)
	if err != nil {
		t.Fatalf("DeserializeWriteRegisters: %v", err)
	}
	if n != 3 {
		t.Fatalf("got %d, want 3", n)
	}
	if regs[5] != 1 || regs[6] != 2 || regs[7] != 3 {
		t.Fatalf("registers not written: %#v", regs)
	}
}

func TestReadCoilsRTU(t *testing.T) {
	client, server := newPipe(t, func() modbus.Backend { return rtu.NewBackend() }, 1)
	coils := make([]byte, 16)
	coils[0], coils[2], coils[5] = 1, 1, 1
	table := &slaveutil.Table{
		Coils: []slaveutil.BitMapping{{
			Start: 0, End: 15,
			Get: func() []byte { return coils },
			Set: func(index, nb int, values []byte) error {
				copy(coils[index:index+nb], values[index:index+nb])
				return nil
			},
		}},
	}

	reqLen, err := client.SerializeReadBits(0, 8)
	if err != nil {
		t.Fatalf("SerializeReadBits: %v", err)
	}
	rspLen := roundTrip(t, client, server, table, reqLen)

	dest := make([]byte, 8)
	n, err := client.DeserializeReadBits(rspLen, dest)
	if err != nil {
		t.Fatalf("DeserializeReadBits: %v", err)
	}
	if n != 8 {
		t.Fatalf("got %d bits, want 8", n)
	}
	if dest[0] != 1 || dest[1] != 0 || dest[2] != 1 || dest[5] != 1 {
		t.Fatalf("unexpected bits: %#v", dest)
	}
}

func TestIllegalDataValueException(t *testing.T) {
	client, server := newPipe(t, func() modbus.Backend { return rtu.NewBackend() }, 9)
	table := &slaveutil.Table{}

	// 126 registers exceeds the 125-register read limit (spec.md §6.2). The
	// raw escape hatch is used to get this malformed request past the
	// client's own pre-send validation, so the server's rejection can be
	// exercised.
	raw := []byte{modbus.FuncCodeReadHoldingRegisters, 0x00, 0x00, 0x00, 0x7E}
	reqLen, err := client.SerializeRawRequest(raw)
	if err != nil {
		t.Fatalf("SerializeRawRequest: %v", err)
	}
	rspLen := roundTrip(t, client, server, table, reqLen)

	_, err = client.DeserializeRawResponse(rspLen)
	var exc *modbus.ExceptionError
	if err == nil {
		t.Fatalf("expected an exception, got nil")
	}
	if !asExceptionError(err, &exc) {
		t.Fatalf("expected *modbus.ExceptionError, got %v", err)
	}
	if exc.Code != modbus.ExceptionIllegalDataValue {
		t.Fatalf("got exception code %d, want %d", exc.Code, modbus.ExceptionIllegalDataValue)
	}
}

func TestIllegalDataAddressException(t *testing.T) {
	client, server := newPipe(t, func() modbus.Backend { return rtu.NewBackend() }, 3)
	table, _ := newRegisterTable(4)

	// address 65532 + nb 8 runs past the 16-bit address space.
	reqLen, err := client.SerializeReadRegisters(0xFFFC, 8)
	if err != nil {
		t.Fatalf("SerializeReadRegisters: %v", err)
	}
	rspLen := roundTrip(t, client, server, table, reqLen)

	dest := make([]uint16, 8)
	_, err = client.DeserializeReadRegisters(rspLen, dest)
	var exc *modbus.ExceptionError
	if !asExceptionError(err, &exc) {
		t.Fatalf("expected *modbus.ExceptionError, got %v", err)
	}
	if exc.Code != modbus.ExceptionIllegalDataAddress {
		t.Fatalf("got exception code %d, want %d", exc.Code, modbus.ExceptionIllegalDataAddress)
	}
}

func TestSlaveHandleFrameLenResyncsOverDirtyTrailer(t *testing.T) {
	client, server := newPipe(t, func() modbus.Backend { return rtu.NewBackend() }, 17)
	table, regs := newRegisterTable(4)
	regs[0] = 9

	reqLen, err := client.SerializeReadRegisters(0, 1)
	if err != nil {
		t.Fatalf("SerializeReadRegisters: %v", err)
	}

	// Append trailing garbage, simulating a pipelined or dirty byte stream
	// (spec.md §8 scenario 5): the engine must report where the real frame
	// ended rather than consuming the whole buffer.
	dirty := append(append([]byte(nil), client.SendBuf()[:reqLen]...), 0xAA, 0xAA)
	copy(server.ReadBuf(), dirty)

	var frameLen int
	n, err := server.SlaveHandle(len(dirty), true, table, &frameLen)
	if err != nil {
		t.Fatalf("SlaveHandle: %v", err)
	}
	if frameLen != reqLen {
		t.Fatalf("frameLen = %d, want %d (dirty trailer must not be consumed)", frameLen, reqLen)
	}
	if n == 0 {
		t.Fatalf("expected a response, got none")
	}
}

func TestSlaveHandleNonStrictIgnoresAddressMismatch(t *testing.T) {
	client, server := newPipe(t, func() modbus.Backend { return rtu.NewBackend() }, 17)
	server.SetSlave(99) // server configured for a different slave id than the request
	table, regs := newRegisterTable(4)
	regs[0] = 9

	reqLen, err := client.SerializeReadRegisters(0, 1)
	if err != nil {
		t.Fatalf("SerializeReadRegisters: %v", err)
	}
	copy(server.ReadBuf(), client.SendBuf()[:reqLen])

	if _, err := server.SlaveHandle(reqLen, true, table, nil); err != modbus.ErrNotForUs {
		t.Fatalf("strict mode: got %v, want ErrNotForUs", err)
	}

	n, err := server.SlaveHandle(reqLen, false, table, nil)
	if err != nil {
		t.Fatalf("non-strict SlaveHandle: %v", err)
	}
	if n == 0 {
		t.Fatalf("non-strict mode should dispatch despite address mismatch")
	}
}

func TestBroadcastRequestGetsNoResponse(t *testing.T) {
	client, server := newPipe(t, func() modbus.Backend { return rtu.NewBackend() }, 0)
	table, regs := newRegisterTable(4)
	client.SetSlave(rtu.BroadcastAddress)
	server.SetSlave(12)
	_ = regs

	reqLen, err := client.SerializeWriteRegister(1, 42)
	if err != nil {
		t.Fatalf("SerializeWriteRegister: %v", err)
	}

	copy(server.ReadBuf(), client.SendBuf()[:reqLen])
	n, err := server.SlaveHandle(reqLen, true, table, nil)
	if err != nil {
		t.Fatalf("SlaveHandle: %v", err)
	}
	if n != 0 {
		t.Fatalf("broadcast request produced a response of length %d, want 0", n)
	}
	if regs[1] != 42 {
		t.Fatalf("broadcast write did not apply: %#v", regs)
	}
}

func asExceptionError(err error, target **modbus.ExceptionError) bool {
	exc, ok := err.(*modbus.ExceptionError)
	if ok {
		*target = exc
	}
	return ok
}
