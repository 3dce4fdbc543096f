// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package local_test

import (
	"testing"

	"github.com/ffutop/agile-modbus-go/modbus"
	"github.com/ffutop/agile-modbus-go/modbus/local"
	"github.com/ffutop/agile-modbus-go/slaveutil"
)

func TestLocalBackendRoundTrip(t *testing.T) {
	backend := local.NewBackend(0)
	client := modbus.NewModbus(backend, make([]byte, 256), make([]byte, 256))
	server := modbus.NewModbus(local.NewBackend(0), make([]byte, 256), make([]byte, 256))

	regs := []uint16{0, 0, 0, 7}
	table := &slaveutil.Table{
		HoldingRegisters: []slaveutil.RegisterMapping{{
			Start: 0, End: 3,
			Get: func() []uint16 { return regs },
		}},
	}

	reqLen, err := client.SerializeReadRegisters(3, 1)
	if err != nil {
		t.Fatalf("SerializeReadRegisters: %v", err)
	}

	copy(server.ReadBuf(), client.SendBuf()[:reqLen])
	n, err := server.SlaveHandle(reqLen, true, table, nil)
	if err != nil {
		t.Fatalf("SlaveHandle: %v", err)
	}
	copy(client.ReadBuf(), server.SendBuf()[:n])

	dest := make([]uint16, 1)
	count, err := client.DeserializeReadRegisters(n, dest)
	if err != nil {
		t.Fatalf("DeserializeReadRegisters: %v", err)
	}
	if count != 1 || dest[0] != 7 {
		t.Fatalf("got %#v, want [7]", dest)
	}
}

func TestLocalBackendAlwaysMatchesAndNeverBroadcasts(t *testing.T) {
	b := local.NewBackend(5)
	if !b.AddressMatch(0) || !b.AddressMatch(99) {
		t.Fatalf("local backend must match every request slave")
	}
	if b.IsBroadcast(0) {
		t.Fatalf("local backend has no broadcast concept")
	}
	if got := b.HeaderLength(); got != 0 {
		t.Fatalf("HeaderLength() = %d, want 0", got)
	}
	if got := b.ChecksumLength(); got != 0 {
		t.Fatalf("ChecksumLength() = %d, want 0", got)
	}
}
