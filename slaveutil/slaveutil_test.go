// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package slaveutil_test

import (
	"testing"

	"github.com/ffutop/agile-modbus-go/modbus"
	"github.com/ffutop/agile-modbus-go/slaveutil"
)

func TestTableReadWriteHoldingRegisters(t *testing.T) {
	regs := make([]uint16, 20)
	table := &slaveutil.Table{
		HoldingRegisters: []slaveutil.RegisterMapping{{
			Start: 0, End: 19,
			Get: func() []uint16 { return regs },
			Set: func(index, nb int, values []uint16) error {
				copy(regs[index:index+nb], values[index:index+nb])
				return nil
			},
		}},
	}

	if err := table.WriteMultipleRegisters(1, 5, 3, []uint16{10, 20, 30}); err != nil {
		t.Fatalf("WriteMultipleRegisters: %v", err)
	}
	if regs[5] != 10 || regs[6] != 20 || regs[7] != 30 {
		t.Fatalf("registers not written: %#v", regs[5:8])
	}

	out, err := table.ReadHoldingRegisters(1, 5, 3)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	want := []uint16{10, 20, 30}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("got %#v, want %#v", out, want)
		}
	}
}

func TestTableReadWriteSpansTwoMappings(t *testing.T) {
	low := make([]uint16, 10)
	high := make([]uint16, 10)
	table := &slaveutil.Table{
		HoldingRegisters: []slaveutil.RegisterMapping{
			{Start: 0, End: 9, Get: func() []uint16 { return low }, Set: func(index, nb int, values []uint16) error {
				copy(low[index:index+nb], values[index:index+nb])
				return nil
			}},
			{Start: 10, End: 19, Get: func() []uint16 { return high }, Set: func(index, nb int, values []uint16) error {
				copy(high[index:index+nb], values[index:index+nb])
				return nil
			}},
		},
	}

	if err := table.WriteMultipleRegisters(1, 8, 4, []uint16{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteMultipleRegisters: %v", err)
	}
	if low[8] != 1 || low[9] != 2 {
		t.Fatalf("low mapping not written: %#v", low[8:10])
	}
	if high[0] != 3 || high[1] != 4 {
		t.Fatalf("high mapping not written: %#v", high[0:2])
	}
}

func TestTableUnmappedAddressReadsZero(t *testing.T) {
	table := &slaveutil.Table{}
	out, err := table.ReadHoldingRegisters(1, 0, 4)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	for _, v := range out {
		if v != 0 {
			t.Fatalf("unmapped address returned non-zero: %#v", out)
		}
	}
}

func TestTableAddrCheckVetoesRequest(t *testing.T) {
	wantErr := &modbus.ExceptionError{Code: modbus.ExceptionIllegalDataAddress}
	table := &slaveutil.Table{
		AddrCheck: func(slave int, function byte, addr, nb int) error {
			return wantErr
		},
	}
	_, err := table.ReadHoldingRegisters(1, 0, 1)
	if err != wantErr {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

func TestTableReportSlaveIDRequiresSpecialFunction(t *testing.T) {
	table := &slaveutil.Table{}
	_, err := table.ReportSlaveID(1)
	exc, ok := err.(*modbus.ExceptionError)
	if !ok || exc.Code != modbus.ExceptionIllegalFunction {
		t.Fatalf("got %v, want illegal function exception", err)
	}

	table.SpecialFunction = func(slave int, function byte, req []byte) ([]byte, error) {
		return []byte("agile-modbus-go"), nil
	}
	out, err := table.ReportSlaveID(1)
	if err != nil {
		t.Fatalf("ReportSlaveID: %v", err)
	}
	if string(out) != "agile-modbus-go" {
		t.Fatalf("got %q", out)
	}
}

func TestTableMaskWriteRegister(t *testing.T) {
	regs := []uint16{0x00FF}
	table := &slaveutil.Table{
		HoldingRegisters: []slaveutil.RegisterMapping{{
			Start: 0, End: 0,
			Get: func() []uint16 { return regs },
			Set: func(index, nb int, values []uint16) error {
				copy(regs[index:index+nb], values[index:index+nb])
				return nil
			},
		}},
	}

	if err := table.MaskWriteRegister(1, 0, 0xF0F0, 0x0F0F); err != nil {
		t.Fatalf("MaskWriteRegister: %v", err)
	}
	// result = (current & andMask) | (orMask &^ andMask)
	//        = (0x00FF & 0xF0F0) | (0x0F0F &^ 0xF0F0) = 0x00F0 | 0x0F0F = 0x0FFF
	if regs[0] != 0x0FFF {
		t.Fatalf("got %#x, want 0x0fff", regs[0])
	}
}
