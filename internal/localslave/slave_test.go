// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package localslave_test

import (
	"testing"

	"github.com/ffutop/agile-modbus-go/internal/localslave"
	"github.com/ffutop/agile-modbus-go/internal/localslave/model"
	"github.com/ffutop/agile-modbus-go/internal/localslave/persistence"
	"github.com/ffutop/agile-modbus-go/modbus"
)

func newSlave() *localslave.LocalSlave {
	storage := persistence.NewMemoryStorage()
	m, _ := storage.Load()
	return localslave.NewLocalSlave(m, storage)
}

func pdu(fc byte, data ...byte) localslave.Request {
	return localslave.Request{FunctionCode: fc, Data: data}
}

func TestLocalSlaveWriteThenReadHoldingRegister(t *testing.T) {
	s := newSlave()

	write := pdu(modbus.FuncCodeWriteSingleRegister, 0x00, 0x0A, 0x12, 0x34)
	resp, err := s.Process(write)
	if err != nil {
		t.Fatalf("Process(write): %v", err)
	}
	if resp.FunctionCode != modbus.FuncCodeWriteSingleRegister {
		t.Fatalf("got function code %#x, want %#x", resp.FunctionCode, modbus.FuncCodeWriteSingleRegister)
	}

	read := pdu(modbus.FuncCodeReadHoldingRegisters, 0x00, 0x0A, 0x00, 0x01)
	resp, err = s.Process(read)
	if err != nil {
		t.Fatalf("Process(read): %v", err)
	}
	if resp.FunctionCode != modbus.FuncCodeReadHoldingRegisters {
		t.Fatalf("got function code %#x, want %#x", resp.FunctionCode, modbus.FuncCodeReadHoldingRegisters)
	}
	// byte count, then the register's big-endian value
	if len(resp.Data) != 3 || resp.Data[0] != 2 || resp.Data[1] != 0x12 || resp.Data[2] != 0x34 {
		t.Fatalf("got %#v, want [2 0x12 0x34]", resp.Data)
	}
}

func TestLocalSlaveWriteThenReadCoil(t *testing.T) {
	s := newSlave()

	write := pdu(modbus.FuncCodeWriteSingleCoil, 0x00, 0x05, 0xFF, 0x00)
	if _, err := s.Process(write); err != nil {
		t.Fatalf("Process(write): %v", err)
	}

	read := pdu(modbus.FuncCodeReadCoils, 0x00, 0x00, 0x00, 0x08)
	resp, err := s.Process(read)
	if err != nil {
		t.Fatalf("Process(read): %v", err)
	}
	if len(resp.Data) != 2 || resp.Data[0] != 1 || resp.Data[1] != 1<<5 {
		t.Fatalf("got %#v, want byte count 1 with bit 5 set", resp.Data)
	}
}

func TestLocalSlaveIllegalDataValueException(t *testing.T) {
	s := newSlave()

	// 126 registers exceeds the 125-register read limit (spec.md §6.2).
	read := pdu(modbus.FuncCodeReadHoldingRegisters, 0x00, 0x00, 0x00, 0x7E)
	resp, err := s.Process(read)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	wantFC := modbus.FuncCodeReadHoldingRegisters | 0x80
	if resp.FunctionCode != wantFC {
		t.Fatalf("got function code %#x, want exception %#x", resp.FunctionCode, wantFC)
	}
	if len(resp.Data) != 1 || resp.Data[0] != modbus.ExceptionIllegalDataValue {
		t.Fatalf("got %#v, want illegal data value exception", resp.Data)
	}
}

func TestLocalSlavePersistsThroughOnWrite(t *testing.T) {
	var notified []model.TableType
	storage := &notifyingStorage{Storage: persistence.NewMemoryStorage()}
	m, _ := storage.Load()
	s := localslave.NewLocalSlave(m, storage)

	_, err := s.Process(pdu(modbus.FuncCodeWriteSingleRegister, 0x00, 0x01, 0x00, 0x09))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	notified = storage.tables
	if len(notified) != 1 || notified[0] != model.TableHoldingRegisters {
		t.Fatalf("got %#v, want a single TableHoldingRegisters notification", notified)
	}
}

type notifyingStorage struct {
	persistence.Storage
	tables []model.TableType
}

func (s *notifyingStorage) OnWrite(table model.TableType, address, quantity uint16) {
	s.tables = append(s.tables, table)
	s.Storage.OnWrite(table, address, quantity)
}
