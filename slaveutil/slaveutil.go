// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package slaveutil synthesizes a modbus.Callback from address-range
// tables, so a server doesn't have to hand-write a dispatch switch over
// every function code: it registers one or more address ranges per data
// table, each with a Get/Set pair, and the package walks incoming
// addresses against those ranges the way a real register map would.
package slaveutil

import "github.com/ffutop/agile-modbus-go/modbus"

// BitMapping covers an inclusive address range of coils or discrete
// inputs. Get must return exactly End-Start+1 bytes, one per bit (0 or
// 1). Set receives the full covered range (pre-seeded from Get when Get
// is non-nil) with positions [index, index+nb) freshly written, and
// should apply index/nb against its own backing storage at Start+index.
type BitMapping struct {
	Start, End uint16
	Get        func() []byte
	Set        func(index, nb int, values []byte) error
}

// RegisterMapping is BitMapping's counterpart for holding/input
// registers.
type RegisterMapping struct {
	Start, End uint16
	Get        func() []uint16
	Set        func(index, nb int, values []uint16) error
}

// Table is a modbus.Callback synthesized from per-table address-range
// mappings. The zero value has no ranges and answers every read with
// zeros and every write with a no-op; register ranges as needed.
type Table struct {
	Coils            []BitMapping
	DiscreteInputs   []BitMapping
	HoldingRegisters []RegisterMapping
	InputRegisters   []RegisterMapping

	// AddrCheck, if set, runs before any table lookup and can veto the
	// request with an exception (spec.md's "addr_check hook").
	AddrCheck func(slave int, function byte, addr, nb int) error
	// SpecialFunction answers Report Slave ID (FC 17), with a nil req;
	// it is the only function code routed to it. Other codes outside
	// FC 1,2,3,4,5,6,15,16,22,23 never reach Table: SlaveHandle answers
	// them with ExceptionIllegalFunction.
	SpecialFunction func(slave int, function byte, req []byte) ([]byte, error)
	// Done, if set, is called once per request with the outcome, after
	// the table lookup (and SpecialFunction, if it ran) has completed.
	Done func(slave int, function byte, addr, nb int, err error)
}

var _ modbus.Callback = (*Table)(nil)

func findBitMapping(maps []BitMapping, addr uint16) *BitMapping {
	for i := range maps {
		if addr >= maps[i].Start && addr <= maps[i].End {
			return &maps[i]
		}
	}
	return nil
}

func findRegisterMapping(maps []RegisterMapping, addr uint16) *RegisterMapping {
	for i := range maps {
		if addr >= maps[i].Start && addr <= maps[i].End {
			return &maps[i]
		}
	}
	return nil
}

func (t *Table) check(slave int, function byte, addr, nb int) error {
	if t.AddrCheck == nil {
		return nil
	}
	return t.AddrCheck(slave, function, addr, nb)
}

func (t *Table) readBits(maps []BitMapping, addr, nb int) []byte {
	out := make([]byte, nb)
	for now, i := addr, 0; now < addr+nb; now, i = now+1, i+1 {
		m := findBitMapping(maps, uint16(now))
		if m == nil {
			continue
		}
		mapLen := int(m.End) - now + 1
		if m.Get != nil {
			values := m.Get()
			index := now - int(m.Start)
			needLen := addr + nb - now
			if needLen > mapLen {
				needLen = mapLen
			}
			copy(out[i:i+needLen], values[index:index+needLen])
		}
		now += mapLen - 1
		i += mapLen - 1
	}
	return out
}

func (t *Table) writeBits(maps []BitMapping, addr, nb int, values []byte) error {
	for now, i := addr, 0; now < addr+nb; now, i = now+1, i+1 {
		m := findBitMapping(maps, uint16(now))
		if m == nil {
			continue
		}
		mapLen := int(m.End) - now + 1
		if m.Set != nil {
			var buf []byte
			if m.Get != nil {
				buf = m.Get()
			} else {
				buf = make([]byte, mapLen+(now-int(m.Start)))
			}
			index := now - int(m.Start)
			needLen := addr + nb - now
			if needLen > mapLen {
				needLen = mapLen
			}
			copy(buf[index:index+needLen], values[i:i+needLen])
			if err := m.Set(index, needLen, buf); err != nil {
				return err
			}
		}
		now += mapLen - 1
		i += mapLen - 1
	}
	return nil
}

func (t *Table) readRegisters(maps []RegisterMapping, addr, nb int) []uint16 {
	out := make([]uint16, nb)
	for now, i := addr, 0; now < addr+nb; now, i = now+1, i+1 {
		m := findRegisterMapping(maps, uint16(now))
		if m == nil {
			continue
		}
		mapLen := int(m.End) - now + 1
		if m.Get != nil {
			values := m.Get()
			index := now - int(m.Start)
			needLen := addr + nb - now
			if needLen > mapLen {
				needLen = mapLen
			}
			copy(out[i:i+needLen], values[index:index+needLen])
		}
		now += mapLen - 1
		i += mapLen - 1
	}
	return out
}

func (t *Table) writeRegisters(maps []RegisterMapping, addr, nb int, values []uint16) error {
	for now, i := addr, 0; now < addr+nb; now, i = now+1, i+1 {
		m := findRegisterMapping(maps, uint16(now))
		if m == nil {
			continue
		}
		mapLen := int(m.End) - now + 1
		if m.Set != nil {
			var buf []uint16
			if m.Get != nil {
				buf = m.Get()
			} else {
				buf = make([]uint16, mapLen+(now-int(m.Start)))
			}
			index := now - int(m.Start)
			needLen := addr + nb - now
			if needLen > mapLen {
				needLen = mapLen
			}
			copy(buf[index:index+needLen], values[i:i+needLen])
			if err := m.Set(index, needLen, buf); err != nil {
				return err
			}
		}
		now += mapLen - 1
		i += mapLen - 1
	}
	return nil
}

func (t *Table) done(slave int, function byte, addr, nb int, err error) {
	if t.Done != nil {
		t.Done(slave, function, addr, nb, err)
	}
}

func (t *Table) ReadCoils(slave, addr, nb int) ([]byte, error) {
	if err := t.check(slave, modbus.FuncCodeReadCoils, addr, nb); err != nil {
		t.done(slave, modbus.FuncCodeReadCoils, addr, nb, err)
		return nil, err
	}
	out := t.readBits(t.Coils, addr, nb)
	t.done(slave, modbus.FuncCodeReadCoils, addr, nb, nil)
	return out, nil
}

func (t *Table) ReadDiscreteInputs(slave, addr, nb int) ([]byte, error) {
	if err := t.check(slave, modbus.FuncCodeReadDiscreteInputs, addr, nb); err != nil {
		t.done(slave, modbus.FuncCodeReadDiscreteInputs, addr, nb, err)
		return nil, err
	}
	out := t.readBits(t.DiscreteInputs, addr, nb)
	t.done(slave, modbus.FuncCodeReadDiscreteInputs, addr, nb, nil)
	return out, nil
}

func (t *Table) ReadHoldingRegisters(slave, addr, nb int) ([]uint16, error) {
	if err := t.check(slave, modbus.FuncCodeReadHoldingRegisters, addr, nb); err != nil {
		t.done(slave, modbus.FuncCodeReadHoldingRegisters, addr, nb, err)
		return nil, err
	}
	out := t.readRegisters(t.HoldingRegisters, addr, nb)
	t.done(slave, modbus.FuncCodeReadHoldingRegisters, addr, nb, nil)
	return out, nil
}

func (t *Table) ReadInputRegisters(slave, addr, nb int) ([]uint16, error) {
	if err := t.check(slave, modbus.FuncCodeReadInputRegisters, addr, nb); err != nil {
		t.done(slave, modbus.FuncCodeReadInputRegisters, addr, nb, err)
		return nil, err
	}
	out := t.readRegisters(t.InputRegisters, addr, nb)
	t.done(slave, modbus.FuncCodeReadInputRegisters, addr, nb, nil)
	return out, nil
}

func (t *Table) WriteSingleCoil(slave, addr int, value bool) error {
	if err := t.check(slave, modbus.FuncCodeWriteSingleCoil, addr, 1); err != nil {
		t.done(slave, modbus.FuncCodeWriteSingleCoil, addr, 1, err)
		return err
	}
	var v byte
	if value {
		v = 1
	}
	err := t.writeBits(t.Coils, addr, 1, []byte{v})
	t.done(slave, modbus.FuncCodeWriteSingleCoil, addr, 1, err)
	return err
}

func (t *Table) WriteSingleRegister(slave, addr int, value uint16) error {
	if err := t.check(slave, modbus.FuncCodeWriteSingleRegister, addr, 1); err != nil {
		t.done(slave, modbus.FuncCodeWriteSingleRegister, addr, 1, err)
		return err
	}
	err := t.writeRegisters(t.HoldingRegisters, addr, 1, []uint16{value})
	t.done(slave, modbus.FuncCodeWriteSingleRegister, addr, 1, err)
	return err
}

func (t *Table) WriteMultipleCoils(slave, addr, nb int, values []byte) error {
	if err := t.check(slave, modbus.FuncCodeWriteMultipleCoils, addr, nb); err != nil {
		t.done(slave, modbus.FuncCodeWriteMultipleCoils, addr, nb, err)
		return err
	}
	err := t.writeBits(t.Coils, addr, nb, values)
	t.done(slave, modbus.FuncCodeWriteMultipleCoils, addr, nb, err)
	return err
}

func (t *Table) WriteMultipleRegisters(slave, addr, nb int, values []uint16) error {
	if err := t.check(slave, modbus.FuncCodeWriteMultipleRegisters, addr, nb); err != nil {
		t.done(slave, modbus.FuncCodeWriteMultipleRegisters, addr, nb, err)
		return err
	}
	err := t.writeRegisters(t.HoldingRegisters, addr, nb, values)
	t.done(slave, modbus.FuncCodeWriteMultipleRegisters, addr, nb, err)
	return err
}

func (t *Table) MaskWriteRegister(slave, addr int, andMask, orMask uint16) error {
	if err := t.check(slave, modbus.FuncCodeMaskWriteRegister, addr, 1); err != nil {
		t.done(slave, modbus.FuncCodeMaskWriteRegister, addr, 1, err)
		return err
	}

	m := findRegisterMapping(t.HoldingRegisters, uint16(addr))
	if m == nil || m.Set == nil {
		t.done(slave, modbus.FuncCodeMaskWriteRegister, addr, 1, nil)
		return nil
	}

	var buf []uint16
	if m.Get != nil {
		buf = m.Get()
	} else {
		buf = make([]uint16, addr-int(m.Start)+1)
	}
	index := addr - int(m.Start)
	buf[index] = (buf[index] & andMask) | (orMask &^ andMask)

	err := m.Set(index, 1, buf)
	t.done(slave, modbus.FuncCodeMaskWriteRegister, addr, 1, err)
	return err
}

func (t *Table) ReadWriteMultipleRegisters(slave, writeAddr, writeNB int, values []uint16, readAddr, readNB int) ([]uint16, error) {
	if err := t.check(slave, modbus.FuncCodeReadWriteMultipleRegisters, readAddr, readNB); err != nil {
		t.done(slave, modbus.FuncCodeReadWriteMultipleRegisters, readAddr, readNB, err)
		return nil, err
	}
	if err := t.writeRegisters(t.HoldingRegisters, writeAddr, writeNB, values); err != nil {
		t.done(slave, modbus.FuncCodeReadWriteMultipleRegisters, readAddr, readNB, err)
		return nil, err
	}
	out := t.readRegisters(t.HoldingRegisters, readAddr, readNB)
	t.done(slave, modbus.FuncCodeReadWriteMultipleRegisters, readAddr, readNB, nil)
	return out, nil
}

// ReportSlaveID has no natural address-range mapping; it defers to
// SpecialFunction, matching the C util's "unhandled function code" path.
func (t *Table) ReportSlaveID(slave int) ([]byte, error) {
	if t.SpecialFunction == nil {
		err := &modbus.ExceptionError{Code: modbus.ExceptionIllegalFunction}
		t.done(slave, modbus.FuncCodeReportSlaveID, 0, 0, err)
		return nil, err
	}
	out, err := t.SpecialFunction(slave, modbus.FuncCodeReportSlaveID, nil)
	t.done(slave, modbus.FuncCodeReportSlaveID, 0, 0, err)
	return out, err
}
