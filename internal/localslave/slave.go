// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package localslave

import (
	"sync"

	"github.com/ffutop/agile-modbus-go/internal/localslave/model"
	"github.com/ffutop/agile-modbus-go/internal/localslave/persistence"
	"github.com/ffutop/agile-modbus-go/modbus"
	"github.com/ffutop/agile-modbus-go/modbus/local"
	"github.com/ffutop/agile-modbus-go/slaveutil"
)

const maxADUSize = modbus.MaxPDULength + 1

// Request and Response are a function-code-plus-payload pair, matching
// transport.PDU's shape without localslave having to import transport.
type Request struct {
	FunctionCode byte
	Data         []byte
}

type Response struct {
	FunctionCode byte
	Data         []byte
}

// LocalSlave answers requests against a model.DataModel by driving
// modbus.SlaveHandle over a slaveutil.Table, the same dispatch algorithm
// every other transport in this module uses — rather than a hand-written
// function-code switch.
type LocalSlave struct {
	mu      sync.Mutex
	model   *model.DataModel
	storage persistence.Storage
	table   *slaveutil.Table
	engine  *modbus.Modbus
}

// NewLocalSlave builds a LocalSlave over m, persisting writes through
// storage's OnWrite hook.
func NewLocalSlave(m *model.DataModel, storage persistence.Storage) *LocalSlave {
	s := &LocalSlave{model: m, storage: storage}
	s.table = &slaveutil.Table{
		Coils: []slaveutil.BitMapping{{
			Start: 0, End: model.MaxAddress,
			Get: s.getCoils, Set: s.setCoils,
		}},
		DiscreteInputs: []slaveutil.BitMapping{{
			Start: 0, End: model.MaxAddress,
			Get: s.getDiscreteInputs,
		}},
		HoldingRegisters: []slaveutil.RegisterMapping{{
			Start: 0, End: model.MaxAddress,
			Get: s.getHoldingRegisters, Set: s.setHoldingRegisters,
		}},
		InputRegisters: []slaveutil.RegisterMapping{{
			Start: 0, End: model.MaxAddress,
			Get: s.getInputRegisters,
		}},
	}

	backend := local.NewBackend(0)
	s.engine = modbus.NewModbus(backend, make([]byte, maxADUSize), make([]byte, maxADUSize))
	return s
}

// Process runs req through the server dispatch algorithm and returns the
// reply. An error means the request itself could not be parsed; a
// protocol exception comes back as an ordinary Response with the
// exception bit set on FunctionCode, exactly as a real slave would send
// it over the wire.
func (s *LocalSlave) Process(req Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	readBuf := s.engine.ReadBuf()
	readBuf[0] = req.FunctionCode
	copy(readBuf[1:], req.Data)

	n, err := s.engine.SlaveHandle(1+len(req.Data), true, s.table, nil)
	if err != nil {
		return Response{}, err
	}
	if n == 0 {
		return Response{}, nil
	}

	sendBuf := s.engine.SendBuf()
	return Response{FunctionCode: sendBuf[0], Data: append([]byte(nil), sendBuf[1:n]...)}, nil
}

// getCoils and getDiscreteInputs unpack the whole bit range through
// DataModel's own bit-packed Read methods, reusing their validated,
// mutex-protected access instead of touching the backing slices raw.
func (s *LocalSlave) getCoils() []byte {
	return unpackBits(s.model.ReadCoils)
}

func (s *LocalSlave) getDiscreteInputs() []byte {
	return unpackBits(s.model.ReadDiscreteInputs)
}

func unpackBits(read func(address, quantity uint16) ([]byte, error)) []byte {
	const n = model.MaxAddress + 1
	const chunk = 0x4000
	out := make([]byte, n)
	for start := 0; start < n; start += chunk {
		packed, err := read(uint16(start), chunk)
		if err != nil {
			return make([]byte, n)
		}
		for i := 0; i < chunk; i++ {
			if packed[i/8]&(1<<uint(i%8)) != 0 {
				out[start+i] = 1
			}
		}
	}
	return out
}

func (s *LocalSlave) setCoils(index, nb int, values []byte) error {
	byteCount := (nb + 7) / 8
	packed := make([]byte, byteCount)
	for i := 0; i < nb; i++ {
		if values[index+i] != 0 {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	if err := s.model.WriteMultipleCoils(uint16(index), uint16(nb), packed); err != nil {
		return err
	}
	s.storage.OnWrite(model.TableCoils, uint16(index), uint16(nb))
	return nil
}

func (s *LocalSlave) getHoldingRegisters() []uint16 {
	return unpackRegisters(s.model.ReadHoldingRegisters)
}

func (s *LocalSlave) getInputRegisters() []uint16 {
	return unpackRegisters(s.model.ReadInputRegisters)
}

func unpackRegisters(read func(address, quantity uint16) ([]byte, error)) []uint16 {
	const n = model.MaxAddress + 1
	const chunk = 0x4000
	out := make([]uint16, n)
	for start := 0; start < n; start += chunk {
		packed, err := read(uint16(start), chunk)
		if err != nil {
			return make([]uint16, n)
		}
		for i := 0; i < chunk; i++ {
			out[start+i] = uint16(packed[2*i])<<8 | uint16(packed[2*i+1])
		}
	}
	return out
}

func (s *LocalSlave) setHoldingRegisters(index, nb int, values []uint16) error {
	packed := make([]byte, nb*2)
	for i := 0; i < nb; i++ {
		v := values[index+i]
		packed[2*i] = byte(v >> 8)
		packed[2*i+1] = byte(v)
	}
	if err := s.model.WriteMultipleRegisters(uint16(index), uint16(nb), packed); err != nil {
		return err
	}
	s.storage.OnWrite(model.TableHoldingRegisters, uint16(index), uint16(nb))
	return nil
}
