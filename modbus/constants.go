// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus implements a transport-agnostic MODBUS protocol engine: a
// pair of codecs (client and server) that frame, parse, validate and
// dispatch MODBUS ADUs. The package performs no I/O of its own — callers
// own the byte transport and hand the engine buffers plus an observed
// length; the engine only transforms between those buffers and typed
// requests/responses.
package modbus

// Function codes (spec.md §6.1).
const (
	FuncCodeReadCoils                  byte = 0x01
	FuncCodeReadDiscreteInputs         byte = 0x02
	FuncCodeReadHoldingRegisters       byte = 0x03
	FuncCodeReadInputRegisters         byte = 0x04
	FuncCodeWriteSingleCoil            byte = 0x05
	FuncCodeWriteSingleRegister        byte = 0x06
	FuncCodeReadExceptionStatus        byte = 0x07
	FuncCodeWriteMultipleCoils         byte = 0x0F
	FuncCodeWriteMultipleRegisters     byte = 0x10
	FuncCodeReportSlaveID              byte = 0x11
	FuncCodeMaskWriteRegister          byte = 0x16
	FuncCodeReadWriteMultipleRegisters byte = 0x17

	exceptionBit byte = 0x80
)

// MODBUS PDU quantity and size limits (spec.md §6.2).
const (
	MaxPDULength        = 253
	MaxReadBits         = 2000
	MaxWriteBits        = 1968
	MaxReadRegisters    = 125
	MaxWriteRegisters   = 123
	MaxWRWriteRegisters = 121
	MaxWRReadRegisters  = 125

	BroadcastAddress = 0
)

// VersionString identifies this engine build. SlaveHandle does not add it
// to Report Slave ID responses; that payload comes from
// Callback.ReportSlaveID.
const VersionString = "agile-modbus-go"

// Exception codes (spec.md §4.4 "Modbus exception codes").
const (
	ExceptionIllegalFunction      byte = 1
	ExceptionIllegalDataAddress   byte = 2
	ExceptionIllegalDataValue     byte = 3
	ExceptionServerDeviceFailure  byte = 4
	ExceptionAcknowledge          byte = 5
	ExceptionServerDeviceBusy     byte = 6
	ExceptionNegativeAcknowledge  byte = 7
	ExceptionMemoryParityError    byte = 8
	ExceptionGatewayPathUnavail   byte = 10
	ExceptionGatewayTargetFailed  byte = 11
	exceptionUnknown              byte = 0xFF // internal sentinel: "silently drop"
)

// Direction distinguishes server-receiving (indication) from
// client-receiving (confirmation) framing, per spec.md §4.2.
type Direction int

const (
	// Indication is a request arriving at a server.
	Indication Direction = iota
	// Confirmation is a response arriving at a client.
	Confirmation
)
