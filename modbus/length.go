// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// MetaLengthHook computes, for a function code outside the canonical
// table, how many bytes must follow the function byte before
// DataLengthHook (or the built-in rule) can determine the variable
// payload size. It fires only in the "default" arms of the
// meta-after-function table (spec.md §4.2). The zero value (nil) means
// "no extension": the built-in default of 0 (indication) / 1
// (confirmation) applies.
type MetaLengthHook func(function byte, dir Direction) int

// DataLengthHook computes the variable-length payload size following the
// meta bytes, for a function code outside the canonical table. It fires
// only in the "default" arms of the data-after-meta table. The zero value
// means "no extension": 0 applies.
type DataLengthHook func(msg []byte, msgLength int, dir Direction) int

// computeMetaLengthAfterFunction implements spec.md §4.2's
// "meta-after-function table".
func computeMetaLengthAfterFunction(function byte, dir Direction, hook MetaLengthHook) int {
	if dir == Indication {
		switch {
		case function <= FuncCodeWriteSingleRegister:
			return 4
		case function == FuncCodeWriteMultipleCoils || function == FuncCodeWriteMultipleRegisters:
			return 5
		case function == FuncCodeMaskWriteRegister:
			return 6
		case function == FuncCodeReadWriteMultipleRegisters:
			return 9
		default:
			// FC 07 (read exception status), FC 17 (report slave id), and
			// any user-defined code.
			if hook != nil {
				return hook(function, dir)
			}
			return 0
		}
	}

	// Confirmation.
	switch function {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters,
		FuncCodeReportSlaveID, FuncCodeReadWriteMultipleRegisters:
		return 1
	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		return 4
	case FuncCodeMaskWriteRegister:
		return 6
	default:
		if hook != nil {
			return hook(function, dir)
		}
		return 1
	}
}

// computeDataLengthAfterMeta implements spec.md §4.2's "data-after-meta
// rule". msg must have at least headerLength+1 bytes; msgLength is the
// caller-observed total so the hook can bound its own reads. The backend's
// checksumLength is added in at the end, per spec.md §4.2's "finally add
// checksum_length" step.
func computeDataLengthAfterMeta(msg []byte, msgLength, headerLength, checksumLength int, dir Direction, hook DataLengthHook) int {
	function := msg[headerLength]
	var length int

	if dir == Indication {
		switch function {
		case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
			length = int(msg[headerLength+5])
		case FuncCodeReadWriteMultipleRegisters:
			length = int(msg[headerLength+9])
		default:
			length = 0
			if hook != nil {
				length = hook(msg, msgLength, dir)
			}
		}
	} else {
		switch function {
		case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
			FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters,
			FuncCodeReportSlaveID, FuncCodeReadWriteMultipleRegisters:
			length = int(msg[headerLength+1])
		default:
			length = 0
			if hook != nil {
				length = hook(msg, msgLength, dir)
			}
		}
	}

	return length + checksumLength
}
