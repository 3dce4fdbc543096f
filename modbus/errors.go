// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

// ErrBufferTooSmall is returned when send_bufsz or read_bufsz cannot hold
// the minimum frame a builder/parser needs (spec.md §3 invariants, §7).
var ErrBufferTooSmall = fmt.Errorf("modbus: buffer too small")

// ErrMalformedFrame is returned by the validator and CheckConfirmation on
// any length/CRC/MBAP/function-code mismatch (spec.md §7). It collapses
// "incomplete" and "malformed" into one case, as the original engine does.
var ErrMalformedFrame = fmt.Errorf("modbus: malformed frame")

// ErrNotForUs is returned by the server dispatcher when strict addressing
// is enabled and the frame's slave id matches neither ours nor broadcast.
var ErrNotForUs = fmt.Errorf("modbus: request not addressed to us")

// ExceptionError reports a MODBUS exception response received by a client.
// It is the richer alternative to the legacy `-128-code` return convention
// recommended in spec.md §9.
type ExceptionError struct {
	Code byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception code %d (%s)", e.Code, exceptionName(e.Code))
}

func exceptionName(code byte) string {
	switch code {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	case ExceptionAcknowledge:
		return "acknowledge"
	case ExceptionServerDeviceBusy:
		return "server device busy"
	case ExceptionNegativeAcknowledge:
		return "negative acknowledge"
	case ExceptionMemoryParityError:
		return "memory parity error"
	case ExceptionGatewayPathUnavail:
		return "gateway path unavailable"
	case ExceptionGatewayTargetFailed:
		return "gateway target device failed to respond"
	default:
		return "unknown"
	}
}

// EncodeLegacyReturn maps a (count, err) pair returned by a Deserialize*
// call into the single signed-int convention described in spec.md §7 and
// §9: non-negative counts pass through, exceptions become -128-code, and
// any other error becomes -1. It exists only for callers porting code
// written against the original C calling convention.
func EncodeLegacyReturn(count int, err error) int {
	if err == nil {
		return count
	}
	var exc *ExceptionError
	if errors.As(err, &exc) {
		return -128 - int(exc.Code)
	}
	return -1
}

// DecodeLegacyReturn is the inverse of EncodeLegacyReturn: given the
// signed-int value a Deserialize* call would have returned under the
// legacy convention, it recovers (count, err). ret >= 0 passes through as
// a count with a nil error; ret <= -128 recovers the exception code as
// -128-ret and wraps it in *ExceptionError; any other negative value (in
// practice -1) becomes ErrMalformedFrame, per spec.md §7's single-channel
// collapse of malformed and incomplete.
func DecodeLegacyReturn(ret int) (int, error) {
	if ret >= 0 {
		return ret, nil
	}
	if ret <= -128 {
		return 0, &ExceptionError{Code: byte(-128 - ret)}
	}
	return 0, ErrMalformedFrame
}
