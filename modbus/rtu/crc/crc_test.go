// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

import "testing"

func TestCRC(t *testing.T) {
	var c CRC
	c.Reset()
	c.PushBytes([]byte{0x02, 0x07})

	if c.Value() != 0x1241 {
		t.Fatalf("crc expected %#04x, actual %#04x", 0x1241, c.Value())
	}
}

func TestCRC_PushByte(t *testing.T) {
	var c CRC
	c.Reset()
	c.PushByte(0x02)
	c.PushByte(0x07)

	if c.Value() != 0x1241 {
		t.Fatalf("crc expected %#04x, actual %#04x", 0x1241, c.Value())
	}
}

func TestCRC_EmptyReset(t *testing.T) {
	var c CRC
	c.Reset()

	if c.Value() != 0xFFFF {
		t.Fatalf("fresh crc expected %#04x, actual %#04x", 0xFFFF, c.Value())
	}
}
