// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kspio

// Checksum calculates the frame checksum: the XOR of the length byte and
// every payload byte.
func Checksum(payload []byte) uint8 {
	sum := uint8(len(payload))
	for _, b := range payload {
		sum ^= b
	}
	return sum
}
