// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tlsparse extracts the Server Name Indication from the leading
// bytes of a TCP payload, without assuming the full ClientHello record
// arrived in one segment. It never errors: truncated or malformed input
// simply yields absence.
package tlsparse

import (
	"encoding/binary"
	"strings"
)

const extServerName = 0x0000

// ExtractSNI returns the host name carried in a TLS ClientHello's
// server_name extension, and whether one was found. payload is the raw
// TCP payload of a single captured segment; it may be a truncated prefix
// of the full record. Any out-of-bounds read during the walk returns
// (absence) rather than an error, matching the parser's best-effort
// contract.
func ExtractSNI(payload []byte) (string, bool) {
	if !looksLikeClientHello(payload) {
		return "", false
	}

	cursor := 5 + 4 // record header (5) + handshake header (4)
	cursor += 34    // legacy version (2) + random (32)

	if cursor >= len(payload) {
		return "", false
	}
	sessionIDLen := int(payload[cursor])
	cursor += 1 + sessionIDLen

	if cursor+1 >= len(payload) {
		return "", false
	}
	cipherSuitesLen := int(binary.BigEndian.Uint16(payload[cursor : cursor+2]))
	cursor += 2 + cipherSuitesLen

	if cursor >= len(payload) {
		return "", false
	}
	compMethodsLen := int(payload[cursor])
	cursor += 1 + compMethodsLen

	if cursor+1 >= len(payload) {
		return "", false
	}
	extTotalLen := int(binary.BigEndian.Uint16(payload[cursor : cursor+2]))
	cursor += 2

	end := cursor + extTotalLen
	if end > len(payload) {
		end = len(payload)
	}

	for cursor+4 <= end {
		extType := binary.BigEndian.Uint16(payload[cursor : cursor+2])
		extLen := int(binary.BigEndian.Uint16(payload[cursor+2 : cursor+4]))
		cursor += 4

		if extType == extServerName {
			if name, ok := parseServerNameExtension(payload, cursor, minInt(cursor+extLen, end)); ok {
				return name, true
			}
		}
		cursor += extLen
	}

	return "", false
}

// parseServerNameExtension reads the server_name_list body (RFC 6066 §3)
// starting at start and bounded by end, returning the first host_name
// (name_type 0x00) entry.
func parseServerNameExtension(payload []byte, start, end int) (string, bool) {
	if start+2 > end {
		return "", false
	}
	cursor := start + 2 // skip server_name_list length

	for cursor+3 <= end {
		nameType := payload[cursor]
		nameLen := int(binary.BigEndian.Uint16(payload[cursor+1 : cursor+3]))
		cursor += 3

		if cursor+nameLen > end {
			return "", false
		}

		if nameType == 0x00 {
			return sanitizeUTF8(payload[cursor : cursor+nameLen]), true
		}
		cursor += nameLen
	}

	return "", false
}

// looksLikeClientHello applies the quick gate: TLS Handshake record
// (0x16), major version 3, any minor version, any 2-byte record length,
// and a ClientHello handshake message (0x01).
func looksLikeClientHello(payload []byte) bool {
	return len(payload) >= 6 &&
		payload[0] == 0x16 &&
		payload[1] == 0x03 &&
		payload[5] == 0x01
}

// sanitizeUTF8 decodes b as UTF-8, replacing invalid sequences with the
// Unicode replacement character rather than erroring.
func sanitizeUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
