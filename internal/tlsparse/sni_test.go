// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tlsparse

import (
	"encoding/binary"
	"math/rand"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func buildClientHello(t *testing.T, sni string) []byte {
	t.Helper()

	var ext []byte
	if sni != "" {
		var list []byte
		list = append(list, 0x00) // name_type: host_name
		nameLen := make([]byte, 2)
		binary.BigEndian.PutUint16(nameLen, uint16(len(sni)))
		list = append(list, nameLen...)
		list = append(list, []byte(sni)...)

		listLen := make([]byte, 2)
		binary.BigEndian.PutUint16(listLen, uint16(len(list)))

		ext = append(ext, 0x00, 0x00) // extension type: server_name
		extData := append(listLen, list...)
		extLen := make([]byte, 2)
		binary.BigEndian.PutUint16(extLen, uint16(len(extData)))
		ext = append(ext, extLen...)
		ext = append(ext, extData...)
	}

	body := []byte{}
	body = append(body, 0x03, 0x03)             // legacy version
	body = append(body, make([]byte, 32)...)    // random
	body = append(body, 0x00)                   // session id len
	body = append(body, 0x00, 0x02, 0x00, 0x2f) // cipher suites len + 1 suite
	body = append(body, 0x01, 0x00)             // compression methods len + 1 method
	extTotalLen := make([]byte, 2)
	binary.BigEndian.PutUint16(extTotalLen, uint16(len(ext)))
	body = append(body, extTotalLen...)
	body = append(body, ext...)

	handshakeLen := make([]byte, 4)
	handshakeLen[0] = 0x01 // msg type: ClientHello
	handshakeLen[1] = byte(len(body) >> 16)
	handshakeLen[2] = byte(len(body) >> 8)
	handshakeLen[3] = byte(len(body))

	recordLen := make([]byte, 2)
	binary.BigEndian.PutUint16(recordLen, uint16(len(handshakeLen)+len(body)))

	record := []byte{0x16, 0x03, 0x01}
	record = append(record, recordLen...)
	record = append(record, handshakeLen...)
	record = append(record, body...)
	return record
}

func TestExtractSNI_ValidHello(t *testing.T) {
	payload := buildClientHello(t, "www.telegram.org")
	sni, ok := ExtractSNI(payload)
	assert.True(t, ok)
	assert.Equal(t, "www.telegram.org", sni)
}

func TestExtractSNI_NoExtensions(t *testing.T) {
	// Scenario 1: well-formed ClientHello record with no extensions block.
	payload := []byte{0x16, 0x03, 0x01, 0x00, 0x05, 0x01, 0x00, 0x00, 0x01, 0x00}
	_, ok := ExtractSNI(payload)
	assert.False(t, ok)
}

func TestExtractSNI_NotTLS(t *testing.T) {
	// Scenario 2: plaintext HTTP request line.
	_, ok := ExtractSNI([]byte("HTTP"))
	assert.False(t, ok)
}

func TestExtractSNI_Empty(t *testing.T) {
	_, ok := ExtractSNI(nil)
	assert.False(t, ok)
}

func TestExtractSNI_TruncatedNeverPanics(t *testing.T) {
	full := buildClientHello(t, "example.com")
	for i := 0; i <= len(full); i++ {
		assert.NotPanics(t, func() {
			ExtractSNI(full[:i])
		})
	}
}

// TestExtractSNI_Totality is the property-based check from the testable
// properties list: every byte string of bounded length either yields
// absence or a valid UTF-8 string, and never panics.
func TestExtractSNI_Totality(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		n := r.Intn(4097)
		buf := make([]byte, n)
		r.Read(buf)

		var sni string
		var ok bool
		assert.NotPanics(t, func() {
			sni, ok = ExtractSNI(buf)
		})
		if ok {
			assert.True(t, utf8.ValidString(sni))
		}
	}
}
