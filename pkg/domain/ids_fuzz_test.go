//go:build go1.18

package domain

import (
	"strings"
	"testing"
)

// FuzzParseTokenID tests that parsing never panics on arbitrary input
// and always returns either a valid ID or an error.
func FuzzParseTokenID(f *testing.F) {
	f.Add("")
	f.Add("1")
	f.Add("0")
	f.Add("18446744073709551615")
	f.Add("18446744073709551616")
	f.Add("-1")
	f.Add("'; DROP TABLE records;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseTokenID(input)
		if err == nil {
			if id.IsZero() {
				t.Error("accepted input produced the zero id")
			}
			roundTrip, err2 := ParseTokenID(id.String())
			if err2 != nil {
				t.Errorf("valid id failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("round-trip changed id value")
			}
		}
	})
}

// FuzzParseAddress verifies accepted addresses are always canonical.
func FuzzParseAddress(f *testing.F) {
	f.Add("")
	f.Add("0x00000000000000000000000000000000000000a1")
	f.Add("0x00000000000000000000000000000000000000A1")
	f.Add("0x0000000000000000000000000000000000000000")
	f.Add("0xzz")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		addr, err := ParseAddress(input)
		if err == nil {
			if addr.IsZero() {
				t.Error("accepted address is zero")
			}
			s := addr.String()
			if !strings.HasPrefix(s, "0x") || len(s) != 42 {
				t.Errorf("accepted address is not canonical: %q", s)
			}
			if s != strings.ToLower(s) {
				t.Errorf("accepted address is not lowercase: %q", s)
			}
			roundTrip, err2 := ParseAddress(s)
			if err2 != nil || roundTrip != addr {
				t.Error("canonical address failed round-trip")
			}
		}
	})
}
