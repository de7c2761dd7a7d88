// File: api/api_test.go
// License: Apache-2.0

package api

import (
	"errors"
	"net/netip"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressImageLayout(t *testing.T) {
	a := NewAddress(netip.MustParseAddrPort("10.1.2.3:8080"))
	require.True(t, a.IsValid())
	want := []byte{0, 1, 0x1f, 0x90, 10, 1, 2, 3, 0, 0, 0, 0, 0, 0, 0, 0}
	if diff := cmp.Diff(want, a.Bytes()); diff != "" {
		t.Fatalf("v4 image mismatch (-want +got):\n%s", diff)
	}

	b := NewAddress(netip.MustParseAddrPort("[::1]:53"))
	raw := b.Bytes()
	require.Len(t, raw, 28)
	assert.Equal(t, byte(2), raw[1])
	assert.Equal(t, byte(53), raw[3])
	assert.Equal(t, byte(1), raw[23])
}

func TestAddressRoundTrip(t *testing.T) {
	for _, s := range []string{"127.0.0.1:1", "[2001:db8::7]:443", "[fe80::1%3]:9"} {
		a, err := ParseAddress(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, a.String())

		b, err := AddressFromBytes(a.Bytes())
		require.NoError(t, err, s)
		assert.True(t, a.Equal(b), s)
	}
}

func TestAddressRejectsBadImages(t *testing.T) {
	_, err := AddressFromBytes([]byte{0})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = AddressFromBytes(make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ParseAddress("localhost:80")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	var zero Address
	assert.False(t, zero.IsValid())
	assert.Equal(t, "<invalid>", zero.String())
	assert.Equal(t, uint16(0), zero.Port())
}

func TestAddressCloneAndName(t *testing.T) {
	a := NewAddress(netip.MustParseAddrPort("192.0.2.1:80"))
	b := a.WithName("example.org")
	assert.Equal(t, "example.org", b.Name())
	assert.Empty(t, a.Name())
	assert.True(t, a.Equal(b))

	raw := b.Bytes()
	raw[4] = 1
	assert.True(t, a.Equal(b), "Bytes must return a copy")
}

func TestErrorCodes(t *testing.T) {
	err := OSError("connect", syscall.ECONNREFUSED).WithContext("addr", "127.0.0.1:1")
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.Equal(t, CodeOS, CodeOf(err))
	assert.NotErrorIs(t, err, ErrTimedOut)
	assert.Contains(t, err.Error(), "connect")

	timed := Wrap(CodeTimedOut, "resolve", errors.New("slow"))
	assert.ErrorIs(t, timed, ErrTimedOut)
	assert.Equal(t, CodeTimedOut, CodeOf(timed))

	assert.Equal(t, CodeOK, CodeOf(nil))
	assert.Equal(t, CodeOS, CodeOf(errors.New("foreign")))
	assert.Equal(t, "peer_closed", CodePeerClosed.String())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cases := map[string]func(*Config){
		"family":   func(c *Config) { c.Family = FamilyUnspec },
		"capacity": func(c *Config) { c.Capacity = 0 },
		"buffer":   func(c *Config) { c.BufferSize = -1 },
		"timeout":  func(c *Config) { c.Timeout = 0 },
		"backlog":  func(c *Config) { c.Backlog = -1 },
		"limits":   func(c *Config) { c.MaxBodyBytes = -1 },
		"bind":     func(c *Config) { c.BindAddress = netip.MustParseAddr("::1") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidArgument)
		})
	}
}
