package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/storefront/catalog"
	"github.com/warp/storefront/permit"
)

const spender = "0x00000000000000000000000000000000000000bb"

func runJSON(t *testing.T, now time.Time, args ...string) map[string]any {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, run(args, &out, now))
	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	return got
}

func TestGenerateThenAddress(t *testing.T) {
	generated := runJSON(t, time.Now(), "generate")
	seed := generated["seed"].(string)

	addr := runJSON(t, time.Now(), "address", "-seed", seed)

	assert.Equal(t, generated["address"], addr["address"])
}

func TestSignPermit_Verifies(t *testing.T) {
	key, err := permit.GenerateKey()
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	got := runJSON(t, now, "sign-permit",
		"-seed", key.Seed(), "-domain", "shop", "-spender", spender, "-value", "50", "-nonce", "2", "-ttl", "30m")

	deadline := int64(got["deadline"].(float64))
	assert.Equal(t, now.Add(30*time.Minute).Unix(), deadline)
	err = permit.Verify(catalog.Signature(got["signature"].(string)), permit.Approval{
		Domain:   "shop",
		Holder:   key.Address(),
		Spender:  catalog.MustParseAddress(spender),
		Value:    50,
		Nonce:    2,
		Deadline: time.Unix(deadline, 0),
	})
	assert.NoError(t, err)
}

func TestSignCaller_Verifies(t *testing.T) {
	key, err := permit.GenerateKey()
	require.NoError(t, err)

	got := runJSON(t, time.Now(), "sign-caller", "-seed", key.Seed(), "-audience", "shop")

	addr, err := permit.VerifyCaller(got["token"].(string), "shop")
	require.NoError(t, err)
	assert.Equal(t, key.Address(), addr)
}

func TestRun_Errors(t *testing.T) {
	tests := map[string][]string{
		"no subcommand": nil,
		"unknown":       {"rotate"},
		"bad seed":      {"address", "-seed", "zz"},
		"bad spender":   {"sign-permit", "-seed", "0000000000000000000000000000000000000000000000000000000000000001", "-spender", "bob"},
		"unknown flag":  {"address", "-colour", "red"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, run(args, &bytes.Buffer{}, time.Now()))
		})
	}
}
