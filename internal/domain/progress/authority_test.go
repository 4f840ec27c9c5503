package progress

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuthority(t *testing.T) {
	a := testAuthority(t, 7)

	parsed, err := ParseAuthority(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	invalid := []string{
		"",
		"not-base58-0OIl",
		"3mJr7AoUXx2Wqd", // decodes to fewer than 32 bytes
		Authority{}.String(),
	}
	for _, s := range invalid {
		_, err := ParseAuthority(s)
		assert.ErrorIs(t, err, ErrInvalidAuthority, "input %q", s)
	}
}

func TestAuthorityJSON(t *testing.T) {
	a := testAuthority(t, 1)

	data, err := json.Marshal(map[string]Authority{"authority": a})
	require.NoError(t, err)
	assert.JSONEq(t, `{"authority":"`+a.String()+`"}`, string(data))

	var out struct {
		Authority Authority `json:"authority"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, a, out.Authority)
}

func TestAddressOf(t *testing.T) {
	a := testAuthority(t, 1)
	b := testAuthority(t, 2)

	assert.Equal(t, AddressOf(a), AddressOf(a))
	assert.NotEqual(t, AddressOf(a), AddressOf(b))
	assert.NotEqual(t, [32]byte(a), [32]byte(AddressOf(a)))
}
