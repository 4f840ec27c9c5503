package progress

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRecordLayout(t *testing.T) {
	owner := testAuthority(t, 1)
	rec := Record{
		Authority:           owner,
		ChallengesCompleted: 0x010F,
		ModulesCompleted:    0b0001,
		CreatedAt:           baseTime,
		UpdatedAt:           baseTime.Add(time.Hour),
	}

	data := EncodeRecord(rec)
	require.Len(t, data, RecordSize)
	assert.Equal(t, 52, RecordSize)
	assert.Equal(t, SchemaVersion, data[0])
	assert.Equal(t, owner[:], data[1:33])
	assert.Equal(t, []byte{0x0F, 0x01}, data[33:35])
	assert.Equal(t, byte(1), data[35])
	assert.Equal(t, uint64(baseTime.Unix()), binary.LittleEndian.Uint64(data[36:44]))
	assert.Equal(t, uint64(baseTime.Add(time.Hour).Unix()), binary.LittleEndian.Uint64(data[44:52]))

	decoded, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestDecodeRecordRejectsCorruptData(t *testing.T) {
	owner := testAuthority(t, 1)
	valid := EncodeRecord(Record{
		Authority: owner,
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	})

	mutate := func(fn func(b []byte)) []byte {
		b := append([]byte(nil), valid...)
		fn(b)
		return b
	}

	tests := map[string][]byte{
		"short":            valid[:RecordSize-1],
		"long":             append(append([]byte(nil), valid...), 0),
		"unknown version":  mutate(func(b []byte) { b[0] = 2 }),
		"zero authority":   mutate(func(b []byte) { copy(b[1:33], make([]byte, 32)) }),
		"high module bits": mutate(func(b []byte) { b[35] = 0x10 }),
		"module without challenges": mutate(func(b []byte) {
			b[33] = 0x07
			b[35] = 0x01
		}),
		"updated before created": mutate(func(b []byte) {
			binary.LittleEndian.PutUint64(b[44:], uint64(baseTime.Add(-time.Second).Unix()))
		}),
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRecord(data)
			assert.ErrorIs(t, err, ErrCorruptRecord)
		})
	}
}
