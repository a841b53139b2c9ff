package storage

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-factdb/datalog"
)

func sampleRecord(t int64) TxRecord {
	tx := datalog.ToTx(t)
	e := datalog.MakeEntityID(datalog.PartUser, t)
	return TxRecord{
		T:       t,
		Tx:      tx,
		Instant: time.Date(2013, 2, 1, 10, 0, 0, int(t), time.UTC),
		Datoms: []datalog.Datom{
			{E: tx, A: 50, V: time.Date(2013, 2, 1, 10, 0, 0, int(t), time.UTC), Tx: tx, Added: true},
			{E: e, A: 72, V: "Led Zeppelin", Tx: tx, Added: true},
			{E: e, A: 73, V: big.NewInt(1 << 40), Tx: tx, Added: true},
			{E: e, A: 74, V: uuid.MustParse("678d88b2-87b0-403b-b63d-5da7465aecc3"), Tx: tx, Added: true},
			{E: e, A: 75, V: datalog.MakeEntityID(datalog.PartUser, 1), Tx: tx, Added: false},
		},
	}
}

func TestRecordRoundTrip(t *testing.T) {
	rec := sampleRecord(1001)
	raw, err := EncodeRecord(rec)
	require.NoError(t, err)

	back, err := DecodeRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, rec.T, back.T)
	assert.Equal(t, rec.Tx, back.Tx)
	assert.True(t, rec.Instant.Equal(back.Instant))
	require.Len(t, back.Datoms, len(rec.Datoms))
	for i := range rec.Datoms {
		assert.Equal(t, 0, datalog.CompareDatoms(rec.Datoms[i], back.Datoms[i]), "datom %d: %s vs %s", i, rec.Datoms[i], back.Datoms[i])
	}
}

func TestRecordCorruption(t *testing.T) {
	raw, err := EncodeRecord(sampleRecord(7))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"flipped payload byte", func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }},
		{"flipped checksum", func(b []byte) []byte { b[3] ^= 0x01; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)/2] }},
		{"header only", func(b []byte) []byte { return b[:5] }},
		{"unknown version", func(b []byte) []byte { b[0] = 9; return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corrupt := tt.mutate(append([]byte(nil), raw...))
			_, err := DecodeRecord(corrupt)
			var fault *datalog.StorageFault
			assert.True(t, errors.As(err, &fault), "expected storage fault, got %v", err)
		})
	}
}
