package serialize

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edl/internal/core"
)

func buildSingleColumnDB(t *testing.T) *core.Database {
	t.Helper()
	col := &core.DataColumn{Name: "id", Vector: core.NewColumnVector(core.TypeInt), Key: core.KeyType{Kind: core.Primary}}
	_, _, err := col.Vector.TryParseAndAppend([]string{"1", "2", "3"})
	require.NoError(t, err)
	table := &core.DataTable{Name: "accounts", Columns: []*core.DataColumn{col}}
	return &core.Database{Tables: []*core.DataTable{table}}
}

func TestDumpFrameRoundTripsAndChecksums(t *testing.T) {
	db := buildSingleColumnDB(t)
	out, err := Dump(db)
	require.NoError(t, err)
	require.True(t, len(out) > 16)

	body, sumBytes := out[:len(out)-8], out[len(out)-8:]
	wantSum := binary.LittleEndian.Uint64(sumBytes)
	assert.Equal(t, wantSum, xxhash.Sum64(body))

	sizePrefix, compressed := body[:8], body[8:]
	decompressedSize := binary.LittleEndian.Uint64(sizePrefix)

	decompressed := make([]byte, decompressedSize)
	n, err := lz4.UncompressBlock(compressed, decompressed)
	require.NoError(t, err)
	assert.Equal(t, int(decompressedSize), n)

	assert.Equal(t, dumpColumns(db), decompressed)
}

func TestDumpColumnsOmitsForeignKeyAndParentPrimaryFromScalarSection(t *testing.T) {
	fk := &core.DataColumn{
		Name:       "account_id",
		Vector:     core.NewColumnVector(core.TypeText),
		ForeignKey: &core.ForeignKey{ForeignTable: "accounts"},
	}
	fk.ForeignIndex = []int{0, 1}
	_, _, err := fk.Vector.TryParseAndAppend([]string{"a1", "a2"})
	require.NoError(t, err)

	plain := &core.DataColumn{Name: "amount", Vector: core.NewColumnVector(core.TypeInt)}
	_, _, err = plain.Vector.TryParseAndAppend([]string{"10", "20"})
	require.NoError(t, err)

	table := &core.DataTable{Name: "transfers", Columns: []*core.DataColumn{plain, fk}}
	db := &core.Database{Tables: []*core.DataTable{table}}

	raw := dumpColumns(db)

	var expected bytes.Buffer
	writeScalarVector(&expected, plain.Vector)
	writeIndexVector(&expected, fk.ForeignIndex)
	assert.Equal(t, expected.Bytes(), raw)
}
