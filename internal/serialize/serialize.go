// Package serialize emits the deterministic columnar binary dump other
// codegens consume: tables sorted by name, columns in a fixed per-table
// order, little-endian length-prefixed vectors, LZ4-framed with a
// prepended decompressed size, and a trailing XXH64 checksum (xxHash's
// 64-bit algorithm, not XXH3).
package serialize

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/pierrec/lz4/v4"

	"edl/internal/core"
)

// Dump serializes db into the final framed byte stream.
func Dump(db *core.Database) ([]byte, error) {
	raw := dumpColumns(db)
	return frame(raw)
}

// dumpColumns concatenates every column's byte encoding in
// serialization-vector order: every data column that is neither a foreign
// key nor ParentPrimary (own Primary/ChildPrimary keys included), then
// foreign-key index columns, then the parent back-pointer, then one
// children_<child> list column per child, then one
// referrers_<table>__<column> list column per referencing column.
func dumpColumns(db *core.Database) []byte {
	var buf bytes.Buffer

	for _, t := range db.TablesSortedByName() {
		for _, c := range t.Columns {
			if c.Key.Kind == core.ParentPrimary || c.ForeignKey != nil {
				continue
			}
			writeScalarVector(&buf, c.Vector)
		}

		for _, c := range t.Columns {
			if c.ForeignKey == nil {
				continue
			}
			writeIndexVector(&buf, c.ForeignIndex)
		}

		if len(t.ParentIndex) > 0 {
			writeIndexVector(&buf, t.ParentIndex)
		}

		for _, child := range db.ChildrenTables(t.Name) {
			writeListIndexVector(&buf, t.ChildrenIndex[child.Name])
		}

		for _, rc := range db.RefereeColumns(t.Name) {
			key := refereeKey(rc)
			writeListIndexVector(&buf, t.ReferrerIndex[key])
		}
	}
	return buf.Bytes()
}

func refereeKey(rc core.RefereeColumn) string {
	return rc.Owner.String() + "__" + rc.Column.Name.String()
}

func writeScalarVector(buf *bytes.Buffer, v *core.ColumnVector) {
	writeLen(buf, v.Len())
	switch v.Type {
	case core.TypeText:
		for _, s := range v.Strings {
			writeLen(buf, len(s))
			buf.WriteString(s)
		}
	case core.TypeInt:
		for _, n := range v.Ints {
			binary.Write(buf, binary.LittleEndian, n)
		}
	case core.TypeFloat:
		for _, f := range v.Floats {
			binary.Write(buf, binary.LittleEndian, f)
		}
	case core.TypeBool:
		for _, b := range v.Bools {
			if b {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	}
}

func writeIndexVector(buf *bytes.Buffer, idx []int) {
	writeLen(buf, len(idx))
	for _, i := range idx {
		binary.Write(buf, binary.LittleEndian, int64(i))
	}
}

func writeListIndexVector(buf *bytes.Buffer, lists [][]int) {
	writeLen(buf, len(lists))
	for _, l := range lists {
		writeLen(buf, len(l))
		for _, i := range l {
			binary.Write(buf, binary.LittleEndian, int64(i))
		}
	}
}

func writeLen(buf *bytes.Buffer, n int) {
	binary.Write(buf, binary.LittleEndian, int64(n))
}

// frame compresses raw with LZ4, prepends its decompressed size as an
// 8-byte LE prefix, then appends an 8-byte LE XXH64 checksum of
// everything written so far (size prefix included).
func frame(raw []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
	var c lz4.Compressor
	n, err := c.CompressBlock(raw, compressed)
	if err != nil {
		return nil, err
	}
	compressed = compressed[:n]

	out := make([]byte, 0, 8+len(compressed)+8)
	sizePrefix := make([]byte, 8)
	binary.LittleEndian.PutUint64(sizePrefix, uint64(len(raw)))
	out = append(out, sizePrefix...)
	out = append(out, compressed...)

	sum := xxhash.Sum64(out)
	sumBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(sumBytes, sum)
	out = append(out, sumBytes...)
	return out, nil
}
