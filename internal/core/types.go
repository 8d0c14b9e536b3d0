package core

import (
	"fmt"
	"math"
	"strconv"
)

// DBType is one of the four scalar column kinds a vector can hold.
type DBType string

const (
	TypeText  DBType = "text"
	TypeInt   DBType = "int"
	TypeFloat DBType = "float"
	TypeBool  DBType = "bool"
)

// SQLiteTypeName returns the STRICT-table column affinity used when the
// vector is loaded into the SQL image.
func (t DBType) SQLiteTypeName() string {
	switch t {
	case TypeText:
		return "TEXT"
	case TypeInt:
		return "INTEGER"
	case TypeFloat:
		return "REAL"
	case TypeBool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// ColumnVector is a column-major, type-homogeneous store for one table
// column plus the default value new rows fall back to when no value is
// supplied. Exactly one of the typed slices is populated, selected by Type.
type ColumnVector struct {
	Type DBType

	Strings []string
	Ints    []int64
	Floats  []float64
	Bools   []bool

	hasDefault    bool
	defaultString string
	defaultInt    int64
	defaultFloat  float64
	defaultBool   bool
}

// NewColumnVector returns an empty vector of the given type.
func NewColumnVector(t DBType) *ColumnVector {
	return &ColumnVector{Type: t}
}

// NewLikeThis returns an empty vector sharing this one's type and default.
func (v *ColumnVector) NewLikeThis() *ColumnVector {
	return &ColumnVector{
		Type:          v.Type,
		hasDefault:    v.hasDefault,
		defaultString: v.defaultString,
		defaultInt:    v.defaultInt,
		defaultFloat:  v.defaultFloat,
		defaultBool:   v.defaultBool,
	}
}

// Len reports the number of rows currently stored.
func (v *ColumnVector) Len() int {
	switch v.Type {
	case TypeText:
		return len(v.Strings)
	case TypeInt:
		return len(v.Ints)
	case TypeFloat:
		return len(v.Floats)
	case TypeBool:
		return len(v.Bools)
	default:
		return 0
	}
}

// HasDefaultValue reports whether TrySetDefaultFromString has succeeded.
func (v *ColumnVector) HasDefaultValue() bool { return v.hasDefault }

// TrySetDefaultFromString parses raw against the vector's type and stores
// it as the default value for future PushDefaultValues calls.
func (v *ColumnVector) TrySetDefaultFromString(raw string) error {
	switch v.Type {
	case TypeText:
		v.defaultString = raw
	case TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		v.defaultInt = n
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("NaN or infinite value is not a valid default: %q", raw)
		}
		v.defaultFloat = f
	case TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.defaultBool = b
	}
	v.hasDefault = true
	return nil
}

// PushDefaultValue appends the stored default value once.
func (v *ColumnVector) PushDefaultValue() {
	switch v.Type {
	case TypeText:
		v.Strings = append(v.Strings, v.defaultString)
	case TypeInt:
		v.Ints = append(v.Ints, v.defaultInt)
	case TypeFloat:
		v.Floats = append(v.Floats, v.defaultFloat)
	case TypeBool:
		v.Bools = append(v.Bools, v.defaultBool)
	}
}

// PushDefaultValues appends the stored default value count times.
func (v *ColumnVector) PushDefaultValues(count int) {
	for i := 0; i < count; i++ {
		v.PushDefaultValue()
	}
}

// PushDummyValues appends the type's zero value count times, used as a
// placeholder for columns a generated-column expression will fill in later.
func (v *ColumnVector) PushDummyValues(count int) {
	switch v.Type {
	case TypeText:
		for i := 0; i < count; i++ {
			v.Strings = append(v.Strings, "")
		}
	case TypeInt:
		for i := 0; i < count; i++ {
			v.Ints = append(v.Ints, 0)
		}
	case TypeFloat:
		for i := 0; i < count; i++ {
			v.Floats = append(v.Floats, 0)
		}
	case TypeBool:
		for i := 0; i < count; i++ {
			v.Bools = append(v.Bools, false)
		}
	}
}

// TryParseAndAppend parses each raw value in order and appends it. On a
// parse failure it returns the 0-indexed position within values that
// failed, along with the offending raw string, and appends nothing from
// that position onward (values already appended before the failure stay).
func (v *ColumnVector) TryParseAndAppend(values []string) (failedAt int, failedValue string, err error) {
	for i, raw := range values {
		switch v.Type {
		case TypeText:
			v.Strings = append(v.Strings, raw)
		case TypeInt:
			n, perr := strconv.ParseInt(raw, 10, 64)
			if perr != nil {
				return i, raw, perr
			}
			v.Ints = append(v.Ints, n)
		case TypeFloat:
			f, perr := strconv.ParseFloat(raw, 64)
			if perr != nil {
				return i, raw, perr
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return i, raw, fmt.Errorf("NaN or infinite float values are not allowed")
			}
			v.Floats = append(v.Floats, f)
		case TypeBool:
			b, perr := strconv.ParseBool(raw)
			if perr != nil {
				return i, raw, perr
			}
			v.Bools = append(v.Bools, b)
		}
	}
	return -1, "", nil
}

// SetAt overwrites the value already stored at idx by reparsing raw,
// leaving the vector's length unchanged. Used to replace a placeholder
// dummy value once a generated column's real value is computed, and to
// substitute a value scheduled for replacement.
func (v *ColumnVector) SetAt(idx int, raw string) error {
	switch v.Type {
	case TypeText:
		v.Strings[idx] = raw
	case TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		v.Ints[idx] = n
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("NaN or infinite float values are not allowed")
		}
		v.Floats[idx] = f
	case TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.Bools[idx] = b
	}
	return nil
}

// OverwriteLast replaces the most recently appended value.
func (v *ColumnVector) OverwriteLast(raw string) error {
	return v.SetAt(v.Len()-1, raw)
}

// StringAt renders the value at idx the way row checks and proof offender
// dumps want to see it: plain for text, decimal for numbers, "true" or
// "false" for bools.
func (v *ColumnVector) StringAt(idx int) string {
	switch v.Type {
	case TypeText:
		return v.Strings[idx]
	case TypeInt:
		return strconv.FormatInt(v.Ints[idx], 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Floats[idx], 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.Bools[idx])
	default:
		return ""
	}
}

// AnyAt returns the value at idx boxed as any, for JSON rendering.
func (v *ColumnVector) AnyAt(idx int) any {
	switch v.Type {
	case TypeText:
		return v.Strings[idx]
	case TypeInt:
		return v.Ints[idx]
	case TypeFloat:
		return v.Floats[idx]
	case TypeBool:
		return v.Bools[idx]
	default:
		return nil
	}
}
