// Package value implements the tagged scalar kernel shared by conditions,
// aggregates and the wire codec.
package value

import (
	"fmt"
	"math"
)

// Tag identifies the active representation held by a Value.
type Tag uint8

const (
	None Tag = iota
	Bool
	Int
	Long
	Float
	Double
	Pointer
)

func (t Tag) String() string {
	switch t {
	case None:
		return "none"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Long:
		return "long"
	case Float:
		return "float"
	case Double:
		return "double"
	case Pointer:
		return "pointer"
	default:
		return "unknown"
	}
}

// sizeOf returns the number of bytes backing each tag's representation,
// matching the invariant "len == sizeof(active type)".
func sizeOf(t Tag) int {
	switch t {
	case None:
		return 0
	case Bool:
		return 1
	case Int, Float:
		return 4
	case Long, Double, Pointer:
		return 8
	default:
		return 0
	}
}

// Value is a tagged scalar over {none, bool, int, long, float, double,
// pointer}. The zero Value is None.
type Value struct {
	tag Tag
	buf []byte
}

// New builds a Value from a tag and its native representation.
func New(tag Tag, v interface{}) Value {
	val := Value{tag: tag}
	if tag == None {
		return val
	}
	val.buf = make([]byte, sizeOf(tag))
	switch tag {
	case Bool:
		b := v.(bool)
		if b {
			val.buf[0] = 1
		}
	case Int:
		putInt32(val.buf, int32(v.(int)))
	case Long:
		putInt64(val.buf, int64(toLong(v)))
	case Float:
		putUint32(val.buf, math.Float32bits(float32(toDouble(v))))
	case Double:
		putUint64(val.buf, math.Float64bits(toDouble(v)))
	case Pointer:
		putUint64(val.buf, uint64(v.(uintptr)))
	default:
		panic(fmt.Sprintf("value: unknown tag %v", tag))
	}
	return val
}

func toLong(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	default:
		panic(fmt.Sprintf("value: cannot widen %T to long", v))
	}
}

func toDouble(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		panic(fmt.Sprintf("value: cannot widen %T to double", v))
	}
}

// Tag reports the active representation.
func (v Value) Tag() Tag { return v.tag }

// IsNone reports whether the value holds no data.
func (v Value) IsNone() bool { return v.tag == None }

// Valid checks the data-model invariant: len == sizeof(active type) and
// buf != nil whenever tag != none.
func (v Value) Valid() bool {
	if v.tag == None {
		return true
	}
	return v.buf != nil && len(v.buf) == sizeOf(v.tag)
}

func putInt32(b []byte, x int32)   { putUint32(b, uint32(x)) }
func putInt64(b []byte, x int64)   { putUint64(b, uint64(x)) }
func putUint32(b []byte, x uint32) { b[0], b[1], b[2], b[3] = byte(x), byte(x>>8), byte(x>>16), byte(x>>24) }
func putUint64(b []byte, x uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(x >> (8 * uint(i)))
	}
}
func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func getUint64(b []byte) uint64 {
	var x uint64
	for i := 0; i < 8; i++ {
		x |= uint64(b[i]) << (8 * uint(i))
	}
	return x
}

// Bool returns the boolean representation, valid only when Tag()==Bool.
func (v Value) Bool() bool { return v.buf[0] != 0 }

// Int returns the int32 representation, valid only when Tag()==Int.
func (v Value) Int() int32 { return int32(getUint32(v.buf)) }

// Long returns the int64 representation, valid only when Tag()==Long.
func (v Value) Long() int64 { return int64(getUint64(v.buf)) }

// Float returns the float32 representation, valid only when Tag()==Float.
func (v Value) Float() float32 { return math.Float32frombits(getUint32(v.buf)) }

// Double returns the float64 representation, valid only when Tag()==Double.
func (v Value) Double() float64 { return math.Float64frombits(getUint64(v.buf)) }

// Pointer returns the raw address, valid only when Tag()==Pointer.
func (v Value) Pointer() uintptr { return uintptr(getUint64(v.buf)) }

// AsLong losslessly widens any numeric tag to int64. Pointer widens by
// address value; Bool widens to 0/1.
func (v Value) AsLong() (int64, bool) {
	switch v.tag {
	case Bool:
		if v.Bool() {
			return 1, true
		}
		return 0, true
	case Int:
		return int64(v.Int()), true
	case Long:
		return v.Long(), true
	case Pointer:
		return int64(v.Pointer()), true
	default:
		return 0, false
	}
}

// AsDouble losslessly widens any numeric tag to float64.
func (v Value) AsDouble() (float64, bool) {
	switch v.tag {
	case Bool:
		if v.Bool() {
			return 1, true
		}
		return 0, true
	case Int:
		return float64(v.Int()), true
	case Long:
		return float64(v.Long()), true
	case Float:
		return float64(v.Float()), true
	case Double:
		return v.Double(), true
	default:
		return 0, false
	}
}

// Equal compares two values for equality. None equals only None.
func (v Value) Equal(o Value) bool {
	if v.tag != o.tag {
		// widening equality: compare numerically if both numeric
		lv, lok := v.AsDouble()
		rv, rok := o.AsDouble()
		if lok && rok {
			return lv == rv
		}
		return false
	}
	switch v.tag {
	case None:
		return true
	default:
		if len(v.buf) != len(o.buf) {
			return false
		}
		for i := range v.buf {
			if v.buf[i] != o.buf[i] {
				return false
			}
		}
		return true
	}
}

// Compare returns -1, 0 or 1 ordering v against o, widening through
// float64 for mixed numeric tags. It panics if either side is None or
// non-numeric (callers must check IsNone first).
func (v Value) Compare(o Value) int {
	lv, lok := v.AsDouble()
	rv, rok := o.AsDouble()
	if !lok || !rok {
		panic("value: Compare requires numeric operands")
	}
	switch {
	case lv < rv:
		return -1
	case lv > rv:
		return 1
	default:
		return 0
	}
}

// Add implements the addition used by sum-style aggregates. Both
// operands are widened to the wider of {long, double}; the result
// carries the wider tag.
func (v Value) Add(o Value) Value {
	if v.tag == Double || o.tag == Double || v.tag == Float || o.tag == Float {
		lv, _ := v.AsDouble()
		rv, _ := o.AsDouble()
		return New(Double, lv+rv)
	}
	lv, _ := v.AsLong()
	rv, _ := o.AsLong()
	return New(Long, lv+rv)
}

// Bytes returns the raw backing buffer (read-only view, used by the
// wire codec).
func (v Value) Bytes() []byte { return v.buf }

// FromBytes reconstructs a Value from a tag and raw bytes, used by
// decode paths. It does not copy buf.
func FromBytes(tag Tag, buf []byte) (Value, error) {
	if tag == None {
		return Value{tag: None}, nil
	}
	if len(buf) != sizeOf(tag) {
		return Value{}, fmt.Errorf("value: expected %d bytes for tag %v, got %d", sizeOf(tag), tag, len(buf))
	}
	return Value{tag: tag, buf: buf}, nil
}

func (v Value) String() string {
	switch v.tag {
	case None:
		return "<none>"
	case Bool:
		return fmt.Sprintf("%v", v.Bool())
	case Int:
		return fmt.Sprintf("%d", v.Int())
	case Long:
		return fmt.Sprintf("%d", v.Long())
	case Float:
		return fmt.Sprintf("%g", v.Float())
	case Double:
		return fmt.Sprintf("%g", v.Double())
	case Pointer:
		return fmt.Sprintf("0x%x", v.Pointer())
	default:
		return "<unknown>"
	}
}
