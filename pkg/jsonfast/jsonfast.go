/*
Package jsonfast offers a minimal JSON builder optimized for low-allocation encoding paths.
*/
package jsonfast

import "encoding/base64"

// Builder is a minimal JSON builder that operates on a reusable byte slice.
// It avoids allocations by appending directly into the buffer.
// Not a fully general-purpose JSON writer; tailored for known field sets
// such as message envelopes and envelope arrays.
type Builder struct {
	buf []byte
	// first tracks whether a separator is needed at each nesting level.
	first []bool
}

// New creates a new builder with initial capacity.
func New(capacity int) *Builder {
	if capacity <= 0 {
		capacity = 256
	}
	return &Builder{
		buf:   make([]byte, 0, capacity),
		first: make([]bool, 0, 4),
	}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.first = b.first[:0]
}

// Bytes returns the underlying buffer (do not modify after use).
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Len returns the number of encoded bytes so far.
func (b *Builder) Len() int {
	return len(b.buf)
}

// BeginObject starts a JSON object, emitting a separator if needed.
func (b *Builder) BeginObject() {
	b.sep()
	b.buf = append(b.buf, '{')
	b.first = append(b.first, true)
}

// EndObject ends the current JSON object.
func (b *Builder) EndObject() {
	b.buf = append(b.buf, '}')
	b.pop()
}

// BeginArray starts a JSON array, emitting a separator if needed.
func (b *Builder) BeginArray() {
	b.sep()
	b.buf = append(b.buf, '[')
	b.first = append(b.first, true)
}

// EndArray ends the current JSON array.
func (b *Builder) EndArray() {
	b.buf = append(b.buf, ']')
	b.pop()
}

// AddStringField adds a "name":"value" string field with escaping.
func (b *Builder) AddStringField(name, value string) {
	b.fieldName(name)
	b.buf = append(b.buf, '"')
	b.escapeString(value)
	b.buf = append(b.buf, '"')
}

// AddRawJSONField adds a "name":<raw json> field without escaping.
// The value must be valid JSON.
func (b *Builder) AddRawJSONField(name string, rawJSON []byte) {
	b.fieldName(name)
	b.buf = append(b.buf, rawJSON...)
}

// AddIntField adds a "name":int field.
func (b *Builder) AddIntField(name string, v int) {
	b.fieldName(name)
	b.buf = append(b.buf, itoa(v)...)
}

// AddBoolField adds a "name":bool field.
func (b *Builder) AddBoolField(name string, v bool) {
	b.fieldName(name)
	if v {
		b.buf = append(b.buf, "true"...)
	} else {
		b.buf = append(b.buf, "false"...)
	}
}

// AddBase64Field adds a "name":"<std base64>" field, matching how
// encoding/json represents []byte values.
func (b *Builder) AddBase64Field(name string, data []byte) {
	b.fieldName(name)
	b.buf = append(b.buf, '"')
	n := base64.StdEncoding.EncodedLen(len(data))
	off := len(b.buf)
	b.buf = append(b.buf, make([]byte, n)...)
	base64.StdEncoding.Encode(b.buf[off:], data)
	b.buf = append(b.buf, '"')
}

// fieldName emits the separator plus `"name":`.
func (b *Builder) fieldName(name string) {
	b.sep()
	b.buf = append(b.buf, '"')
	b.buf = append(b.buf, name...)
	b.buf = append(b.buf, '"', ':')
}

func (b *Builder) sep() {
	if len(b.first) == 0 {
		return
	}
	if b.first[len(b.first)-1] {
		b.first[len(b.first)-1] = false
		return
	}
	b.buf = append(b.buf, ',')
}

func (b *Builder) pop() {
	if len(b.first) > 0 {
		b.first = b.first[:len(b.first)-1]
	}
}

// escapeString escapes JSON special characters.
func (b *Builder) escapeString(s string) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '"':
			b.buf = append(b.buf, '\\', c)
		case '\b':
			b.buf = append(b.buf, '\\', 'b')
		case '\f':
			b.buf = append(b.buf, '\\', 'f')
		case '\n':
			b.buf = append(b.buf, '\\', 'n')
		case '\r':
			b.buf = append(b.buf, '\\', 'r')
		case '\t':
			b.buf = append(b.buf, '\\', 't')
		default:
			// Control characters (0x00..0x1f) need escaping
			if c < 0x20 {
				// \u00XX
				b.buf = append(b.buf, '\\', 'u', '0', '0', hex[c>>4], hex[c&0x0f])
			} else {
				b.buf = append(b.buf, c)
			}
		}
	}
}

// itoa converts a small int to ascii without allocation.
func itoa(x int) []byte {
	if x == 0 {
		return []byte{'0'}
	}
	var tmp [20]byte
	i := len(tmp)
	neg := x < 0
	u := uint64(x)
	if neg {
		u = uint64(-x)
	}
	for u > 0 {
		i--
		tmp[i] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		i--
		tmp[i] = '-'
	}
	return tmp[i:]
}

var hex = "0123456789abcdef"
