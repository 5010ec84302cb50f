package sign

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/digitorus/pdf"
)

// serializeValue renders a parsed PDF value back into PDF syntax.
//
// The reader resolves indirect references transparently, so reference
// detection relies on object identity: a child value that lives in a
// different object than its parent was reached through a reference and
// is re-emitted as one, keeping the incremental update from inlining
// shared objects.
func serializeValue(v pdf.Value, parent pdf.Ptr) string {
	ptr := v.GetPtr()
	if ptr.GetID() != 0 && ptr.GetID() != parent.GetID() {
		return fmt.Sprintf("%d %d R", ptr.GetID(), ptr.GetGen())
	}
	return serializeDirect(v, ptr)
}

func serializeDirect(v pdf.Value, parent pdf.Ptr) string {
	switch v.Kind() {
	case pdf.Null:
		return "null"
	case pdf.Bool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case pdf.Integer:
		return strconv.FormatInt(v.Int64(), 10)
	case pdf.Real:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case pdf.String:
		return hexString([]byte(v.RawString()))
	case pdf.Name:
		return "/" + escapeName(v.Name())
	case pdf.Array:
		parts := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			parts = append(parts, serializeValue(v.Index(i), parent))
		}
		return "[" + strings.Join(parts, " ") + "]"
	case pdf.Dict, pdf.Stream:
		// A direct stream cannot be re-emitted; streams are always
		// indirect in well-formed files and caught by the reference
		// check above. The dictionary part is the best we can do.
		var b strings.Builder
		b.WriteString("<<")
		for _, key := range v.Keys() {
			b.WriteString(" /")
			b.WriteString(escapeName(key))
			b.WriteString(" ")
			b.WriteString(serializeValue(v.Key(key), parent))
		}
		b.WriteString(" >>")
		return b.String()
	}
	return "null"
}

// hexString renders bytes as a PDF hexadecimal string literal.
func hexString(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b)*2 + 2)
	sb.WriteByte('<')
	const hexdigits = "0123456789ABCDEF"
	for _, c := range b {
		sb.WriteByte(hexdigits[c>>4])
		sb.WriteByte(hexdigits[c&0xf])
	}
	sb.WriteByte('>')
	return sb.String()
}

// literalString renders a PDF literal string with the required escapes.
func literalString(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('(')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '(', ')', '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

// escapeName escapes characters that cannot appear verbatim in a name.
func escapeName(name string) string {
	var sb strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c > '~' || strings.IndexByte("()<>[]{}/%#", c) >= 0 {
			fmt.Fprintf(&sb, "#%02X", c)
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
