// Package learning defines the records and statistics the learning engine
// builds its recommendation table from.
package learning

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zeebo/blake3"
)

// maxLiteralLen bounds string requirement values that are kept verbatim in
// a signature; longer strings only contribute their category.
const maxLiteralLen = 32

// Signature identifies the shape of a task for learning purposes.
type Signature struct {
	Key   string `json:"key"`
	Shape string `json:"shape"`
}

// Sign derives the signature of a task from its requirements and
// description. Keys are sorted, values reduced to coarse categories, so
// equal shapes always hash to the same key.
func Sign(description string, requirements map[string]any) Signature {
	keys := make([]string, 0, len(requirements))
	for k := range requirements {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := blake3.New()
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		k, c := strings.ToLower(k), category(requirements[k])
		writeField(h, k)
		writeField(h, c)
		parts = append(parts, k+"="+c)
	}
	d := lengthBucket(description)
	writeField(h, "")
	writeField(h, d)
	parts = append(parts, "desc="+d)

	sum := h.Sum(nil)
	return Signature{Key: hex.EncodeToString(sum[:16]), Shape: strings.Join(parts, ";")}
}

// writeField hashes s with a length prefix, so no field boundary can be
// forged by the field contents. Shape is for display only.
func writeField(h *blake3.Hasher, s string) {
	var n [binary.MaxVarintLen64]byte
	_, _ = h.Write(n[:binary.PutUvarint(n[:], uint64(len(s)))])
	_, _ = h.WriteString(s)
}

func category(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return fmt.Sprintf("bool:%t", x)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return "number"
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		if s == "" {
			return "empty"
		}
		if utf8.RuneCountInString(s) <= maxLiteralLen && strings.IndexFunc(s, unicode.IsSpace) < 0 {
			return "str:" + s
		}
		return "text"
	case []any, []string:
		return "list"
	case map[string]any:
		return "map"
	default:
		return "other"
	}
}

func lengthBucket(s string) string {
	switch n := utf8.RuneCountInString(strings.TrimSpace(s)); {
	case n < 80:
		return "short"
	case n < 400:
		return "medium"
	default:
		return "long"
	}
}
