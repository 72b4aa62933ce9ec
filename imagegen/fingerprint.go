package imagegen

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"sort"
	"strconv"
)

// Fingerprint returns the hex-encoded SHA-256 content key of a generation
// request. Identical (prompt, template, params) inputs always yield the same
// key regardless of map iteration order.
//
// Each segment is length-prefixed so that shifting bytes between the prompt
// and the template cannot produce a collision. Params are serialized in key
// order with a type tag; integral numbers encode the same whether they arrived
// as int or float64 (JSON decoding), so {"seed": 42} and {"seed": 42.0} match.
//
// Returns ErrUnsupportedParam for non-scalar param values.
func Fingerprint(prompt string, template []byte, params map[string]any) (string, error) {
	canon, err := CanonicalParams(params)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	writeSegment(h, []byte(prompt))
	writeSegment(h, template)
	writeSegment(h, canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalParams serializes params deterministically: keys sorted, each
// entry as length-prefixed key followed by a typed scalar value.
func CanonicalParams(params map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []byte
	for _, k := range keys {
		v, err := canonicalScalar(params[k])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrUnsupportedParam, k, err)
		}
		out = appendSegment(out, []byte(k))
		out = appendSegment(out, []byte(v))
	}
	return out, nil
}

func canonicalScalar(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "z:", nil
	case string:
		return "s:" + x, nil
	case bool:
		return "b:" + strconv.FormatBool(x), nil
	case int:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int8:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int16:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int32:
		return "n:" + strconv.FormatInt(int64(x), 10), nil
	case int64:
		return "n:" + strconv.FormatInt(x, 10), nil
	case uint:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return "n:" + strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return "n:" + strconv.FormatUint(x, 10), nil
	case float32:
		return canonicalFloat(float64(x))
	case float64:
		return canonicalFloat(x)
	default:
		return "", fmt.Errorf("type %T", v)
	}
}

func canonicalFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return "n:" + strconv.FormatInt(int64(f), 10), nil
	}
	return "n:" + strconv.FormatFloat(f, 'g', -1, 64), nil
}

func writeSegment(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

func appendSegment(dst, b []byte) []byte {
	dst = binary.BigEndian.AppendUint64(dst, uint64(len(b)))
	return append(dst, b...)
}
