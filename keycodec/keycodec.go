// Package keycodec encodes the typed row keys (string | number) that cross
// the persistence adapter boundary into storage strings, and derives the
// SQL-safe, collision-free table names the adapter uses for a collection's
// rows and tombstones tables.
package keycodec

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tanstack/db-sqlite-persist/errtag"
)

const (
	stringPrefix = "s:"
	numberPrefix = "n:"
)

var (
	errInvalidKey      = errors.New("keycodec: key must be a finite string or number")
	errInvalidEncoding = errors.New("keycodec: encoded key has an unrecognised discriminator")
)

// Kind selects which of a collection's two physical tables a name is being
// derived for.
type Kind byte

const (
	KindRows      Kind = 'c'
	KindTombstone Kind = 't'
)

// Encode maps a string or float64 key to its storage representation. Any
// other Go type, or a non-finite float64 (NaN/±Inf), is rejected.
func Encode(key any) (string, error) {
	switch k := key.(type) {
	case string:
		return stringPrefix + k, nil
	case float64:
		if math.IsNaN(k) || math.IsInf(k, 0) {
			return "", errtag.Tag[errtag.Configuration](
				errInvalidKey,
				errtag.WithMsg("InvalidPersistedStorageKey"),
				errtag.WithDetails("numeric keys must be finite"),
			)
		}
		return numberPrefix + strconv.FormatFloat(k, 'g', -1, 64), nil
	default:
		return "", errtag.Tag[errtag.Configuration](
			errInvalidKey,
			errtag.WithMsg("InvalidPersistedStorageKey"),
			errtag.WithDetails("key must be a string or number"),
		)
	}
}

// Decode reverses Encode, returning a string or float64 depending on the
// discriminator prefix.
func Decode(encoded string) (any, error) {
	switch {
	case strings.HasPrefix(encoded, stringPrefix):
		return strings.TrimPrefix(encoded, stringPrefix), nil
	case strings.HasPrefix(encoded, numberPrefix):
		raw := strings.TrimPrefix(encoded, numberPrefix)
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errtag.Tag[errtag.Configuration](
				err,
				errtag.WithMsg("InvalidPersistedStorageKeyEncoding"),
				errtag.WithDetails("numeric key segment did not parse as a float64"),
			)
		}
		return f, nil
	default:
		return nil, errtag.Tag[errtag.Configuration](
			errInvalidEncoding,
			errtag.WithMsg("InvalidPersistedStorageKeyEncoding"),
			errtag.WithDetails("encoded key must start with 's:' or 'n:'"),
		)
	}
}

// TableName deterministically derives a SQL-safe, lowercase table name for
// the given collection id and table kind. Two calls with the same inputs
// always produce the same output, and distinct collection ids produce
// distinct outputs with overwhelming probability (the full SHA-256 digest,
// lowercase base32-encoded, followed by the hex of its first four bytes).
// The result matches ^[ct]_[a-z2-7]+_[0-9a-z]+$.
func TableName(collectionID string, kind Kind) string {
	sum := sha256.Sum256([]byte(collectionID))

	b32 := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])
	b32 = strings.ToLower(b32)

	hexTail := hex.EncodeToString(sum[:4])

	return string(rune(kind)) + "_" + b32 + "_" + hexTail
}
