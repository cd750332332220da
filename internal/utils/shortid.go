package utils

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ShortIDHookFunc defines the signature for the NewShortID test hook.
// It returns a ShortID and a boolean indicating whether to override the default generation.
type ShortIDHookFunc func() (id ShortID, override bool)

// NewShortIDHook is a package-level variable that tests can set to override NewShortID behavior.
var NewShortIDHook ShortIDHookFunc

// shortIDSubtype is the custom BSON binary subtype used for ShortID values.
const shortIDSubtype = 0x80

// ShortID is a 6-byte identifier stored as BSON BinData with custom subtype 0x80
// and rendered as 10 characters of Crockford Base32 everywhere else.
type ShortID [6]byte

// NewShortID creates a new random ShortID.
func NewShortID() ShortID {
	if NewShortIDHook != nil {
		if id, override := NewShortIDHook(); override {
			return id
		}
	}

	var id ShortID
	if _, err := rand.Read(id[:]); err != nil {
		// fallback to zeros if random fails
		for i := range id {
			id[i] = 0
		}
	}
	return id
}

// IsZero reports whether the ID is the zero value.
func (id ShortID) IsZero() bool {
	return id == ShortID{}
}

// Crockford Base32 encoding alphabet (uppercase).
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockfordDecodeMap map[byte]byte

func init() {
	crockfordDecodeMap = make(map[byte]byte, 40)
	for i := range crockfordAlphabet {
		crockfordDecodeMap[crockfordAlphabet[i]] = byte(i)
	}

	// Lowercase variants (letters only).
	lower := strings.ToLower(crockfordAlphabet)
	for i := range lower {
		if i >= 10 {
			crockfordDecodeMap[lower[i]] = byte(i)
		}
	}

	// Commonly confused characters.
	crockfordDecodeMap['O'] = crockfordDecodeMap['0']
	crockfordDecodeMap['o'] = crockfordDecodeMap['0']
	crockfordDecodeMap['I'] = crockfordDecodeMap['1']
	crockfordDecodeMap['i'] = crockfordDecodeMap['1']
	crockfordDecodeMap['L'] = crockfordDecodeMap['1']
	crockfordDecodeMap['l'] = crockfordDecodeMap['1']
}

// String returns the Crockford Base32 (uppercase) representation of the ID.
func (id ShortID) String() string {
	// 6 bytes = 48 bits = ceil(48/5) = 10 Base32 characters.
	result := make([]byte, 10)
	var bits, offset uint
	resultIndex := 0

	for i := 0; i < 6; i++ {
		bits |= uint(id[i]) << offset
		offset += 8

		for offset >= 5 {
			result[resultIndex] = crockfordAlphabet[bits&0x1F]
			resultIndex++
			bits >>= 5
			offset -= 5
		}
	}

	if offset > 0 {
		result[resultIndex] = crockfordAlphabet[bits&0x1F]
		resultIndex++
	}

	return string(result[:resultIndex])
}

// ParseShortID converts a Crockford Base32 string back to a 6-byte ShortID.
func ParseShortID(s string) (ShortID, error) {
	if s == "" {
		return ShortID{}, errors.New("empty ShortID string")
	}

	// Remove hyphens and spaces for leniency.
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")

	if len(s) != 10 {
		return ShortID{}, errors.New("invalid ShortID: string length must be 10")
	}

	var bits uint64
	var offset uint
	var id ShortID
	byteIndex := 0

	for i := 0; i < 10; i++ {
		val, ok := crockfordDecodeMap[s[i]]
		if !ok {
			return ShortID{}, errors.New("invalid character in ShortID")
		}

		bits |= uint64(val) << offset
		offset += 5

		for offset >= 8 && byteIndex < 6 {
			id[byteIndex] = byte(bits & 0xFF)
			byteIndex++
			bits >>= 8
			offset -= 8
		}
	}

	if byteIndex != 6 {
		return ShortID{}, errors.New("invalid ShortID: couldn't decode 6 bytes")
	}

	return id, nil
}

// MarshalBSONValue stores the ID as BinData with the custom subtype.
func (id ShortID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(primitive.Binary{
		Subtype: shortIDSubtype,
		Data:    id[:],
	})
}

// UnmarshalBSONValue restores the ID from BinData with the custom subtype.
func (id *ShortID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	var bin primitive.Binary
	if err := raw.Unmarshal(&bin); err != nil {
		return errors.New("invalid BSON value for ShortID: expected binary")
	}
	if bin.Subtype != shortIDSubtype || len(bin.Data) != 6 {
		*id = ShortID{}
		return errors.New("invalid BSON binary data for ShortID: incorrect subtype or length")
	}
	copy((*id)[:], bin.Data)
	return nil
}

// MarshalJSON marshals the ID as a JSON string in Crockford Base32 format.
func (id ShortID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON unmarshals the ID from a JSON string in Crockford Base32 format.
func (id *ShortID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseShortID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
