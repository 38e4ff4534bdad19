// Package ledger encodes oracle updates for the on-chain program and submits them.
package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"FinOracle/internal/domain/models"
)

// Byte caps enforced by the receiving program.
const (
	MaxSymbolLen         = 20
	MaxInsightLen        = 500
	MaxRecommendationLen = 10
)

// field is one entry of the wire layout. ref returns a pointer into the update;
// its type selects the encoding.
type field struct {
	name string
	max  int
	ref  func(u *models.LedgerUpdate) interface{}
}

// updateArgs is the argument order of the update_data instruction.
var updateArgs = []field{
	{"symbol", MaxSymbolLen, func(u *models.LedgerUpdate) interface{} { return &u.Symbol }},
	{"price", 0, func(u *models.LedgerUpdate) interface{} { return &u.Price }},
	{"insight", MaxInsightLen, func(u *models.LedgerUpdate) interface{} { return &u.Insight }},
	{"confidence", 0, func(u *models.LedgerUpdate) interface{} { return &u.Confidence }},
	{"recommendation", MaxRecommendationLen, func(u *models.LedgerUpdate) interface{} { return &u.Recommendation }},
	{"timestamp", 0, func(u *models.LedgerUpdate) interface{} { return &u.Timestamp }},
}

// accountFields is the layout of the OracleData account after its discriminator.
var accountFields = append(updateArgs[:len(updateArgs):len(updateArgs)],
	field{"authority", 0, func(u *models.LedgerUpdate) interface{} { return &u.Authority }},
	field{"bump", 0, func(u *models.LedgerUpdate) interface{} { return &u.Bump }},
)

// Discriminators follow the Anchor naming scheme.
var (
	updateDiscriminator     = discriminator("global:update_data")
	initializeDiscriminator = discriminator("global:initialize")
	accountDiscriminator    = discriminator("account:OracleData")
)

func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte(name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

var errShortData = errors.New("data too short")

func encodeFields(b []byte, fields []field, u *models.LedgerUpdate) []byte {
	le := binary.LittleEndian
	for _, f := range fields {
		switch v := f.ref(u).(type) {
		case *string:
			b = le.AppendUint32(b, uint32(len(*v)))
			b = append(b, *v...)
		case *float64:
			b = le.AppendUint64(b, math.Float64bits(*v))
		case *float32:
			b = le.AppendUint32(b, math.Float32bits(*v))
		case *int64:
			b = le.AppendUint64(b, uint64(*v))
		case *[32]byte:
			b = append(b, v[:]...)
		case *uint8:
			b = append(b, *v)
		default:
			panic(fmt.Sprintf("ledger layout: unsupported field type %T", v))
		}
	}
	return b
}

func decodeFields(data []byte, fields []field, u *models.LedgerUpdate) ([]byte, error) {
	le := binary.LittleEndian
	take := func(name string, n int) ([]byte, error) {
		if len(data) < n {
			return nil, fmt.Errorf("%s: %w", name, errShortData)
		}
		out := data[:n]
		data = data[n:]
		return out, nil
	}
	for _, f := range fields {
		switch v := f.ref(u).(type) {
		case *string:
			raw, err := take(f.name, 4)
			if err != nil {
				return nil, err
			}
			n := int(le.Uint32(raw))
			if f.max > 0 && n > f.max {
				return nil, fmt.Errorf("%s: length %d exceeds %d", f.name, n, f.max)
			}
			if raw, err = take(f.name, n); err != nil {
				return nil, err
			}
			*v = string(raw)
		case *float64:
			raw, err := take(f.name, 8)
			if err != nil {
				return nil, err
			}
			*v = math.Float64frombits(le.Uint64(raw))
		case *float32:
			raw, err := take(f.name, 4)
			if err != nil {
				return nil, err
			}
			*v = math.Float32frombits(le.Uint32(raw))
		case *int64:
			raw, err := take(f.name, 8)
			if err != nil {
				return nil, err
			}
			*v = int64(le.Uint64(raw))
		case *[32]byte:
			raw, err := take(f.name, 32)
			if err != nil {
				return nil, err
			}
			copy(v[:], raw)
		case *uint8:
			raw, err := take(f.name, 1)
			if err != nil {
				return nil, err
			}
			*v = raw[0]
		default:
			panic(fmt.Sprintf("ledger layout: unsupported field type %T", v))
		}
	}
	return data, nil
}

// EncodeUpdate validates u and returns the update_data instruction data.
func EncodeUpdate(u models.LedgerUpdate) ([]byte, error) {
	if err := Validate(u); err != nil {
		return nil, err
	}
	b := make([]byte, 0, 8+4+len(u.Symbol)+8+4+len(u.Insight)+4+4+len(u.Recommendation)+8)
	b = append(b, updateDiscriminator[:]...)
	return encodeFields(b, updateArgs, &u), nil
}

// DecodeUpdate parses update_data instruction data.
func DecodeUpdate(data []byte) (models.LedgerUpdate, error) {
	var u models.LedgerUpdate
	if len(data) < 8 || [8]byte(data[:8]) != updateDiscriminator {
		return u, errors.New("not an update_data instruction")
	}
	if _, err := decodeFields(data[8:], updateArgs, &u); err != nil {
		return u, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}

// EncodeAccount renders the OracleData account layout.
func EncodeAccount(u models.LedgerUpdate) []byte {
	b := append([]byte{}, accountDiscriminator[:]...)
	return encodeFields(b, accountFields, &u)
}

// DecodeAccount parses OracleData account data. Trailing allocation padding is ignored.
func DecodeAccount(data []byte) (models.LedgerUpdate, error) {
	var u models.LedgerUpdate
	if len(data) < 8 || [8]byte(data[:8]) != accountDiscriminator {
		return u, errors.New("not an OracleData account")
	}
	if _, err := decodeFields(data[8:], accountFields, &u); err != nil {
		return u, fmt.Errorf("decode account: %w", err)
	}
	return u, nil
}
