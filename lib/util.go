package lib

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"runtime/debug"
	"time"
)

// HexBytes is a byte slice that serializes to a hex string in JSON
type HexBytes []byte

// NewHexBytesFromString() converts a hexadecimal string into HexBytes
func NewHexBytesFromString(s string) (HexBytes, ErrorI) {
	bz, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrStringToBytes(err)
	}
	return bz, nil
}

// String() returns the HexBytes as a hexadecimal string
func (x HexBytes) String() string { return hex.EncodeToString(x) }

// MarshalJSON() serializes the HexBytes to a JSON byte slice
func (x HexBytes) MarshalJSON() ([]byte, error) { return json.Marshal(x.String()) }

// UnmarshalJSON() deserializes a JSON byte slice into HexBytes
func (x *HexBytes) UnmarshalJSON(b []byte) (err error) {
	var s string
	if err = json.Unmarshal(b, &s); err != nil {
		return err
	}
	*x, err = hex.DecodeString(s)
	return
}

// fixedFromHex() decodes a hex string into a fixed size array
func fixedFromHex(s string, out []byte, name string) ErrorI {
	bz, err := hex.DecodeString(s)
	if err != nil {
		return ErrStringToBytes(err)
	}
	if len(bz) != len(out) {
		return ErrWrongLength(name, len(out), len(bz))
	}
	copy(out, bz)
	return nil
}

// fixedUnmarshalJSON() is the json.Unmarshaler body shared by the fixed size identifiers
func fixedUnmarshalJSON(b []byte, out []byte, name string) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if err := fixedFromHex(s, out, name); err != nil {
		return err
	}
	return nil
}

// Uint64ToBytes() big endian encodes a uint64 so byte order matches numeric order in the key value store
func Uint64ToBytes(u uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, u)
	return b
}

// BytesToUint64() decodes a big endian uint64; short input yields zero
func BytesToUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Append() combines two byte slices without mutating either
func Append(a, b []byte) []byte {
	out := make([]byte, len(a)+len(b))
	copy(out, a)
	copy(out[len(a):], b)
	return out
}

// JoinLenPrefix() appends the items together separated by a single byte to represent the length of the segment
func JoinLenPrefix(toAppend ...[]byte) (res []byte) {
	for _, item := range toAppend {
		if item == nil {
			continue
		}
		res = append(append(res, byte(len(item))), item...)
	}
	return
}

// DecodeLengthPrefixed() decodes a key that is delimited by the length of the segment in a single byte
func DecodeLengthPrefixed(key []byte) (segments [][]byte) {
	for i := 0; i < len(key); {
		length := int(key[i])
		i++
		if i+length > len(key) {
			panic("corrupt or incomplete key")
		}
		segments = append(segments, key[i:i+length])
		i += length
	}
	return
}

// NewTimer() returns a stopped timer that may be Reset() later
func NewTimer() *time.Timer {
	t := time.NewTimer(0)
	<-t.C
	return t
}

// ResetTimer() stops the existing timer, and resets with the new duration
func ResetTimer(t *time.Timer, d time.Duration) {
	StopTimer(t)
	t.Reset(d)
}

// StopTimer() stops the existing timer and drains its channel
func StopTimer(t *time.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		for len(t.C) > 0 {
			<-t.C
		}
	}
}

// CatchPanic() catches any panic in the function call or child function calls
func CatchPanic(l LoggerI) {
	if r := recover(); r != nil {
		l.Errorf("recovered from panic: %v\n%s", r, string(debug.Stack()))
	}
}
