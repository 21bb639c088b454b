package lib

import (
	"encoding/json"
	"sync"

	"github.com/algorand/go-codec/codec"
)

/*
	This file implements the canonical binary encoding used for persistence, digests and the rpc wire.

	Every digest in the system (transaction, object, effects, checkpoint summary) is a hash over this
	encoding, so it must be byte for byte deterministic across authorities:
	- maps are written in sorted key order (Canonical)
	- structs are written as maps keyed by their `codec` tags
	- unknown fields are an error when decoding (ErrorIfNoField)
*/

// CodecHandle instantiates msgpack encoders and decoders with canonical, strict settings
var CodecHandle *codec.MsgpackHandle

func init() {
	CodecHandle = new(codec.MsgpackHandle)
	CodecHandle.ErrorIfNoField = true
	CodecHandle.ErrorIfNoArrayExpand = true
	CodecHandle.Canonical = true
	CodecHandle.RecursiveEmptyCheck = true
	CodecHandle.WriteExt = true
	CodecHandle.PositiveIntUnsigned = true
	CodecHandle.Raw = true
}

type encoderBytes struct {
	enc *codec.Encoder
	buf []byte
}

var encoderPool = sync.Pool{
	New: func() interface{} {
		return &encoderBytes{enc: codec.NewEncoderBytes(nil, CodecHandle)}
	},
}

// Marshal() encodes an object into canonical msgpack bytes
func Marshal(obj interface{}) ([]byte, ErrorI) {
	e := encoderPool.Get().(*encoderBytes)
	defer encoderPool.Put(e)
	e.buf = make([]byte, 0, 256)
	e.enc.ResetBytes(&e.buf)
	if err := e.enc.Encode(obj); err != nil {
		return nil, ErrMarshal(err)
	}
	return e.buf, nil
}

// MustMarshal() encodes an object that is known to be encodable; used for digests of in-memory values
func MustMarshal(obj interface{}) []byte {
	bz, err := Marshal(obj)
	if err != nil {
		panic(err)
	}
	return bz
}

// Unmarshal() decodes canonical msgpack bytes into the object pointed to by ptr
func Unmarshal(bz []byte, ptr interface{}) ErrorI {
	if err := codec.NewDecoderBytes(bz, CodecHandle).Decode(ptr); err != nil {
		return ErrUnmarshal(err)
	}
	return nil
}

// Copy() returns a deep copy of an object by passing it through the codec; used where a caller
// must not alias the memory of another component (the in-process authority client)
func Copy[T any](src *T) (*T, ErrorI) {
	if src == nil {
		return nil, nil
	}
	bz, err := Marshal(src)
	if err != nil {
		return nil, err
	}
	dst := new(T)
	if err = Unmarshal(bz, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// MarshalJSON() is a wrapper over the json marshaller returning an ErrorI
func MarshalJSON(obj interface{}) ([]byte, ErrorI) {
	bz, err := json.Marshal(obj)
	if err != nil {
		return nil, ErrJSONMarshal(err)
	}
	return bz, nil
}

// MarshalJSONIndent() marshals an object into human readable JSON
func MarshalJSONIndent(obj interface{}) ([]byte, ErrorI) {
	bz, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return nil, ErrJSONMarshal(err)
	}
	return bz, nil
}

// UnmarshalJSON() is a wrapper over the json unmarshaller returning an ErrorI
func UnmarshalJSON(bz []byte, ptr interface{}) ErrorI {
	if err := json.Unmarshal(bz, ptr); err != nil {
		return ErrJSONUnmarshal(err)
	}
	return nil
}
