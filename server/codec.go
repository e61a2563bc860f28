package server

import (
	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
)

// The service messages are plain Go structs rather than generated protobuf
// types, so both codecs replace Connect's proto-backed defaults. Clients
// pick one with WithCodec; handlers accept either.

type jsonCodec struct{}

var _ connect.Codec = jsonCodec{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}

type cborCodec struct{}

var _ connect.Codec = cborCodec{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Marshal(msg any) ([]byte, error) { return cbor.Marshal(msg) }

func (cborCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return cbor.Unmarshal(data, msg)
}

// JSONCodec is the codec for HTTP/JSON clients such as curl.
func JSONCodec() connect.Codec { return jsonCodec{} }

// CBORCodec is the compact binary codec.
func CBORCodec() connect.Codec { return cborCodec{} }

func codecOptions() []connect.HandlerOption {
	return []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithCodec(cborCodec{}),
	}
}
