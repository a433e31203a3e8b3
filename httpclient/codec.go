package httpclient

import (
	"github.com/bytedance/sonic"
	json "github.com/goccy/go-json"
)

// Codec serializes JSON request bodies and deserializes JSON responses.
//
// The default codec is GoJSONCodec. Swap it with WithJSONCodec:
//
//	client := httpclient.New(
//	    httpclient.WithJSONCodec(httpclient.NewSonicCodec()),
//	)
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Compile-time interface checks.
var (
	_ Codec = GoJSONCodec{}
	_ Codec = SonicCodec{}
)

// GoJSONCodec is a Codec backed by goccy/go-json.
type GoJSONCodec struct{}

func (GoJSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (GoJSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// SonicCodec is a Codec backed by bytedance/sonic using its
// encoding/json compatible configuration.
type SonicCodec struct {
	api sonic.API
}

// NewSonicCodec returns a SonicCodec with sonic.ConfigStd.
func NewSonicCodec() SonicCodec {
	return SonicCodec{api: sonic.ConfigStd}
}

func (c SonicCodec) Marshal(v any) ([]byte, error) {
	if c.api == nil {
		return sonic.ConfigStd.Marshal(v)
	}
	return c.api.Marshal(v)
}

func (c SonicCodec) Unmarshal(data []byte, v any) error {
	if c.api == nil {
		return sonic.ConfigStd.Unmarshal(data, v)
	}
	return c.api.Unmarshal(data, v)
}
