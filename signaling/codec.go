// mrtchat - peer-to-peer chat substrate
// Copyright (C) 2025 sage-x-project
//
// This file is part of mrtchat.
//
// mrtchat is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// mrtchat is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with mrtchat. If not, see <https://www.gnu.org/licenses/>.

package signaling

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"

	kcompress "github.com/klauspost/compress/zlib"
)

// Codec compresses/decompresses envelope bytes. "none" is a passthrough;
// "zlib" uses klauspost/compress for the write side (the pack's
// preferred zlib implementation) and the stdlib reader for decode,
// since both are wire-compatible DEFLATE streams.
type Codec interface {
	Name() string
	Encode(plain []byte) ([]byte, error)
	Decode(compressed []byte) ([]byte, error)
}

// NoneCodec passes bytes through unchanged.
type NoneCodec struct{}

func (NoneCodec) Name() string                        { return "none" }
func (NoneCodec) Encode(p []byte) ([]byte, error)      { return p, nil }
func (NoneCodec) Decode(p []byte) ([]byte, error)      { return p, nil }

// ZlibCodec compresses with klauspost/compress/zlib.
type ZlibCodec struct{}

func (ZlibCodec) Name() string { return "zlib" }

func (ZlibCodec) Encode(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := kcompress.NewWriter(&buf)
	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress close: %w", err)
	}
	return buf.Bytes(), nil
}

func (ZlibCodec) Decode(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib decompress read: %w", err)
	}
	return out, nil
}

// CodecFor returns the codec named by library ("zlib" or "none").
func CodecFor(library string) Codec {
	if library == "zlib" {
		return ZlibCodec{}
	}
	return NoneCodec{}
}

// EncodeEnvelope serializes env to JSON, then compresses with codec when
// compression is enabled and the JSON payload exceeds threshold bytes.
func EncodeEnvelope(env *Envelope, codec Codec, enabled bool, threshold int) ([]byte, error) {
	plain, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if !enabled || codec.Name() == "none" || len(plain) <= threshold {
		return plain, nil
	}
	return codec.Encode(plain)
}

// DecodeEnvelope attempts decompression with codec first; on failure it
// falls back to parsing the raw bytes as JSON directly.
func DecodeEnvelope(raw []byte, codec Codec) (*Envelope, error) {
	var env Envelope

	if codec.Name() != "none" {
		if plain, err := codec.Decode(raw); err == nil {
			if jerr := json.Unmarshal(plain, &env); jerr == nil {
				return &env, nil
			}
		}
	}

	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}
