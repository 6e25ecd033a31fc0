// Copyright (c) 2024-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"sort"
)

// Codec serializes discovery messages to bytes and back.  Implementations must
// reject empty, truncated, over-length, and trailing-garbage input with a
// MessageError rather than returning a partial message.
type Codec interface {
	// Name returns the name the codec is selected by.
	Name() string

	// Encode serializes the message.
	Encode(msg Message) ([]byte, error)

	// Decode deserializes one complete message.
	Decode(b []byte) (Message, error)
}

// DefaultCodecName is the name of the codec used when none is configured.
const DefaultCodecName = CompactCodecName

// codecs houses every available codec keyed by name.
var codecs = map[string]Codec{
	CompactCodecName:  CompactCodec{},
	ProtobufCodecName: ProtobufCodec{},
}

// CodecByName returns the codec registered under the given name.
func CodecByName(name string) (Codec, error) {
	codec, ok := codecs[name]
	if !ok {
		str := fmt.Sprintf("unknown codec %q (available: %v)", name,
			CodecNames())
		return nil, messageError("CodecByName", ErrUnknownCodec, str)
	}
	return codec, nil
}

// CodecNames returns the sorted names of all available codecs.
func CodecNames() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
