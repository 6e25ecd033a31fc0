// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package wire implements the address discovery message protocol.

Two messages exist.  MsgGetAddr requests up to a number of known addresses and
MsgAddr carries a batch of at most MaxAddrPerMsg addresses, each with an
endpoint, a score hint, and the time the sender last saw it.

# Codecs

Messages are serialized by a Codec chosen when the node is composed rather than
negotiated with peers.  Two codecs are provided:

  - compact: a fixed binary layout with Decred varints
  - protobuf: the protocol buffers wire format

Both carry ProtocolVersion, reject messages larger than MaxPayloadLength, and
refuse empty, truncated, or trailing input.  Use CodecByName to select one.

# Errors

Errors returned by this package are of type wire.MessageError and support
errors.Is and errors.As against the ErrorKind constants.
*/
package wire
