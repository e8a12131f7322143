// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the wire encoding shared by the gossip protocol and
// the presence merge.
//
// Values are encoded as CBOR with Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no indefinite
// lengths. The same logical document always produces the same bytes,
// which the presence merge relies on to break timestamp ties.
//
// Types that are also shown to the UI carry `json` tags only;
// fxamacker/cbor reads them when no `cbor` tag is present, so one tag
// names the field in both formats. Types that only ever travel between
// peers carry `cbor` tags.
//
// [EncodeFrame] and [DecodeFrame] wrap an encoded value in a frame with
// a one-byte [Compression] tag so large snapshots can travel zstd or
// LZ4 compressed over data channels with small message limits.
package codec
