// Package echo is the minimal round-trip reference transform: it
// returns the payload unchanged. Grounded in
// original_source/transformers/echo/*, the simplest of the reference
// transformers, kept here to exercise the server contract end-to-end
// without any domain logic of its own.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package echo

// Transform is the identity transform: the inline body must equal
// Transform(payload, path, args) exactly, and echo makes that
// trivially observable.
type Transform struct{}

func New(_ []byte) (*Transform, error) { return &Transform{}, nil }

func (*Transform) Transform(payload []byte, _, _ string) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func (*Transform) ContentType() string { return "application/octet-stream" }
