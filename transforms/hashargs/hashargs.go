// Package hashargs is the "hash with seed via args" reference
// transform: the response body is the lowercase hex of the xxhash64
// checksum of the payload under a seed carried in etl_args. Grounded
// in original_source/transformers/hash_with_args/server.py and
// fastapi_server.py: etl_args is optional, and a missing or
// non-numeric seed falls back to a default rather than failing the
// request.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package hashargs

import (
	"fmt"
	"os"
	"strconv"

	"github.com/OneOfOne/xxhash"

	"github.com/NVIDIA/ais-etl-go/internal/nlog"
)

type Transform struct {
	defaultSeed uint64
}

// New reads SEED_DEFAULT once at registration time. An unset or
// non-numeric value falls back to seed 0, the same default the
// original assumes.
func New(_ []byte) (*Transform, error) {
	var seed uint64
	if v := os.Getenv("SEED_DEFAULT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			nlog.Warningf("hashargs: invalid SEED_DEFAULT=%q, falling back to 0\n", v)
		} else {
			seed = n
		}
	}
	return &Transform{defaultSeed: seed}, nil
}

func (*Transform) ContentType() string { return "text/plain; charset=utf-8" }

func (t *Transform) Transform(payload []byte, _ string, etlArgs string) ([]byte, error) {
	seed := t.defaultSeed
	if etlArgs != "" {
		if n, err := strconv.ParseUint(etlArgs, 10, 64); err == nil {
			seed = n
		} else {
			nlog.Warningf("hashargs: invalid etl_args seed=%q, using default seed %d\n", etlArgs, t.defaultSeed)
		}
	}
	sum := xxhash.Checksum64S(payload, seed)
	return []byte(fmt.Sprintf("%016x", sum)), nil
}
