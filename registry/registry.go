// Package registry is the compile-time transform table that replaces
// the original's pickle-based deserialization: ETL_CLASS_PAYLOAD now
// decodes to {kind, config}, and kind must name one of the entries
// below or bootstrap rejects it as UNSAFE_PAYLOAD.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package registry

import (
	"github.com/NVIDIA/ais-etl-go/client"
	"github.com/NVIDIA/ais-etl-go/etlsrv"
	"github.com/NVIDIA/ais-etl-go/transforms/audiomanager"
	"github.com/NVIDIA/ais-etl-go/transforms/audiosplit"
	"github.com/NVIDIA/ais-etl-go/transforms/echo"
	"github.com/NVIDIA/ais-etl-go/transforms/hashargs"
)

// Factory builds a Transform from its declared config and the shared
// recursive-ETL client — the same long-lived client, not one per
// transform instance.
type Factory func(config []byte, cl client.Client) (etlsrv.Transform, error)

// Table is the static registry of transform implementations, keyed by
// a stable identifier.
var Table = map[string]Factory{
	"echo": func(config []byte, _ client.Client) (etlsrv.Transform, error) {
		return echo.New(config)
	},
	"hash-with-args": func(config []byte, _ client.Client) (etlsrv.Transform, error) {
		return hashargs.New(config)
	},
	"audio-splitter": func(config []byte, _ client.Client) (etlsrv.Transform, error) {
		return audiosplit.New(config)
	},
	"audio-manager": func(config []byte, cl client.Client) (etlsrv.Transform, error) {
		return audiomanager.New(config, cl)
	},
}

func Lookup(kind string) (Factory, bool) {
	f, ok := Table[kind]
	return f, ok
}
