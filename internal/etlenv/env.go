// Package etlenv reads the process-level environment into a single
// immutable etlsrv.Config, built once in main and passed down
// explicitly — no package reads the environment on its own after
// startup.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package etlenv

import (
	"os"
	"strconv"
	"strings"
)

const (
	// reserved request headers: deploy-time contract between host and
	// transformer, documented in DESIGN.md, not negotiated per-request.
	HdrDirectPutTarget = "X-Ais-Direct-Put-Url"
	HdrFQN             = "X-Ais-Fqn"

	DefaultNumWorkers    = 6
	DefaultChunkSize     = 32 * 1024
	DefaultMaxWSMessage  = 16 << 30 // 16 GiB
	DefaultHTTPTimeout   = 60       // seconds
	DefaultWSPingTimeout = 24 * 60 * 60
	DefaultPort          = 8000
)

// ArgType mirrors the server config's arg_type field.
type ArgType string

const (
	ArgTypeBytes ArgType = "bytes"
	ArgTypeFQN   ArgType = "fqn"
)

// Raw holds every recognized environment variable, unparsed. Load
// reads it once; callers (etlsrv.ConfigFromEnv) turn it into typed
// config.
type Raw struct {
	AISTargetURL    string
	AISEndpoint     string
	ClassPayload    string
	Packages        []string
	OSPackages      []string
	NumWorkers      int
	ArgType         ArgType
	ChunkSize       int
	ChunkSizeIsZero bool // true iff CHUNK_SIZE was explicitly set to "0"
	Port            int
}

func Load() Raw {
	r := Raw{
		AISTargetURL: os.Getenv("AIS_TARGET_URL"),
		AISEndpoint:  os.Getenv("AIS_ENDPOINT"),
		ClassPayload: os.Getenv("ETL_CLASS_PAYLOAD"),
		NumWorkers:   DefaultNumWorkers,
		ArgType:      ArgTypeBytes,
		ChunkSize:    DefaultChunkSize,
		Port:         DefaultPort,
	}
	if v := os.Getenv("PACKAGES"); v != "" {
		r.Packages = splitCSV(v)
	}
	if v := os.Getenv("OS_PACKAGES"); v != "" {
		r.OSPackages = splitCSV(v)
	}
	if v := os.Getenv("NUM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			r.NumWorkers = n
		}
	}
	if v := os.Getenv("ARG_TYPE"); v == string(ArgTypeFQN) {
		r.ArgType = ArgTypeFQN
	}
	if v := os.Getenv("CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			r.ChunkSize = n
			r.ChunkSizeIsZero = n == 0
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			r.Port = n
		}
	}
	return r
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
