// Package audiomanager is the "manager" reference worker: it fans a
// newline-delimited manifest out into one recursive ETL call per
// record and assembles the results into a tar archive. Grounded in
// original_source/transformers/NeMo/audio_split_consolidate/audio_manager/server.py
// (manifest -> per-record nested ETL call -> tar) and, for the bounded
// concurrent fan-out, the errgroup usage pattern in fs/walkbck.go.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package audiomanager

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/ais-etl-go/client"
	"github.com/NVIDIA/ais-etl-go/internal/nlog"
)

// fanoutLimit bounds how many recursive ETL calls run concurrently per
// manifest, matching the bounded-jogger style in fs/walkbck.go rather
// than firing every record at once.
const fanoutLimit = 8

// Record is one line of the manifest.
type Record struct {
	ID       string  `json:"id"`
	Part     int     `json:"part"`
	FromTime float64 `json:"from_time"`
	ToTime   float64 `json:"to_time"`
	Format   string  `json:"format"`

	hasID, hasPart, hasFrom, hasTo bool
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var raw map[string]jsoniter.RawMessage
	if err := jsoniter.Unmarshal(b, &raw); err != nil {
		return err
	}
	if v, ok := raw["id"]; ok {
		if err := jsoniter.Unmarshal(v, &r.ID); err != nil {
			return err
		}
		r.hasID = true
	}
	if v, ok := raw["part"]; ok {
		if err := jsoniter.Unmarshal(v, &r.Part); err != nil {
			return err
		}
		r.hasPart = true
	}
	if v, ok := raw["from_time"]; ok {
		if err := jsoniter.Unmarshal(v, &r.FromTime); err != nil {
			return err
		}
		r.hasFrom = true
	}
	if v, ok := raw["to_time"]; ok {
		if err := jsoniter.Unmarshal(v, &r.ToTime); err != nil {
			return err
		}
		r.hasTo = true
	}
	if v, ok := raw["format"]; ok {
		jsoniter.Unmarshal(v, &r.Format)
	}
	return nil
}

func (r *Record) valid() bool {
	return r.hasID && r.hasPart && r.hasFrom && r.hasTo
}

// Config is the manager's registration-time config (bootstrap.Payload.Config).
type Config struct {
	SrcBucket    string `json:"src_bucket"`
	Prefix       string `json:"prefix"`
	SplitterName string `json:"splitter_name"`
	Ext          string `json:"ext"`
	Direct       bool   `json:"direct"`
}

type Transform struct {
	cfg Config
	cl  client.Client
}

func New(configJSON []byte, cl client.Client) (*Transform, error) {
	var cfg Config
	if len(configJSON) > 0 {
		if err := jsoniter.Unmarshal(configJSON, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Ext == "" {
		cfg.Ext = "wav"
	}
	return &Transform{cfg: cfg, cl: cl}, nil
}

func (*Transform) ContentType() string { return "application/x-tar" }

// Blocking: tar assembly and the fan-out wait are not cooperative I/O
// in the event-loop sense, so this, like audiosplit, runs on the pool.
func (*Transform) Blocking() bool { return true }

type member struct {
	name string
	body []byte
}

func (t *Transform) Transform(payload []byte, _ string, _ string) ([]byte, error) {
	lines := strings.Split(string(payload), "\n")
	records := make([]Record, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec Record
		if err := jsoniter.Unmarshal([]byte(line), &rec); err != nil {
			nlog.Warningf("audiomanager: skipping manifest line %d: invalid JSON: %v\n", i, err)
			continue
		}
		if !rec.valid() {
			nlog.Warningf("audiomanager: skipping manifest line %d: missing required field\n", i)
			continue
		}
		records = append(records, rec)
	}

	members := make([]*member, len(records))
	group, ctx := errgroup.WithContext(context.Background())
	sem := make(chan struct{}, fanoutLimit)
	for i := range records {
		i, rec := i, records[i]
		group.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			defer func() { <-sem }()

			m, err := t.fetchOne(ctx, rec)
			if err != nil {
				// fatal errors on individual records are logged and do
				// not abort the batch.
				nlog.Warningf("audiomanager: record id=%s part=%d failed: %v\n", rec.ID, rec.Part, err)
				return nil
			}
			members[i] = m
			return nil
		})
	}
	group.Wait() //nolint:errcheck // per-record errors are logged, never propagated

	return buildTar(members)
}

func (t *Transform) fetchOne(ctx context.Context, rec Record) (*member, error) {
	key := fmt.Sprintf("%s%s.%s", t.cfg.Prefix, rec.ID, t.cfg.Ext)
	argsJSON, err := jsoniter.Marshal(rec)
	if err != nil {
		return nil, err
	}
	body, err := t.cl.GetObject(ctx, t.cfg.SrcBucket, key, client.GetOpts{
		ETLName: t.cfg.SplitterName,
		Args:    string(argsJSON),
		Direct:  t.cfg.Direct,
	})
	if err != nil {
		return nil, err
	}
	return &member{name: fmt.Sprintf("%s_%d.wav", rec.ID, rec.Part), body: body}, nil
}

// buildTar emits members in manifest order; duplicate (id, part) pairs
// are permitted and simply produce tar members with identical names.
func buildTar(members []*member) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		if m == nil {
			continue
		}
		hdr := &tar.Header{Name: m.name, Mode: 0o644, Size: int64(len(m.body))}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(m.body); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
