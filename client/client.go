// Package client implements the minimal AIS client interface a
// recursive transform (the audio manager) uses to call back into the
// cluster: get_object and put_content. It is built once per process
// and shared across requests, never one per call. It holds its own
// pooled *http.Client, separate from the one etlsrv.Server uses for
// pull-mode fetch and direct-put.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// GetOpts parameterizes a recursive inline ETL call: the ETL name (sent
// as the "uuid" query param), opaque per-call args, and whether the
// cluster should use direct-put when fulfilling it.
type GetOpts struct {
	ETLName string
	Args    string // opaque, by convention URL-encoded JSON
	Direct  bool
}

// Client is the minimal capability surface the core consumes.
type Client interface {
	GetObject(ctx context.Context, bucket, key string, opts GetOpts) ([]byte, error)
	PutContent(ctx context.Context, bucket, key string, body []byte) error
}

// HTTPClient is the one real implementation: a thin wrapper over a
// pooled *http.Client and the cluster's base URL (AIS_ENDPOINT).
type HTTPClient struct {
	base string
	hc   *http.Client
}

func New(endpoint string, hc *http.Client) *HTTPClient {
	if hc == nil {
		// bounded pool (default 100), matching the server's own
		// outbound transport.
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConns = 100
		t.MaxIdleConnsPerHost = 100
		t.IdleConnTimeout = 90 * time.Second
		hc = &http.Client{Transport: t, Timeout: 60 * time.Second}
	}
	return &HTTPClient{base: strings.TrimRight(endpoint, "/"), hc: hc}
}

func (c *HTTPClient) GetObject(ctx context.Context, bucket, key string, opts GetOpts) ([]byte, error) {
	if c.base == "" {
		return nil, errors.New("client: AIS_ENDPOINT not configured")
	}
	u := c.base + "/" + url.PathEscape(bucket) + "/" + url.PathEscape(key)
	q := url.Values{}
	if opts.ETLName != "" {
		q.Set("uuid", opts.ETLName)
	}
	if opts.Args != "" {
		q.Set("etl_args", opts.Args)
	}
	if opts.Direct {
		q.Set("direct", "true")
	}
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "client: build GetObject request")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "client: GetObject")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errors.Errorf("client: GetObject %s/%s: status %d", bucket, key, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *HTTPClient) PutContent(ctx context.Context, bucket, key string, body []byte) error {
	if c.base == "" {
		return errors.New("client: AIS_ENDPOINT not configured")
	}
	u := c.base + "/" + url.PathEscape(bucket) + "/" + url.PathEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "client: build PutContent request")
	}
	req.ContentLength = int64(len(body))
	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrap(err, "client: PutContent")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return errors.Errorf("client: PutContent %s/%s: status %d", bucket, key, resp.StatusCode)
	}
	return nil
}
