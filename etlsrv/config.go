package etlsrv

import (
	"fmt"
	"net/http"
	"time"

	"github.com/NVIDIA/ais-etl-go/internal/etlenv"
)

// Variant selects which transports are mounted and how the Transform
// capability is scheduled: the three historically separate server
// flavors collapse into one server with pluggable transports selected
// by this field. It is a deploy-time choice, normally baked into the
// pod spec, which this module does not itself manage.
type Variant string

const (
	Blocking Variant = "blocking" // HTTP only, every call on the worker pool
	Async    Variant = "async"    // HTTP + WebSocket, cooperative unless Blocking()
	WSGI     Variant = "wsgi"     // HTTP only, buffered only, no WS
)

// ArgType mirrors etlenv.ArgType to keep etlsrv free of an import-time
// dependency on the exact env var names.
type ArgType = etlenv.ArgType

const (
	ArgTypeBytes = etlenv.ArgTypeBytes
	ArgTypeFQN   = etlenv.ArgTypeFQN
)

// Config is the immutable server configuration, constructed once in
// main and threaded through explicitly rather than read piecemeal from
// the environment at import time.
type Config struct {
	Addr string // host:port to listen on

	HostTargetURL      string // AIS_TARGET_URL, required in pull mode
	AISEndpoint        string // AIS_ENDPOINT, required for workers that call back
	ArgType            ArgType
	NumWorkers         int
	ChunkSize          int  // 0 disables streaming outright
	DirectPutSupported bool // per-server-variant; forced true for Async (WS requires it)
	MaxWSMessageBytes  int64
	HTTPTimeout        time.Duration // outbound fetch / direct-put timeout
	WSPingTimeout      time.Duration
	FQNAllowedPrefix   string // PAYLOAD_UNAVAILABLE outside this prefix
	DirectPutHdr       string
	FQNHdr             string
	Variant            Variant
}

// ConfigFromEnv builds a Config from the process environment plus the
// variant and fqn-prefix decisions, which are deploy-time contracts
// rather than anything the process can infer on its own.
func ConfigFromEnv(variant Variant, fqnAllowedPrefix string) (Config, error) {
	raw := etlenv.Load()
	cfg := Config{
		Addr:              fmt.Sprintf(":%d", raw.Port),
		HostTargetURL:     raw.AISTargetURL,
		AISEndpoint:       raw.AISEndpoint,
		ArgType:           raw.ArgType,
		NumWorkers:        raw.NumWorkers,
		ChunkSize:         raw.ChunkSize,
		MaxWSMessageBytes: etlenv.DefaultMaxWSMessage,
		HTTPTimeout:       etlenv.DefaultHTTPTimeout * time.Second,
		WSPingTimeout:     etlenv.DefaultWSPingTimeout * time.Second,
		FQNAllowedPrefix:  fqnAllowedPrefix,
		DirectPutHdr:      etlenv.HdrDirectPutTarget,
		FQNHdr:            etlenv.HdrFQN,
		Variant:           variant,
	}
	if raw.ChunkSizeIsZero {
		cfg.ChunkSize = 0
	}
	switch variant {
	case Blocking, Async, WSGI:
		cfg.DirectPutSupported = variant != WSGI // ws requires it (forced below); wsgi "may" - default off, blocking "may" - default on
		if variant == Blocking {
			cfg.DirectPutSupported = true
		}
		if variant == Async {
			cfg.DirectPutSupported = true // WS sessions under Async require it
		}
	default:
		return Config{}, fmt.Errorf("unsupported server variant %q", variant)
	}
	if cfg.ArgType == ArgTypeBytes && cfg.HostTargetURL == "" {
		// pull mode needs it; push-only deployments may still omit it,
		// so a missing URL is not an error here: a pull request then
		// fails with PAYLOAD_UNAVAILABLE when fetch finds no URL.
		_ = cfg
	}
	return cfg, nil
}

// pooledTransport returns an *http.Transport sized to a bounded
// max-pool-size (default 100), shared by the one long-lived client the
// server holds for pull fetch and direct-put.
func pooledTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 100
	t.IdleConnTimeout = 90 * time.Second
	return t
}
