package etlsrv

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NVIDIA/ais-etl-go/internal/debug"
	"github.com/NVIDIA/ais-etl-go/internal/nlog"
)

// Server is the one ETL web-server runtime shared by every Variant.
// It owns the Transform instance and the pooled HTTP client used for
// pull-mode fetch and direct-put — the same long-lived client across
// requests, never one per request.
type Server struct {
	cfg     Config
	tf      Transform
	pool    *pool
	client  *http.Client
	metrics *metrics
	mux     *http.ServeMux
	http    *http.Server
}

// New builds a Server for tf under cfg. The caller chooses cfg.Variant;
// New itself never reads the environment.
func New(cfg Config, tf Transform) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		cfg:  cfg,
		tf:   tf,
		pool: newPool(cfg.NumWorkers),
		client: &http.Client{
			Transport: pooledTransport(),
			Timeout:   cfg.HTTPTimeout,
		},
		metrics: newMetrics(reg),
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if cfg.Variant == Async {
		s.mux.HandleFunc("/ws", s.handleWS)
	}
	s.mux.HandleFunc("/", s.handleObject)
	s.http = &http.Server{Addr: cfg.Addr, Handler: s.mux}
	return s
}

// Handler exposes the mux for tests that want to drive the server via
// httptest without a real listener.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) ListenAndServe() error {
	nlog.Infof("etl server listening on %s (variant=%s)\n", s.cfg.Addr, s.cfg.Variant)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// health never shares a critical section with the transform: it
// touches no server state but the mux.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Running"))
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, err := s.decodeRequest(r)
	if err != nil {
		s.fail(w, req.ObjPath, err, start)
		return
	}

	if s.tryStream(w, r, req, start) {
		return
	}

	payload, err := s.acquirePayload(r, req)
	if err != nil {
		s.fail(w, req.ObjPath, err, start)
		return
	}

	body, err := s.runBuffered(r.Context(), payload, req)
	if err != nil {
		s.fail(w, req.ObjPath, err, start)
		return
	}

	if req.DirectPutTarget != "" && s.cfg.DirectPutSupported {
		s.deliverDirectPut(w, req, body, start)
		return
	}
	s.deliverInline(w, body)
	s.logDone(req.ObjPath, req.ETLArgs, start, nil)
}

// decodeRequest is the argument-decoding step of handling a request.
func (s *Server) decodeRequest(r *http.Request) (Request, error) {
	req := Request{ObjPath: strings.TrimPrefix(r.URL.Path, "/")}
	switch r.Method {
	case http.MethodGet:
		req.Mode = ModeGet
	case http.MethodPut:
		req.Mode = ModePut
	default:
		return req, newErr(ArgsInvalid, http.StatusMethodNotAllowed, errMethodf(r.Method))
	}
	req.ETLArgs = r.URL.Query().Get("etl_args")
	req.DirectPutTarget = r.Header.Get(s.cfg.DirectPutHdr)

	if s.cfg.ArgType == ArgTypeFQN {
		if fqn := r.Header.Get(s.cfg.FQNHdr); fqn != "" {
			req.FQN = fqn
		} else {
			unescaped, err := url.PathUnescape(req.ObjPath)
			if err != nil {
				return req, errArgsInvalid(err)
			}
			req.FQN = "/" + unescaped
		}
		debug.Assert(req.FQN != "", "fqn arg_type must produce a non-empty Request.FQN")
	}
	return req, nil
}

// acquirePayload is the payload-acquisition step: pull, push, or fqn.
func (s *Server) acquirePayload(r *http.Request, req Request) ([]byte, error) {
	switch {
	case req.Mode == ModePut:
		defer r.Body.Close()
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, errPayloadUnavailable(http.StatusBadRequest, err)
		}
		return b, nil

	case s.cfg.ArgType == ArgTypeFQN:
		return s.readFQN(req.FQN)

	default: // GET, arg_type=bytes: pull from the host
		debug.Assert(req.Mode != ModePut && s.cfg.ArgType != ArgTypeFQN,
			"pull-mode payload acquisition reached despite a push or fqn arg_type")
		return s.fetch(r.Context(), req.ObjPath)
	}
}

func (s *Server) readFQN(fqn string) ([]byte, error) {
	debug.Assert(fqn != "", "readFQN called with an empty fqn")
	clean := filepath.Clean(fqn)
	if s.cfg.FQNAllowedPrefix != "" && !strings.HasPrefix(clean, s.cfg.FQNAllowedPrefix) {
		return nil, errPayloadUnavailable(http.StatusNotFound, errOutsidePrefix(clean))
	}
	f, err := os.Open(clean)
	if err != nil {
		return nil, errPayloadUnavailable(http.StatusNotFound, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, errPayloadUnavailable(http.StatusNotFound, err)
	}
	return b, nil
}

func (s *Server) fetch(ctx context.Context, objPath string) ([]byte, error) {
	if s.cfg.HostTargetURL == "" {
		return nil, errPayloadUnavailable(http.StatusBadGateway, errNoTargetURL())
	}
	u := strings.TrimRight(s.cfg.HostTargetURL, "/") + "/" + strings.TrimLeft(objPath, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, errPayloadUnavailable(http.StatusBadGateway, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errPayloadUnavailable(http.StatusBadGateway, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errPayloadUnavailable(http.StatusBadGateway, errStatusf(resp.StatusCode))
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errPayloadUnavailable(http.StatusBadGateway, err)
	}
	s.metrics.inBytes.Add(float64(len(b)))
	return b, nil
}

// tryStream serves the request through the StreamingTransform
// capability instead of a fully-buffered call, when all of the
// following hold: the registered transform opts into it, chunking
// isn't disabled (Config.ChunkSize > 0), the variant allows streaming
// (WSGI never does), and the source is a live reader — push mode only,
// since pull and fqn sources are read from elsewhere and have no
// request body to stream from. A direct-put target always falls
// through to the buffered path: the transport-failure fallback
// requires the result bytes in hand before any leave the process,
// which a stream already flushed to the client can't undo.
// It reports whether it fully handled the request.
func (s *Server) tryStream(w http.ResponseWriter, r *http.Request, req Request, start time.Time) bool {
	st, ok := s.tf.(StreamingTransform)
	if !ok || s.cfg.ChunkSize <= 0 || s.cfg.Variant == WSGI || req.Mode != ModePut || req.DirectPutTarget != "" {
		return false
	}
	defer r.Body.Close()

	reader := bufio.NewReaderSize(r.Body, s.cfg.ChunkSize)
	w.Header().Set("Content-Type", s.tf.ContentType())
	if err := st.TransformStream(r.Context(), reader, w, req.ObjPath, req.ETLArgs); err != nil {
		if _, ok := err.(*Error); !ok {
			err = errTransformFailed(err)
		}
		s.fail(w, req.ObjPath, err, start)
		return true
	}
	s.metrics.objects.Inc()
	s.logDone(req.ObjPath, req.ETLArgs, start, nil)
	return true
}

// runBuffered calls the Transform, dispatching to the worker pool
// whenever Variant == Blocking or the transform declares itself
// blocking via the BlockingTransform capability.
func (s *Server) runBuffered(ctx context.Context, payload []byte, req Request) ([]byte, error) {
	call := func() ([]byte, error) {
		out, err := s.tf.Transform(payload, req.ObjPath, req.ETLArgs)
		if err != nil {
			if _, ok := err.(*Error); ok {
				return nil, err // transform already classified it
			}
			return nil, errTransformFailed(err)
		}
		return out, nil
	}
	if s.runsOnPool() {
		return s.pool.Run(ctx, call)
	}
	return call()
}

func (s *Server) runsOnPool() bool {
	if s.cfg.Variant == Blocking {
		return true
	}
	if bt, ok := s.tf.(BlockingTransform); ok {
		return bt.Blocking()
	}
	return false
}

// deliverInline writes the result inline with the advertised content
// type and length.
func (s *Server) deliverInline(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", s.tf.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Write(body)
	s.metrics.objects.Inc()
	s.metrics.outBytes.Add(float64(len(body)))
}

// deliverDirectPut attempts to PUT the result directly to the caller's
// target. A transport-level failure to reach the target (never got an
// HTTP response) is treated as "unreachable before the transform ran"
// and falls back to inline, since in this buffered design the result
// was already computed before any bytes left the process; an
// HTTP-level rejection (got a response, non-2xx) means the target was
// reachable and is surfaced as a hard 502 DIRECT_PUT_FAILED.
func (s *Server) deliverDirectPut(w http.ResponseWriter, req Request, body []byte, start time.Time) {
	fellBack, err := s.putDirect(req.DirectPutTarget, body)
	if err != nil {
		s.fail(w, req.ObjPath, err, start)
		return
	}
	if fellBack {
		s.deliverInline(w, body)
		s.logDone(req.ObjPath, req.ETLArgs, start, nil)
		return
	}
	w.WriteHeader(http.StatusOK)
	s.metrics.objects.Inc()
	s.metrics.outBytes.Add(float64(len(body)))
	s.metrics.directPuts.Inc()
	s.logDone(req.ObjPath, req.ETLArgs, start, nil)
}

// putDirect PUTs body to target. fellBack is true when the target was
// unreachable at the transport level (never got an HTTP response) —
// the caller should fall back to delivering body inline. A non-nil
// error means the target was reached but rejected the write, a hard
// DIRECT_PUT_FAILED.
func (s *Server) putDirect(target string, body []byte) (fellBack bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTPTimeout)
	defer cancel()

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if reqErr != nil {
		return false, errDirectPutFailed(http.StatusBadGateway, reqErr)
	}
	httpReq.ContentLength = int64(len(body))
	resp, doErr := s.client.Do(httpReq)
	if doErr != nil {
		nlog.Warningf("direct-put target %s unreachable, falling back to inline: %v\n", target, doErr)
		return true, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return false, errDirectPutFailed(http.StatusBadGateway, errStatusf(resp.StatusCode))
	}
	return false, nil
}

func (s *Server) fail(w http.ResponseWriter, objPath string, err error, start time.Time) {
	s.logDone(objPath, "", start, err)
	if e, ok := err.(*Error); ok {
		s.metrics.observeErr(e.Kind)
	}
	writeErr(w, err)
}

func (s *Server) logDone(objPath, etlArgs string, start time.Time, err error) {
	elapsed := time.Since(start)
	if err != nil {
		nlog.Errorf("path=%s args-len=%d elapsed=%s err=%v\n", objPath, len(etlArgs), elapsed, err)
		return
	}
	nlog.Infof("path=%s args-len=%d elapsed=%s ok\n", objPath, len(etlArgs), elapsed)
}
