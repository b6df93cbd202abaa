package etlsrv_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/NVIDIA/ais-etl-go/etlsrv"
	"github.com/NVIDIA/ais-etl-go/internal/etlenv"
)

type fakeTransform struct {
	fn          func(payload []byte, objPath, etlArgs string) ([]byte, error)
	contentType string
	blocking    bool
}

func (f *fakeTransform) Transform(payload []byte, objPath, etlArgs string) ([]byte, error) {
	return f.fn(payload, objPath, etlArgs)
}
func (f *fakeTransform) ContentType() string { return f.contentType }
func (f *fakeTransform) Blocking() bool      { return f.blocking }

// fakeStreamingTransform additionally satisfies etlsrv.StreamingTransform,
// recording which capability the server actually invoked.
type fakeStreamingTransform struct {
	contentType    string
	bufferedCalled bool
	streamCalled   bool
}

func (f *fakeStreamingTransform) Transform(payload []byte, _, _ string) ([]byte, error) {
	f.bufferedCalled = true
	return payload, nil
}
func (f *fakeStreamingTransform) ContentType() string { return f.contentType }
func (f *fakeStreamingTransform) TransformStream(_ context.Context, r io.Reader, w io.Writer, _, _ string) error {
	f.streamCalled = true
	_, err := io.Copy(w, r)
	return err
}

func baseConfig() etlsrv.Config {
	return etlsrv.Config{
		Addr:              ":0",
		ArgType:           etlsrv.ArgTypeBytes,
		NumWorkers:        4,
		ChunkSize:         32 * 1024,
		MaxWSMessageBytes: 1 << 20,
		HTTPTimeout:       5 * time.Second,
		WSPingTimeout:     time.Hour,
		DirectPutHdr:      etlenv.HdrDirectPutTarget,
		FQNHdr:            etlenv.HdrFQN,
		Variant:           etlsrv.Blocking,
	}
}

var _ = Describe("Server", func() {
	It("echoes the payload inline for a GET pull request", func() {
		hostSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("hello world"))
		}))
		defer hostSrv.Close()

		cfg := baseConfig()
		cfg.HostTargetURL = hostSrv.URL
		tf := &fakeTransform{contentType: "application/octet-stream", fn: func(p []byte, _, _ string) ([]byte, error) {
			out := make([]byte, len(p))
			copy(out, p)
			return out, nil
		}}
		srv := etlsrv.New(cfg, tf)

		req := httptest.NewRequest(http.MethodGet, "/bck/obj1", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("hello world"))
	})

	It("passes the request body through unchanged for a PUT push request", func() {
		cfg := baseConfig()
		tf := &fakeTransform{contentType: "application/octet-stream", fn: func(p []byte, _, _ string) ([]byte, error) {
			out := make([]byte, len(p))
			copy(out, p)
			return out, nil
		}}
		srv := etlsrv.New(cfg, tf)

		req := httptest.NewRequest(http.MethodPut, "/bck/obj1", strings.NewReader("pushed body"))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("pushed body"))
	})

	It("classifies a transform's own ARGS_MISSING error as 400 without collapsing to TRANSFORM_FAILED", func() {
		cfg := baseConfig()
		tf := &fakeTransform{contentType: "text/plain", fn: func(_ []byte, _, args string) ([]byte, error) {
			if args == "" {
				return nil, etlsrv.NewArgsMissing("etl_args")
			}
			return []byte("ok"), nil
		}}
		srv := etlsrv.New(cfg, tf)

		req := httptest.NewRequest(http.MethodPut, "/bck/obj1", strings.NewReader("x"))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(rec.Body.String()).To(ContainSubstring("ARGS_MISSING"))
	})

	It("rejects an fqn path outside the allowed prefix as PAYLOAD_UNAVAILABLE", func() {
		cfg := baseConfig()
		cfg.ArgType = etlsrv.ArgTypeFQN
		cfg.FQNAllowedPrefix = "/allowed/mountpath"
		tf := &fakeTransform{contentType: "application/octet-stream", fn: func(p []byte, _, _ string) ([]byte, error) { return p, nil }}
		srv := etlsrv.New(cfg, tf)

		req := httptest.NewRequest(http.MethodGet, "/bck/obj1", nil)
		req.Header.Set(etlenv.HdrFQN, "/etc/passwd")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(rec.Body.String()).To(ContainSubstring("PAYLOAD_UNAVAILABLE"))
	})

	It("falls back to inline delivery when the direct-put target is unreachable at the transport level", func() {
		unreachable := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		unreachable.Close() // connection now refused

		cfg := baseConfig()
		cfg.DirectPutSupported = true
		tf := &fakeTransform{contentType: "application/octet-stream", fn: func(p []byte, _, _ string) ([]byte, error) { return p, nil }}
		srv := etlsrv.New(cfg, tf)

		req := httptest.NewRequest(http.MethodPut, "/bck/obj1", strings.NewReader("payload bytes"))
		req.Header.Set(etlenv.HdrDirectPutTarget, unreachable.URL)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("payload bytes"))
	})

	It("reports DIRECT_PUT_FAILED when the target responds with a non-2xx status", func() {
		rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer rejecting.Close()

		cfg := baseConfig()
		cfg.DirectPutSupported = true
		tf := &fakeTransform{contentType: "application/octet-stream", fn: func(p []byte, _, _ string) ([]byte, error) { return p, nil }}
		srv := etlsrv.New(cfg, tf)

		req := httptest.NewRequest(http.MethodPut, "/bck/obj1", strings.NewReader("payload bytes"))
		req.Header.Set(etlenv.HdrDirectPutTarget, rejecting.URL)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusBadGateway))
		Expect(rec.Body.String()).To(ContainSubstring("DIRECT_PUT_FAILED"))
	})

	It("routes a push request through TransformStream instead of buffering when the transform supports it", func() {
		cfg := baseConfig()
		tf := &fakeStreamingTransform{contentType: "application/octet-stream"}
		srv := etlsrv.New(cfg, tf)

		req := httptest.NewRequest(http.MethodPut, "/bck/obj1", strings.NewReader("streamed body"))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("streamed body"))
		Expect(tf.streamCalled).To(BeTrue())
		Expect(tf.bufferedCalled).To(BeFalse())
	})

	It("falls back to the buffered path when ChunkSize is 0, even for a streaming-capable transform", func() {
		cfg := baseConfig()
		cfg.ChunkSize = 0
		tf := &fakeStreamingTransform{contentType: "application/octet-stream"}
		srv := etlsrv.New(cfg, tf)

		req := httptest.NewRequest(http.MethodPut, "/bck/obj1", strings.NewReader("buffered body"))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(tf.bufferedCalled).To(BeTrue())
		Expect(tf.streamCalled).To(BeFalse())
	})

	It("disables streaming under the WSGI variant even when the transform supports it", func() {
		cfg := baseConfig()
		cfg.Variant = etlsrv.WSGI
		tf := &fakeStreamingTransform{contentType: "application/octet-stream"}
		srv := etlsrv.New(cfg, tf)

		req := httptest.NewRequest(http.MethodPut, "/bck/obj1", strings.NewReader("wsgi body"))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(tf.bufferedCalled).To(BeTrue())
		Expect(tf.streamCalled).To(BeFalse())
	})

	It("falls back to buffered delivery for a direct-put target even with a streaming-capable transform", func() {
		target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer target.Close()

		cfg := baseConfig()
		cfg.DirectPutSupported = true
		tf := &fakeStreamingTransform{contentType: "application/octet-stream"}
		srv := etlsrv.New(cfg, tf)

		req := httptest.NewRequest(http.MethodPut, "/bck/obj1", strings.NewReader("dp body"))
		req.Header.Set(etlenv.HdrDirectPutTarget, target.URL)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(tf.bufferedCalled).To(BeTrue())
		Expect(tf.streamCalled).To(BeFalse())
	})

	It("serves /health without routing through the transform or worker pool", func() {
		cfg := baseConfig()
		tf := &fakeTransform{contentType: "application/octet-stream", fn: func([]byte, string, string) ([]byte, error) {
			Fail("transform should not be invoked for /health")
			return nil, nil
		}}
		srv := etlsrv.New(cfg, tf)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("Running"))
	})
})
