package etlsrv

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NVIDIA/ais-etl-go/internal/nlog"
)

// wsFrame is the binary sub-protocol carried over the /ws session:
//
//	u32 path_len | path
//	u32 args_len | args
//	u32 dp_len   | dp
//	payload...
type wsFrame struct {
	objPath string
	etlArgs string
	dpURL   string
	payload []byte
}

const wsHeaderMinLen = 3 * 4 // three uint32 length prefixes

func decodeWSFrame(b []byte) (wsFrame, error) {
	var f wsFrame
	off := 0
	readField := func() ([]byte, error) {
		if len(b)-off < 4 {
			return nil, errors.New("ws frame: truncated length prefix")
		}
		n := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if n < 0 || len(b)-off < n {
			return nil, errors.New("ws frame: truncated field")
		}
		v := b[off : off+n]
		off += n
		return v, nil
	}
	path, err := readField()
	if err != nil {
		return f, err
	}
	args, err := readField()
	if err != nil {
		return f, err
	}
	dp, err := readField()
	if err != nil {
		return f, err
	}
	f.objPath = string(path)
	f.etlArgs = string(args)
	f.dpURL = string(dp)
	f.payload = b[off:]
	return f, nil
}

const (
	wsStatusOK  byte = 0
	wsStatusErr byte = 1
)

func encodeWSOK(payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = wsStatusOK
	copy(out[1:], payload)
	return out
}

func encodeWSErr(msg string) []byte {
	out := make([]byte, 1+len(msg))
	out[0] = wsStatusErr
	copy(out[1:], msg)
	return out
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(*http.Request) bool { return true }, // host is trusted; authentication is out of scope
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
}

// handleWS implements the WS /ws transport. Direct-put is required for
// WS: Variant Async always sets cfg.DirectPutSupported, so a frame
// carrying a dp URL is always honored here.
//
// Frames are read and answered one at a time on this goroutine, so
// responses are emitted in request order within the session — ordering
// holds because the session is processed sequentially, not because of
// any explicit sequencing machinery.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		nlog.Errorf("ws upgrade failed: %v\n", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.cfg.MaxWSMessageBytes)
	// automatic pings are suppressed; the client controls keepalive.
	// No ping ticker is started here, and no read/write deadlines are
	// set, so a session is only ended by the peer closing it.

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return // normal close or network error: session ends
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		resp := s.handleWSFrame(r.Context(), data)
		if err := conn.WriteMessage(websocket.BinaryMessage, resp); err != nil {
			return
		}
	}
}

func (s *Server) handleWSFrame(ctx context.Context, data []byte) []byte {
	start := time.Now()
	frame, err := decodeWSFrame(data)
	if err != nil {
		s.logDone("", "", start, err)
		return encodeWSErr(err.Error())
	}

	req := Request{Mode: ModeWS, ObjPath: frame.objPath, ETLArgs: frame.etlArgs, DirectPutTarget: frame.dpURL}
	body, err := s.runBuffered(ctx, frame.payload, req)
	if err != nil {
		s.fail(noopWriter{}, req.ObjPath, err, start)
		return encodeWSErr(err.Error())
	}

	if req.DirectPutTarget != "" {
		fellBack, dpErr := s.putDirect(req.DirectPutTarget, body)
		if dpErr != nil {
			s.fail(noopWriter{}, req.ObjPath, dpErr, start)
			return encodeWSErr(dpErr.Error())
		}
		if !fellBack {
			s.metrics.objects.Inc()
			s.metrics.outBytes.Add(float64(len(body)))
			s.metrics.directPuts.Inc()
			s.logDone(req.ObjPath, req.ETLArgs, start, nil)
			return encodeWSOK(nil)
		}
	}

	s.metrics.objects.Inc()
	s.metrics.outBytes.Add(float64(len(body)))
	s.logDone(req.ObjPath, req.ETLArgs, start, nil)
	return encodeWSOK(body)
}

// noopWriter satisfies the http.ResponseWriter sliver s.fail needs
// (status + body, both discarded) without an actual HTTP response in flight —
// the WS path reports errors via encodeWSErr instead, but still routes
// through s.fail so metrics/logging stay in one place.
type noopWriter struct{}

func (noopWriter) Header() http.Header         { return http.Header{} }
func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }
func (noopWriter) WriteHeader(int)             {}

var _ http.ResponseWriter = noopWriter{}
