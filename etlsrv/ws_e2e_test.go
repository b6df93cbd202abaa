package etlsrv_test

import (
	"encoding/binary"
	"fmt"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/NVIDIA/ais-etl-go/etlsrv"
)

func encodeWSTestFrame(objPath string, payload []byte) []byte {
	var buf []byte
	put := func(s string) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		buf = append(buf, n[:]...)
		buf = append(buf, s...)
	}
	put(objPath)
	put("")
	put("")
	buf = append(buf, payload...)
	return buf
}

var _ = Describe("Server WS session", func() {
	It("emits responses in request order over a single session, even when later frames finish first", func() {
		cfg := baseConfig()
		cfg.Variant = etlsrv.Async

		// The i-th request sleeps (N-i) ticks, so frames finish in reverse
		// of arrival order unless the session genuinely processes one
		// frame at a time.
		const n = 10
		tf := &fakeTransform{contentType: "application/octet-stream", fn: func(p []byte, objPath, _ string) ([]byte, error) {
			var idx int
			fmt.Sscanf(objPath, "obj%d", &idx)
			time.Sleep(time.Duration(n-idx) * time.Millisecond)
			return p, nil
		}}
		srv := etlsrv.New(cfg, tf)

		httpSrv := httptest.NewServer(srv.Handler())
		defer httpSrv.Close()
		wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		for i := 0; i < n; i++ {
			objPath := fmt.Sprintf("obj%d", i)
			frame := encodeWSTestFrame(objPath, []byte(objPath))
			Expect(conn.WriteMessage(websocket.BinaryMessage, frame)).To(Succeed())
		}

		for i := 0; i < n; i++ {
			_, data, err := conn.ReadMessage()
			Expect(err).NotTo(HaveOccurred())
			Expect(data[0]).To(Equal(byte(0)), "expected an OK status byte")
			want := fmt.Sprintf("obj%d", i)
			Expect(string(data[1:])).To(Equal(want), "response %d out of order", i)
		}
	})
})
