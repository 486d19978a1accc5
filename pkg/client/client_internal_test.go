package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("readPump", func() {
	It("stops on close while nobody drains the events", func() {
		upgrader := websocket.Upgrader{}
		httpd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer func() { _ = conn.Close() }()

			frame := []byte(`{"type":"chat_message","message":"hi","date":"2024-01-01 00:00:00","username":"bob"}`)
			for i := 0; i < 300; i++ {
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}))
		DeferCleanup(httpd.Close)

		c := NewClient(strings.TrimPrefix(httpd.URL, "http://"), "math", "")
		Expect(c.Connect()).To(Succeed())
		Expect(c.Run()).To(Succeed())

		Eventually(func() int { return len(c.events) }, 2*time.Second).Should(Equal(cap(c.events)))

		_ = c.Close()
		Eventually(c.readDone, 2*time.Second).Should(BeClosed())
		Eventually(c.Done()).Should(BeClosed())
	})

	It("skips envelopes it cannot decode", func() {
		_, err := decodeEvent([]byte(`{"type":"error","message":"nope"}`))
		Expect(err).To(MatchError(ContainSubstring("unknown message type")))

		ev, err := decodeEvent([]byte(`{"type":"message_history","messages":null}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(ev.History).NotTo(BeNil())
		Expect(ev.History).To(BeEmpty())
	})
})
