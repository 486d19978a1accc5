package client_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/classnet/classchat/config"
	"github.com/classnet/classchat/internal/auth"
	"github.com/classnet/classchat/internal/store"
	"github.com/classnet/classchat/internal/ws"
	"github.com/classnet/classchat/pkg/client"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestClient(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Client Suite")
}

var _ = Describe("Client", func() {
	var (
		mem   *store.Memory
		jwt   *auth.JWT
		srv   *ws.Server
		httpd *httptest.Server
		host  string
	)

	BeforeEach(func() {
		cfg := config.Default()
		cfg.Auth.Secret = "client-secret"
		mem = store.NewMemory()
		jwt = auth.NewJWT(cfg.Auth.Secret, cfg.Auth.Issuer, time.Hour)

		srv = ws.NewServer(cfg, mem, jwt)
		httpd = httptest.NewServer(srv.Handler())
		host = strings.TrimPrefix(httpd.URL, "http://")

		DeferCleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Hub().Shutdown(ctx)
			httpd.Close()
		})
	})

	connect := func(room, id, name string) *client.Client {
		GinkgoHelper()
		token, err := jwt.Issue(id, name)
		Expect(err).NotTo(HaveOccurred())

		c := client.NewClient(host, room, token)
		Expect(c.Connect()).To(Succeed())
		Expect(c.Run()).To(Succeed())
		DeferCleanup(func() { _ = c.Close() })
		return c
	}

	next := func(c *client.Client) client.Event {
		GinkgoHelper()
		var ev client.Event
		Eventually(c.Events(), 2*time.Second).Should(Receive(&ev))
		return ev
	}

	It("receives history first", func() {
		_, err := mem.Append(context.Background(), "math", store.Author{ID: "2", Username: "bob"}, "earlier")
		Expect(err).NotTo(HaveOccurred())

		c := connect("math", "1", "alice")
		ev := next(c)
		Expect(ev.Type).To(Equal(client.EventMessageHistory))
		Expect(ev.History).To(HaveLen(1))
		Expect(ev.History[0].Message).To(Equal("earlier"))
		Expect(ev.History[0].Username).To(Equal("bob"))
	})

	It("sends and receives chat messages", func() {
		alice := connect("math", "1", "alice")
		bob := connect("math", "2", "bob")
		next(alice)
		next(bob)
		Eventually(func() int { return srv.Hub().Registry().Members("math") }, 2*time.Second).Should(Equal(2))

		Expect(alice.Send("hello bob")).To(Succeed())

		ev := next(bob)
		Expect(ev.Type).To(Equal(client.EventChatMessage))
		Expect(ev.Message.Message).To(Equal("hello bob"))
		Expect(ev.Message.Username).To(Equal("alice"))
		Expect(next(alice).Message.Message).To(Equal("hello bob"))
	})

	It("escapes room names in the path", func() {
		c := connect("intro to go", "1", "alice")
		Expect(next(c).Type).To(Equal(client.EventMessageHistory))
		Eventually(func() int { return srv.Hub().Registry().Members("intro to go") }, 2*time.Second).Should(Equal(1))
	})

	It("fails to connect with a bad token", func() {
		c := client.NewClient(host, "math", "bogus")
		err := c.Connect()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("401"))
	})

	It("refuses to run before connecting", func() {
		Expect(client.NewClient(host, "math", "").Run()).NotTo(Succeed())
	})

	It("ends the event stream when closed", func() {
		c := connect("math", "1", "alice")
		next(c)

		Expect(c.Close()).To(Succeed())
		Eventually(c.Done(), 2*time.Second).Should(BeClosed())
		Expect(c.Send("too late")).To(MatchError(client.ErrClosed))
		Eventually(func() int { return srv.Hub().Registry().Members("math") }, 2*time.Second).Should(Equal(0))
	})
})
