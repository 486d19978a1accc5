package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/classnet/classchat/config"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	Describe("Load", func() {
		It("should return defaults when the file does not exist", func() {
			cfg, err := config.Load(filepath.Join(GinkgoT().TempDir(), "missing.yml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.Default()))
		})

		It("should leave the inbound rate limit off and allow large messages by default", func() {
			cfg := config.Default()
			Expect(cfg.WebSocket.RateLimit.Burst).To(BeZero())
			Expect(cfg.WebSocket.MaxMessageSize).To(BeNumerically(">=", 64<<10))
		})

		It("should load the example file to the defaults", func() {
			cfg, err := config.Load("config.example.yml")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.Default()))
		})

		It("should overlay file values on top of defaults", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.yml")
			Expect(os.WriteFile(path, []byte(`
server:
  addr: ":9090"
chat:
  history_limit: 25
store:
  driver: memory
websocket:
  rate_limit:
    burst: 10
    interval: 2s
`), 0o600)).To(Succeed())

			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Server.Addr).To(Equal(":9090"))
			Expect(cfg.Chat.HistoryLimit).To(Equal(25))
			Expect(cfg.Store.Driver).To(Equal("memory"))
			Expect(cfg.WebSocket.RateLimit.Burst).To(Equal(10))
			Expect(cfg.WebSocket.RateLimit.Interval).To(Equal(2 * time.Second))
			Expect(cfg.WebSocket.SendBufferSize).To(Equal(256))
		})

		It("should fail on malformed yaml", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.yml")
			Expect(os.WriteFile(path, []byte("server: [oops"), 0o600)).To(Succeed())

			_, err := config.Load(path)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
		})
	})

	Describe("ApplyEnv", func() {
		It("should override settings from the environment", func() {
			GinkgoT().Setenv("CLASSCHAT_ADDR", ":7000")
			GinkgoT().Setenv("CLASSCHAT_AUTH_SECRET", "s3cret")
			GinkgoT().Setenv("CLASSCHAT_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
			GinkgoT().Setenv("CLASSCHAT_REDIS_ADDR", "redis:6379")

			cfg := config.Default()
			cfg.ApplyEnv()

			Expect(cfg.Server.Addr).To(Equal(":7000"))
			Expect(cfg.Auth.Secret).To(Equal("s3cret"))
			Expect(cfg.Server.AllowedOrigins).To(Equal([]string{"https://a.example", "https://b.example"}))
			Expect(cfg.Cache.Enabled).To(BeTrue())
			Expect(cfg.Cache.RedisAddr).To(Equal("redis:6379"))
		})
	})

	Describe("Validate", func() {
		It("should require an auth secret", func() {
			err := config.Default().Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("auth.secret"))
		})

		It("should accept a complete configuration", func() {
			cfg := config.Default()
			cfg.Auth.Secret = "secret"
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should reject unknown store drivers and bad keepalive timings", func() {
			cfg := config.Default()
			cfg.Auth.Secret = "secret"
			cfg.Store.Driver = "mongo"
			cfg.WebSocket.PingPeriod = cfg.WebSocket.PongWait

			err := cfg.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring(`store.driver "mongo"`))
			Expect(err.Error()).To(ContainSubstring("ping_period"))
		})
	})

	Describe("LoggingConfig", func() {
		It("should detect debug level case-insensitively", func() {
			Expect(config.LoggingConfig{Level: "DEBUG"}.Debug()).To(BeTrue())
			Expect(config.LoggingConfig{Level: "info"}.Debug()).To(BeFalse())
		})
	})
})
