package env_test

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zapcore"

	"github.com/luma/beacon/internal/env"
)

var _ = Describe("env", func() {
	Describe("LoadConfig()", func() {
		AfterEach(func() {
			os.Unsetenv("BEACON_URL")
			os.Unsetenv("BEACON_TIMEOUT")
		})

		It("falls back to the defaults", func() {
			conf, err := env.LoadConfig(context.Background())
			Expect(err).To(Succeed())

			Expect(conf.URL).To(Equal("tcp://127.0.0.1:6379"))
			Expect(conf.Timeout).To(Equal(5 * time.Second))
			Expect(conf.LogLevel).To(Equal("info"))
			Expect(conf.GatewayPort).To(Equal(7380))
		})

		It("reads the environment", func() {
			Expect(os.Setenv("BEACON_URL", "unix:///tmp/redis.sock")).To(Succeed())
			Expect(os.Setenv("BEACON_TIMEOUT", "250ms")).To(Succeed())

			conf, err := env.LoadConfig(context.Background())
			Expect(err).To(Succeed())

			Expect(conf.URL).To(Equal("unix:///tmp/redis.sock"))
			Expect(conf.Timeout).To(Equal(250 * time.Millisecond))
		})
	})

	Describe("MakeLogger()", func() {
		It("honours the level", func() {
			log, err := env.MakeLogger("warn")
			Expect(err).To(Succeed())

			Expect(log.Core().Enabled(zapcore.InfoLevel)).To(BeFalse())
			Expect(log.Core().Enabled(zapcore.WarnLevel)).To(BeTrue())
		})

		It("rejects unknown levels", func() {
			_, err := env.MakeLogger("loud")
			Expect(err).To(HaveOccurred())
		})
	})
})
