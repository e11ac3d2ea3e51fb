package meta_test

import (
	"runtime"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/beacon/internal/meta"
)

var _ = Describe("Info", func() {
	It("defaults the version to dev", func() {
		info := meta.GetInfo()

		Expect(info.Version).To(Equal("dev"))
		Expect(info.GoVersion).To(Equal(runtime.Version()))
		Expect(info.Platform).To(Equal(runtime.GOOS + " " + runtime.GOARCH))
	})

	It("renders the build details that are present", func() {
		info := meta.Info{
			Version:   "v0.3.0",
			Build:     "2296e01",
			Branch:    "main",
			BuildTime: "2022/08/18 16:13:05",
			GoVersion: "go1.20",
			Platform:  "linux amd64",
		}

		Expect(info.String()).To(Equal("beacon v0.3.0 (2296e01 on main)\ngo1.20, linux amd64, built 2022/08/18 16:13:05"))
	})

	It("leaves out missing build details", func() {
		info := meta.Info{Version: "dev", GoVersion: "go1.20", Platform: "linux amd64", GoTag: "netgo"}

		Expect(info.String()).To(Equal("beacon dev\ngo1.20, linux amd64\ntags: netgo"))
	})
})
