package cmd

import (
	"errors"

	"github.com/chaos-io/skyreplace/model"
	"github.com/chaos-io/skyreplace/sky"
	"github.com/chaos-io/skyreplace/skybox"
)

// CLI 退出码
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidInput = 2
	ExitStartupFatal = 3
	ExitInference    = 4
)

// ExitCode 把错误映射为退出码
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, sky.ErrModelLoad):
		return ExitStartupFatal
	case errors.Is(err, sky.ErrInference):
		return ExitInference
	case errors.Is(err, sky.ErrInvalidInput),
		errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, skybox.ErrUnknownTemplate),
		errors.Is(err, skybox.ErrUnsupportedFormat):
		return ExitInvalidInput
	default:
		return ExitGeneralError
	}
}
