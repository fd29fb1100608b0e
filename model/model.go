// Package model 定义抠天空模型的最小接口，以及可替换的推理后端。
//
// 模型只看得到一个 HWC 排布的 float32 张量: r, g, b, row, col 五个通道，
// 输出同尺寸的天空概率。上层的细化、合成逻辑与具体后端无关。
package model

import (
	"context"
	"errors"
	"fmt"
)

// Channels 输入张量的通道数: RGB + 行/列坐标
const Channels = 5

var (
	ErrCheckpointNotFound = errors.New("model: checkpoint not found")
	ErrChecksumMismatch   = errors.New("model: checksum mismatch")
	ErrInvalidCheckpoint  = errors.New("model: invalid checkpoint")
	ErrInvalidInput       = errors.New("model: invalid input tensor")
)

// Input 模型输入，Data 长度为 Width*Height*Channels
type Input struct {
	Width    int
	Height   int
	Channels int
	Data     []float32
}

// Validate 检查张量形状
func (in *Input) Validate() error {
	if in == nil {
		return fmt.Errorf("%w: nil input", ErrInvalidInput)
	}
	if in.Width <= 0 || in.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidInput, in.Width, in.Height)
	}
	if in.Channels != Channels {
		return fmt.Errorf("%w: %d channels, want %d", ErrInvalidInput, in.Channels, Channels)
	}
	if len(in.Data) != in.Width*in.Height*in.Channels {
		return fmt.Errorf("%w: %d values for %dx%dx%d", ErrInvalidInput, len(in.Data), in.Width, in.Height, in.Channels)
	}
	return nil
}

// Output 模型原始输出，Alpha 长度为 Width*Height，数值未必在 [0,1] 内
type Output struct {
	Width  int
	Height int
	Alpha  []float32
}

// Matting 不透明的抠图模型
type Matting interface {
	Predict(ctx context.Context, in *Input) (*Output, error)
	// Reentrant 为 false 时调用方必须串行调用 Predict
	Reentrant() bool
}

// Loader 在进程启动时加载一次模型
type Loader interface {
	Load(ctx context.Context) (Matting, error)
}

// LoaderFunc 让普通函数满足 Loader
type LoaderFunc func(ctx context.Context) (Matting, error)

func (f LoaderFunc) Load(ctx context.Context) (Matting, error) {
	return f(ctx)
}
