package sky

import (
	"errors"
	"fmt"
)

// 对外可见的错误分类，使用 errors.Is 判断
var (
	// ErrModelLoad 权重缺失或损坏，进程不应对外服务
	ErrModelLoad = errors.New("sky: model load failed")

	// ErrInvalidInput 空图片、无法解码或参数越界，请求直接拒绝
	ErrInvalidInput = errors.New("sky: invalid input")

	// ErrInference 模型前向失败。推理是确定性的，原样重试没有意义
	ErrInference = errors.New("sky: inference failed")

	// ErrRefinement 上游 matte 与原图尺寸对不上
	ErrRefinement = errors.New("sky: matte refinement failed")

	// ErrComposite 原图、matte、天空模板的尺寸无法协调
	ErrComposite = errors.New("sky: composite failed")
)

// Stage 流水线阶段，用于定位失败位置
type Stage string

const (
	StageDecode    Stage = "decode"
	StageValidate  Stage = "validate"
	StageInference Stage = "inference"
	StageRefine    Stage = "refine"
	StageComposite Stage = "composite"
	StageEncode    Stage = "encode"
)

// Error 一次请求失败时返回给调用方的错误
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sky: %s stage: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StageOf 取出错误所在阶段，非流水线错误返回空串
func StageOf(err error) Stage {
	var se *Error
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

func stageErr(stage Stage, err error) error {
	return &Error{Stage: stage, Err: err}
}
