package model

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strings"
)

const (
	checkpointMagic   = "SKYM"
	checkpointVersion = 1
	maxHidden         = 1024
)

// Checkpoint 像素级小网络的权重
//
// Hidden == 0 时退化为逻辑回归: alpha = sigmoid(W2·x + B2)，W2 长度为 Inputs；
// 否则 h = tanh(W1·x + B1)，alpha = sigmoid(W2·h + B2)。
//
// 文件布局 (little-endian):
//
//	magic "SKYM" | version u16 | inputs u16 | hidden u16 | reserved u16 |
//	W1 [hidden*inputs]f32 | B1 [hidden]f32 | W2 [hidden or inputs]f32 | B2 f32
type Checkpoint struct {
	Inputs int
	Hidden int
	W1     []float32
	B1     []float32
	W2     []float32
	B2     float32
}

type checkpointHeader struct {
	Magic    [4]byte
	Version  uint16
	Inputs   uint16
	Hidden   uint16
	Reserved uint16
}

// DefaultCheckpoint 手工调好的先验: 偏蓝、偏亮、靠上的像素更像天空
func DefaultCheckpoint() *Checkpoint {
	return &Checkpoint{
		Inputs: Channels,
		W2:     []float32{-2, 1, 5, -8, 0},
		B2:     1,
	}
}

// Validate 检查各层尺寸与数值
func (c *Checkpoint) Validate() error {
	if c.Inputs != Channels {
		return fmt.Errorf("%w: %d inputs, want %d", ErrInvalidCheckpoint, c.Inputs, Channels)
	}
	if c.Hidden < 0 || c.Hidden > maxHidden {
		return fmt.Errorf("%w: hidden size %d", ErrInvalidCheckpoint, c.Hidden)
	}

	outIn := c.Inputs
	if c.Hidden > 0 {
		outIn = c.Hidden
		if len(c.W1) != c.Hidden*c.Inputs || len(c.B1) != c.Hidden {
			return fmt.Errorf("%w: hidden layer has %d weights and %d biases", ErrInvalidCheckpoint, len(c.W1), len(c.B1))
		}
	} else if len(c.W1) != 0 || len(c.B1) != 0 {
		return fmt.Errorf("%w: hidden weights without hidden layer", ErrInvalidCheckpoint)
	}
	if len(c.W2) != outIn {
		return fmt.Errorf("%w: output layer has %d weights, want %d", ErrInvalidCheckpoint, len(c.W2), outIn)
	}

	for _, s := range [][]float32{c.W1, c.B1, c.W2, {c.B2}} {
		for _, v := range s {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return fmt.Errorf("%w: non-finite weight", ErrInvalidCheckpoint)
			}
		}
	}
	return nil
}

// WriteCheckpoint 按文件布局写出权重
func WriteCheckpoint(w io.Writer, c *Checkpoint) error {
	if err := c.Validate(); err != nil {
		return err
	}

	h := checkpointHeader{
		Version: checkpointVersion,
		Inputs:  uint16(c.Inputs),
		Hidden:  uint16(c.Hidden),
	}
	copy(h.Magic[:], checkpointMagic)

	bw := bufio.NewWriter(w)
	for _, v := range []any{h, c.W1, c.B1, c.W2, c.B2} {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write checkpoint: %w", err)
		}
	}
	return bw.Flush()
}

// EncodeCheckpoint WriteCheckpoint 的字节版本
func EncodeCheckpoint(c *Checkpoint) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCheckpoint(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadCheckpoint 解析权重文件
func ReadCheckpoint(r io.Reader) (*Checkpoint, error) {
	var h checkpointHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrInvalidCheckpoint, err)
	}
	if string(h.Magic[:]) != checkpointMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidCheckpoint, h.Magic[:])
	}
	if h.Version != checkpointVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidCheckpoint, h.Version)
	}
	if h.Inputs != Channels || h.Hidden > maxHidden {
		return nil, fmt.Errorf("%w: layer sizes %d/%d", ErrInvalidCheckpoint, h.Inputs, h.Hidden)
	}

	c := &Checkpoint{Inputs: int(h.Inputs), Hidden: int(h.Hidden)}
	if c.Hidden > 0 {
		c.W1 = make([]float32, c.Hidden*c.Inputs)
		c.B1 = make([]float32, c.Hidden)
		c.W2 = make([]float32, c.Hidden)
	} else {
		c.W2 = make([]float32, c.Inputs)
	}

	for _, v := range []any{c.W1, c.B1, c.W2, &c.B2} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("%w: read weights: %v", ErrInvalidCheckpoint, err)
		}
	}

	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidCheckpoint)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Checksum 计算 SHA-256，小写 hex
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// verifyChecksum 对比期望的 SHA-256，允许带 "sha256:" 前缀
func verifyChecksum(data []byte, expected string) error {
	expected = strings.ToLower(strings.TrimSpace(expected))
	expected = strings.TrimPrefix(expected, "sha256:")
	if expected == "" {
		return nil
	}
	if actual := Checksum(data); actual != expected {
		return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, actual, expected)
	}
	return nil
}

// FileLoader 从本地权重文件加载 PriorModel
type FileLoader struct {
	Path     string
	Checksum string
}

func NewFileLoader(path, checksum string) *FileLoader {
	return &FileLoader{Path: path, Checksum: checksum}
}

func (l *FileLoader) Load(_ context.Context) (Matting, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, l.Path)
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", l.Path, err)
	}

	if err := verifyChecksum(data, l.Checksum); err != nil {
		return nil, err
	}

	c, err := ReadCheckpoint(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return NewPriorModel(c), nil
}
