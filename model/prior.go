package model

import (
	"context"
	"math"
)

// PriorModel 纯 Go 的逐像素推理，无共享可变状态，可并发调用
type PriorModel struct {
	ckpt *Checkpoint
}

func NewPriorModel(c *Checkpoint) *PriorModel {
	return &PriorModel{ckpt: c}
}

func (m *PriorModel) Reentrant() bool { return true }

func (m *PriorModel) Predict(ctx context.Context, in *Input) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	c := m.ckpt
	n := in.Width * in.Height
	out := &Output{Width: in.Width, Height: in.Height, Alpha: make([]float32, n)}

	var hidden []float64
	if c.Hidden > 0 {
		hidden = make([]float64, c.Hidden)
	}

	for i := 0; i < n; i++ {
		x := in.Data[i*in.Channels : (i+1)*in.Channels]
		z := float64(c.B2)
		if c.Hidden == 0 {
			for k, v := range x {
				z += float64(c.W2[k]) * float64(v)
			}
		} else {
			for j := range hidden {
				s := float64(c.B1[j])
				row := c.W1[j*c.Inputs : (j+1)*c.Inputs]
				for k, v := range x {
					s += float64(row[k]) * float64(v)
				}
				hidden[j] = math.Tanh(s)
				z += float64(c.W2[j]) * hidden[j]
			}
		}
		out.Alpha[i] = float32(sigmoid(z))
	}
	return out, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
