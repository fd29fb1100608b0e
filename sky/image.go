package sky

import (
	"image"
	"image/color"
	"image/draw"
)

// Image RGB 浮点图，数值归一化到 [0,1]，Pix 按行交错存放 r,g,b
//
// 流水线只读输入 Image，所有阶段都产出新的 Image，不做原地修改。
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

func NewImage(w, h int) *Image {
	return &Image{Width: w, Height: h, Pix: make([]float32, w*h*3)}
}

// FromImage 把任意解码结果统一成 [0,1] 的 RGB，alpha 通道被丢弃
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := NewImage(w, h)

	// 统一转成 NRGBA64，避免预乘 alpha 把半透明像素压暗
	var n *image.NRGBA64
	if v, ok := src.(*image.NRGBA64); ok {
		n = v
	} else {
		n = image.NewNRGBA64(b)
		draw.Draw(n, b, src, b.Min, draw.Src)
	}

	for y := 0; y < h; y++ {
		row := n.Pix[(y)*n.Stride:]
		for x := 0; x < w; x++ {
			i := x * 8
			o := (y*w + x) * 3
			out.Pix[o] = float32(uint16(row[i])<<8|uint16(row[i+1])) / 0xffff
			out.Pix[o+1] = float32(uint16(row[i+2])<<8|uint16(row[i+3])) / 0xffff
			out.Pix[o+2] = float32(uint16(row[i+4])<<8|uint16(row[i+5])) / 0xffff
		}
	}
	return out
}

func (m *Image) Empty() bool {
	return m == nil || m.Width <= 0 || m.Height <= 0 || len(m.Pix) < m.Width*m.Height*3
}

// RGB 返回 (x,y) 处的三个通道
func (m *Image) RGB(x, y int) (r, g, b float32) {
	o := (y*m.Width + x) * 3
	return m.Pix[o], m.Pix[o+1], m.Pix[o+2]
}

func (m *Image) Clone() *Image {
	c := &Image{Width: m.Width, Height: m.Height, Pix: make([]float32, len(m.Pix))}
	copy(c.Pix, m.Pix)
	return c
}

// ColorModel / Bounds / At 让 Image 可以直接交给 x/image/draw 和编码器
func (m *Image) ColorModel() color.Model { return color.NRGBA64Model }

func (m *Image) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

func (m *Image) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return color.NRGBA64{}
	}
	r, g, b := m.RGB(x, y)
	return color.NRGBA64{R: to16(r), G: to16(g), B: to16(b), A: 0xffff}
}

// ToNRGBA 8 位输出，用于编码
func (m *Image) ToNRGBA() *image.NRGBA {
	dst := image.NewNRGBA(m.Bounds())
	for i, p := 0, 0; i < len(m.Pix); i, p = i+3, p+4 {
		dst.Pix[p] = to8(m.Pix[i])
		dst.Pix[p+1] = to8(m.Pix[i+1])
		dst.Pix[p+2] = to8(m.Pix[i+2])
		dst.Pix[p+3] = 0xff
	}
	return dst
}

// AlphaMatte 单通道天空概率，数值始终在 [0,1]
type AlphaMatte struct {
	Width  int
	Height int
	Pix    []float32
}

func NewAlphaMatte(w, h int) *AlphaMatte {
	return &AlphaMatte{Width: w, Height: h, Pix: make([]float32, w*h)}
}

func (a *AlphaMatte) Empty() bool {
	return a == nil || a.Width <= 0 || a.Height <= 0 || len(a.Pix) < a.Width*a.Height
}

func (a *AlphaMatte) Value(x, y int) float32 {
	return a.Pix[y*a.Width+x]
}

// Fill 所有像素设为 v (clamp 后)
func (a *AlphaMatte) Fill(v float32) {
	v = clamp01(v)
	for i := range a.Pix {
		a.Pix[i] = v
	}
}

func (a *AlphaMatte) ColorModel() color.Model { return color.Gray16Model }

func (a *AlphaMatte) Bounds() image.Rectangle { return image.Rect(0, 0, a.Width, a.Height) }

func (a *AlphaMatte) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= a.Width || y >= a.Height {
		return color.Gray16{}
	}
	return color.Gray16{Y: to16(a.Value(x, y))}
}

// ToGray 8 位灰度，调试时保存 matte 用
func (a *AlphaMatte) ToGray() *image.Gray {
	dst := image.NewGray(a.Bounds())
	for i, v := range a.Pix {
		dst.Pix[i] = to8(v)
	}
	return dst
}

// CoordinateMap 每个像素的归一化 (row, col)，Pix 按 [row, col] 交错
type CoordinateMap struct {
	Width  int
	Height int
	Pix    []float32
}

// At 返回 (x,y) 处的 (row, col) 坐标特征
func (c *CoordinateMap) At(x, y int) (row, col float32) {
	o := (y*c.Width + x) * 2
	return c.Pix[o], c.Pix[o+1]
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	// NaN 按 0 处理
	if v != v {
		return 0
	}
	return v
}

func to8(v float32) uint8 {
	return uint8(clamp01(v)*255 + 0.5)
}

func to16(v float32) uint16 {
	return uint16(clamp01(v)*0xffff + 0.5)
}
