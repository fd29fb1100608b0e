// Package remote 通过 HTTP 调用部署在别处的抠天空模型
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/chaos-io/skyreplace/model"
	nhttp "github.com/chaos-io/skyreplace/util/http"
)

const (
	healthPath  = "/health"
	predictPath = "/predict"

	defaultTimeout = 60 * time.Second
)

type Option func(*Loader)

// WithClient 替换 HTTP 客户端，测试时使用
func WithClient(cli nhttp.IClient) Option {
	return func(l *Loader) {
		l.cli = cli
	}
}

// WithChecksum 要求远端报告的权重 checksum 一致
func WithChecksum(sum string) Option {
	return func(l *Loader) {
		l.checksum = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(sum)), "sha256:")
	}
}

// WithTimeout 单次推理的超时，同时用作默认 HTTP 客户端的超时
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

type Loader struct {
	baseURL  string
	cli      nhttp.IClient
	checksum string
	timeout  time.Duration
}

func NewLoader(baseURL string, opts ...Option) *Loader {
	l := &Loader{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(l)
	}
	// 客户端整体超时和单次推理超时一致
	if l.cli == nil {
		l.cli = nhttp.NewHTTPClientWithTimeout(l.timeout)
	}
	return l
}

type healthResp struct {
	Status   string `json:"status"`
	Model    string `json:"model"`
	Checksum string `json:"checksum"`
}

func (l *Loader) Load(ctx context.Context) (model.Matting, error) {
	if l.baseURL == "" {
		return nil, fmt.Errorf("%w: empty remote url", model.ErrCheckpointNotFound)
	}

	resp := &healthResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: l.baseURL + healthPath,
		Method:     http.MethodGet,
		Response:   resp,
		Timeout:    l.timeout,
	}
	if err := l.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("%w: health check %s: %v", model.ErrCheckpointNotFound, l.baseURL, err)
	}

	if l.checksum != "" && !strings.EqualFold(resp.Checksum, l.checksum) {
		return nil, fmt.Errorf("%w: remote reports %q, want %q", model.ErrChecksumMismatch, resp.Checksum, l.checksum)
	}

	slog.Info("remote matting model ready", "url", l.baseURL, "model", resp.Model)
	return &Model{baseURL: l.baseURL, cli: l.cli, name: resp.Model, timeout: l.timeout}, nil
}

// Model 远端模型句柄。远端一般是单卡推理队列，所以声明为不可重入
type Model struct {
	baseURL string
	cli     nhttp.IClient
	name    string
	timeout time.Duration
}

func (m *Model) Reentrant() bool { return false }

type predictReq struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Image  string `json:"image"`
	Coords string `json:"coords"`
}

type predictResp struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Alpha  string `json:"alpha"`
}

/*
	curl -X POST "$BASE_URL/predict" \
	  -H "Content-Type: application/json" \
	  -d '{"width": 384, "height": 256, "image": "<base64 png>", "coords": "<base64 f32le>"}'

{"width": 384, "height": 256, "alpha": "<base64 16-bit gray png>"}
*/
func (m *Model) Predict(ctx context.Context, in *model.Input) (*model.Output, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	body, err := encodeInput(in)
	if err != nil {
		return nil, err
	}

	resp := &predictResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: m.baseURL + predictPath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": "application/json"},
		Body:       body,
		Response:   resp,
		Timeout:    m.timeout,
	}
	if err = m.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	slog.Debug("get the response", "model", m.name, "width", resp.Width, "height", resp.Height)

	return decodeAlpha(resp)
}

func encodeInput(in *model.Input) (*predictReq, error) {
	img := image.NewNRGBA(image.Rect(0, 0, in.Width, in.Height))
	coords := make([]byte, 0, in.Width*in.Height*2*4)
	for i := 0; i < in.Width*in.Height; i++ {
		px := in.Data[i*in.Channels : (i+1)*in.Channels]
		o := i * 4
		img.Pix[o] = to8(px[0])
		img.Pix[o+1] = to8(px[1])
		img.Pix[o+2] = to8(px[2])
		img.Pix[o+3] = 0xff
		coords = binary.LittleEndian.AppendUint32(coords, math.Float32bits(px[3]))
		coords = binary.LittleEndian.AppendUint32(coords, math.Float32bits(px[4]))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode input png: %w", err)
	}

	return &predictReq{
		Width:  in.Width,
		Height: in.Height,
		Image:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		Coords: base64.StdEncoding.EncodeToString(coords),
	}, nil
}

func decodeAlpha(resp *predictResp) (*model.Output, error) {
	data, err := base64.StdEncoding.DecodeString(resp.Alpha)
	if err != nil {
		return nil, fmt.Errorf("decode alpha base64: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode alpha png: %w", err)
	}

	b := img.Bounds()
	if b.Dx() != resp.Width || b.Dy() != resp.Height {
		return nil, fmt.Errorf("alpha is %dx%d, response says %dx%d", b.Dx(), b.Dy(), resp.Width, resp.Height)
	}

	out := &model.Output{Width: b.Dx(), Height: b.Dy(), Alpha: make([]float32, b.Dx()*b.Dy())}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			out.Alpha[y*b.Dx()+x] = float32(g.Y) / 0xffff
		}
	}
	return out, nil
}

func to8(v float32) uint8 {
	return uint8(math.Round(float64(min(max(v, 0), 1)) * 255))
}
