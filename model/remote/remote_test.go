package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/skyreplace/model"
	nhttp "github.com/chaos-io/skyreplace/util/http"
)

// fakeServer 对每个像素返回 row 坐标作为 alpha
func fakeServer(t *testing.T, checksum string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(healthResp{Status: "ok", Model: "skyar-r50", Checksum: checksum})
	})
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req predictReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		raw, err := base64.StdEncoding.DecodeString(req.Image)
		require.NoError(t, err)
		img, err := png.Decode(bytes.NewReader(raw))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, req.Width, req.Height), img.Bounds())

		coords, err := base64.StdEncoding.DecodeString(req.Coords)
		require.NoError(t, err)
		require.Len(t, coords, req.Width*req.Height*2*4)

		alpha := image.NewGray16(image.Rect(0, 0, req.Width, req.Height))
		for i := 0; i < req.Width*req.Height; i++ {
			row := math.Float32frombits(binary.LittleEndian.Uint32(coords[i*8:]))
			alpha.SetGray16(i%req.Width, i/req.Width, color.Gray16{Y: uint16(row * 0xffff)})
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, alpha))

		_ = json.NewEncoder(w).Encode(predictResp{
			Width:  req.Width,
			Height: req.Height,
			Alpha:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func input(w, h int) *model.Input {
	in := &model.Input{Width: w, Height: h, Channels: model.Channels, Data: make([]float32, w*h*model.Channels)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := (y*w + x) * model.Channels
			in.Data[o+2] = 0.8
			in.Data[o+3] = float32(y) / float32(h-1)
			in.Data[o+4] = float32(x) / float32(w-1)
		}
	}
	return in
}

func TestLoader_Predict(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, "abc123")
	m, err := NewLoader(srv.URL+"/", WithChecksum("sha256:ABC123"), WithTimeout(5*time.Second)).Load(context.Background())
	require.NoError(t, err)
	assert.False(t, m.Reentrant())

	out, err := m.Predict(context.Background(), input(6, 5))
	require.NoError(t, err)
	assert.Equal(t, 6, out.Width)
	assert.Equal(t, 5, out.Height)
	assert.InDelta(t, 0, out.Alpha[0], 1e-4)
	assert.InDelta(t, 1, out.Alpha[len(out.Alpha)-1], 1e-4)
	assert.InDelta(t, 0.5, out.Alpha[2*6+3], 1e-4)
}

func TestLoader_Errors(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, "abc123")

	_, err := NewLoader(srv.URL, WithChecksum("def456")).Load(context.Background())
	assert.ErrorIs(t, err, model.ErrChecksumMismatch)

	_, err = NewLoader("").Load(context.Background())
	assert.ErrorIs(t, err, model.ErrCheckpointNotFound)

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	_, err = NewLoader(down.URL).Load(context.Background())
	assert.ErrorIs(t, err, model.ErrCheckpointNotFound)
}

func TestModel_PredictErrors(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, "")
	m, err := NewLoader(srv.URL).Load(context.Background())
	require.NoError(t, err)

	_, err = m.Predict(context.Background(), &model.Input{Width: 1, Height: 1, Channels: 3, Data: make([]float32, 3)})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}
		_, _ = w.Write([]byte(`{"width":2,"height":2,"alpha":"not base64!"}`))
	}))
	defer broken.Close()

	m, err = NewLoader(broken.URL).Load(context.Background())
	require.NoError(t, err)
	_, err = m.Predict(context.Background(), input(2, 2))
	assert.ErrorContains(t, err, "decode alpha")
}

func TestDecodeAlpha_SizeMismatch(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray16(image.Rect(0, 0, 3, 3))))

	_, err := decodeAlpha(&predictResp{Width: 4, Height: 3, Alpha: base64.StdEncoding.EncodeToString(buf.Bytes())})
	assert.ErrorContains(t, err, "alpha is 3x3")
}

type recordingClient struct {
	uris []string
}

func (c *recordingClient) DoHTTPRequest(_ context.Context, p *nhttp.RequestParam) error {
	c.uris = append(c.uris, p.RequestURI)
	return errors.New("offline")
}

func TestLoader_Client(t *testing.T) {
	t.Parallel()

	// 默认客户端带上 WithTimeout 的超时
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	l := NewLoader(slow.URL, WithTimeout(50*time.Millisecond))
	_, ok := l.cli.(*nhttp.HTTPClient)
	assert.True(t, ok)
	_, err := l.Load(context.Background())
	assert.ErrorIs(t, err, model.ErrCheckpointNotFound)

	// WithClient 优先于默认客户端
	cli := &recordingClient{}
	_, err = NewLoader("http://matting.local", WithClient(cli), WithTimeout(time.Second)).Load(context.Background())
	assert.ErrorIs(t, err, model.ErrCheckpointNotFound)
	assert.Equal(t, []string{"http://matting.local/health"}, cli.uris)
}
