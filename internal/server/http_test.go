package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestProductsAPI(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/api/products", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got struct {
		Default  string `json:"default"`
		Products []struct {
			ID      string  `json:"id"`
			Name    string  `json:"name"`
			Price   float64 `json:"price"`
			Overlay string  `json:"overlay"`
			Ready   bool    `json:"ready"`
		} `json:"products"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ruby", got.Default)
	require.Len(t, got.Products, 2)
	assert.Equal(t, "SINAG", got.Products[0].Name)
	assert.Equal(t, 450.0, got.Products[0].Price)
	assert.True(t, got.Products[0].Ready)
	assert.False(t, got.Products[1].Ready)

	resp, _ = get(t, ts.URL+"/api/nothing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAssetsCaching(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/assets/glasses/ruby.png", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "public, max-age=86400", resp.Header.Get("Cache-Control"))
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)
	_, err := png.Decode(bytes.NewReader(body))
	require.NoError(t, err)

	resp, body = get(t, ts.URL+"/assets/glasses/ruby.png", http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
	assert.Empty(t, body)

	resp, _ = get(t, ts.URL+"/assets/glasses/onyx.png", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStaticFallback(t *testing.T) {
	static := fstest.MapFS{
		"index.html": {Data: []byte("<html>try-on</html>")},
		"js/app.js":  {Data: []byte("console.log('hi')")},
	}
	_, ts := newTestServer(t, nil, WithStatic(static))

	resp, body := get(t, ts.URL+"/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>try-on</html>", string(body))

	resp, body = get(t, ts.URL+"/js/app.js", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "console.log('hi')", string(body))

	resp, body = get(t, ts.URL+"/shop/ruby", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "client routes get the index page")
	assert.Equal(t, "<html>try-on</html>", string(body))

	for _, p := range []string{"/missing.png", "/missing.jpg", "/missing.svg", "/css/missing.css", "/js/missing.js"} {
		resp, _ = get(t, ts.URL+p, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, p)
	}
}

func snapshotRequest(t *testing.T, url string, photo []byte, landmarks any, product string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("photo", "photo.png")
	require.NoError(t, err)
	_, err = fw.Write(photo)
	require.NoError(t, err)
	lm, err := json.Marshal(landmarks)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("landmarks", string(lm)))
	if product != "" {
		require.NoError(t, mw.WriteField("product", product))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/api/snapshot", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSnapshot(t *testing.T) {
	_, ts := newTestServer(t, nil)
	photo := solidPNG(t, 640, 480, color.NRGBA{G: 255, A: 255})

	resp := snapshotRequest(t, ts.URL, photo, scenarioLandmarks(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 640, 480), img.Bounds())

	r, g, _, _ := img.At(250, 214).RGBA()
	assert.Equal(t, uint32(0xffff), r, "overlay drawn over the eyes")
	assert.Zero(t, g)
	r, g, _, _ = img.At(20, 20).RGBA()
	assert.Zero(t, r)
	assert.Equal(t, uint32(0xffff), g, "photo untouched elsewhere")
}

func TestSnapshotErrors(t *testing.T) {
	_, ts := newTestServer(t, nil)
	photo := solidPNG(t, 64, 48, color.NRGBA{G: 255, A: 255})

	resp := snapshotRequest(t, ts.URL, photo, [][]any{}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = snapshotRequest(t, ts.URL, photo, scenarioLandmarks(), "onyx")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = snapshotRequest(t, ts.URL, photo, scenarioLandmarks(), "sun")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = snapshotRequest(t, ts.URL, []byte("not an image"), scenarioLandmarks(), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = snapshotRequest(t, ts.URL, photo, "faces", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) {
		c.ListenAddr = "127.0.0.1:0"
		c.HealthCheckInterval = 10 * time.Millisecond
	})
	ctx := context.Background()

	require.NoError(t, srv.Start(ctx))
	assert.ErrorIs(t, srv.Start(ctx), ErrServerAlreadyRunning)
	assert.True(t, srv.GetStats().Running)

	resp, body := get(t, "http://"+srv.Addr()+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(stopCtx))
	assert.ErrorIs(t, srv.Stop(stopCtx), ErrServerNotRunning)
	assert.False(t, srv.GetStats().Running)

	require.NoError(t, srv.Close())
	assert.ErrorIs(t, srv.Start(ctx), ErrServerClosed)
}

func TestNewServerRejectsBadConfig(t *testing.T) {
	_, err := NewServer(DefaultServerConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	catalogSrv, _ := newTestServer(t, nil)
	cfg := DefaultServerConfig()
	cfg.Pipeline.Alpha = 0
	_, err = NewServer(cfg, catalogSrv.Catalog())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFrameBuffersDropOversized(t *testing.T) {
	big := frameBuffers.Get()
	big.Grow(2 * maxPooledFrameBuffer)
	frameBuffers.Put(big)

	var got []*bytes.Buffer
	for i := 0; i < 4; i++ {
		buf := frameBuffers.Get()
		assert.LessOrEqual(t, buf.Cap(), maxPooledFrameBuffer)
		got = append(got, buf)
	}
	for _, buf := range got {
		frameBuffers.Put(buf)
	}
}
