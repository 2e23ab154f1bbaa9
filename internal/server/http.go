package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/glasster/glasster/internal/core/observability/log"
	"github.com/glasster/glasster/internal/tryon/asset"
	"github.com/glasster/glasster/internal/tryon/geometry"
	"github.com/glasster/glasster/internal/tryon/landmark"
	"github.com/glasster/glasster/internal/tryon/pipeline"
)

// assetExts are answered with 404 instead of the index page when missing.
var assetExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".svg":  true,
	".css":  true,
	".js":   true,
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/tryon", s.handleTryOn)
	mux.HandleFunc("GET /api/products", s.handleProducts)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/", http.NotFound)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /assets/", s.handleAsset)
	mux.HandleFunc("GET /", s.handleStatic)
	return mux
}

type productView struct {
	asset.Product
	Ready bool `json:"ready"`
}

type productsResponse struct {
	Default  string        `json:"default"`
	Products []productView `json:"products"`
}

func (s *Server) handleProducts(w http.ResponseWriter, _ *http.Request) {
	products := s.catalog.Products()
	resp := productsResponse{
		Default:  s.catalog.DefaultID(),
		Products: make([]productView, 0, len(products)),
	}
	for _, p := range products {
		resp.Products = append(resp.Products, productView{
			Product: p,
			Ready:   s.catalog.Overlay(p.ID).Ready(),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.GetStats())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": atomic.LoadInt64(&s.sessionCount),
	})
}

// handleSnapshot composites the overlay onto an uploaded photo. The form
// carries the photo, the landmarks the client found in it (normalised, one
// list per face) and optionally the product.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	if err := r.ParseMultipartForm(s.config.MaxUploadSize); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	photo, _, err := image.Decode(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode photo: %w", err))
		return
	}

	var faces [][]landmark.Point
	if err := json.Unmarshal([]byte(r.FormValue("landmarks")), &faces); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: landmarks: %v", ErrInvalidMessage, err))
		return
	}

	productID := r.FormValue("product")
	if productID == "" {
		productID = s.catalog.DefaultID()
	}
	if _, ok := s.catalog.Product(productID); !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", asset.ErrUnknownProduct, productID))
		return
	}

	img, err := s.snapshot(photo, landmark.Result{Faces: faces}, s.catalog.Overlay(productID))
	switch {
	case errors.Is(err, ErrOverlayLoading):
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	case errors.Is(err, ErrNoFace):
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	// photo sized, kept out of the per-frame pool
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// snapshot runs a fresh pipeline on a single frame, so the result is the
// raw placement of that photo.
func (s *Server) snapshot(photo image.Image, result landmark.Result, overlay *asset.Overlay) (*image.RGBA, error) {
	if !overlay.Ready() {
		return nil, ErrOverlayLoading
	}
	p, err := pipeline.New(s.config.Pipeline, pipeline.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	b := photo.Bounds()
	vp := geometry.Viewport{Width: b.Dx(), Height: b.Dy()}
	if _, ok := p.ProcessLandmarks(result, overlay, vp); !ok {
		return nil, ErrNoFace
	}
	return p.Snapshot(photo, overlay), nil
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/assets/")
	if s.assets == nil || !s.serveFile(w, r, s.assets, name) {
		http.NotFound(w, r)
	}
}

// handleStatic serves the front-end. Unknown paths get the index page so
// client-side routes resolve, except for asset-like paths.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if s.static == nil {
		http.NotFound(w, r)
		return
	}
	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name == "" {
		name = "index.html"
	}
	if s.serveFile(w, r, s.static, name) {
		return
	}
	if assetExts[strings.ToLower(path.Ext(name))] {
		http.NotFound(w, r)
		return
	}
	if !s.serveFile(w, r, s.static, "index.html") {
		http.NotFound(w, r)
	}
}

// serveFile writes name from fsys with an ETag and the static cache policy.
// Conditional requests are answered by http.ServeContent. It reports false
// when name is not a regular file.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, fsys fs.FS, name string) bool {
	name = path.Clean(name)
	if !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil || info.IsDir() {
		return false
	}
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		s.logger.Warn("Failed to read static file", log.String("path", name), log.Error(err))
		return false
	}

	w.Header().Set("ETag", fmt.Sprintf(`"%016x"`, xxhash.Sum64(data)))
	if maxAge := s.config.StaticMaxAge; maxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(maxAge.Seconds())))
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	http.ServeContent(w, r, name, info.ModTime(), bytes.NewReader(data))
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", log.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
