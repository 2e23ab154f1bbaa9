package asset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/glasster/glasster/internal/core/observability/log"
	"github.com/glasster/glasster/internal/tryon/geometry"
)

// Product is one catalogue entry. Overlay and Thumb are paths relative to
// the asset root.
type Product struct {
	ID          string          `json:"id" yaml:"id" validate:"required"`
	Name        string          `json:"name" yaml:"name" validate:"required"`
	Price       float64         `json:"price" yaml:"price" validate:"gte=0"`
	Overlay     string          `json:"overlay" yaml:"overlay" validate:"required"`
	Thumb       string          `json:"thumb,omitempty" yaml:"thumb,omitempty"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Sizing      geometry.Sizing `json:"sizing" yaml:"sizing"`
}

type catalogFile struct {
	Default  string    `yaml:"default"`
	Products []Product `yaml:"products" validate:"required,min=1,dive"`
}

// Catalog holds products and their overlays. Overlays start as loading
// placeholders and become ready once Load decodes them.
type Catalog struct {
	mu       sync.RWMutex
	products []Product
	byID     map[string]int
	overlays map[string]*Overlay
	fallback string

	logger log.Log
}

func LoadCatalogFile(path string, logger log.Log) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data, logger)
}

func ParseCatalog(data []byte, logger log.Log) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return NewCatalog(file.Products, file.Default, logger)
}

// NewCatalog indexes products. defaultID may be empty, in which case the
// first product is the default.
func NewCatalog(products []Product, defaultID string, logger log.Log) (*Catalog, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("%w: no products", ErrInvalidCatalog)
	}

	c := &Catalog{
		products: make([]Product, 0, len(products)),
		byID:     make(map[string]int, len(products)),
		overlays: make(map[string]*Overlay, len(products)),
		logger:   logger.With(log.String("component", "catalog")),
	}
	for _, p := range products {
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateProduct, p.ID)
		}
		c.byID[p.ID] = len(c.products)
		c.products = append(c.products, p)
		c.overlays[p.ID] = &Overlay{ID: p.ID, Sizing: p.Sizing}
	}

	c.fallback = products[0].ID
	if defaultID != "" {
		if _, ok := c.byID[defaultID]; !ok {
			return nil, fmt.Errorf("%w: default %q", ErrUnknownProduct, defaultID)
		}
		c.fallback = defaultID
	}
	return c, nil
}

func (c *Catalog) Products() []Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

func (c *Catalog) Product(id string) (Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return Product{}, false
	}
	return c.products[i], true
}

func (c *Catalog) DefaultID() string {
	return c.fallback
}

// Overlay returns the overlay of a product, ready or not. It is nil for
// unknown ids.
func (c *Catalog) Overlay(id string) *Overlay {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.overlays[id]
}

// SetOverlay replaces the overlay of a known product.
func (c *Catalog) SetOverlay(o *Overlay) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[o.ID]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProduct, o.ID)
	}
	c.overlays[o.ID] = o
	return nil
}

// Load decodes every overlay image from fsys concurrently. A product whose
// image fails to load stays not ready; the joined errors are returned for
// reporting only.
func (c *Catalog) Load(ctx context.Context, fsys fs.FS, workers int) error {
	products := c.Products()

	var (
		mu   sync.Mutex
		errs []error
	)

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for _, p := range products {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			o, err := c.loadOne(fsys, p)
			if err != nil {
				c.logger.Warn("Overlay not loaded",
					log.String("product", p.ID),
					log.String("path", p.Overlay),
					log.Error(err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			_ = c.SetOverlay(o)
			c.logger.Debug("Overlay loaded",
				log.String("product", p.ID),
				log.Int("width", o.PixelWidth),
				log.Int("height", o.PixelHeight))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (c *Catalog) loadOne(fsys fs.FS, p Product) (*Overlay, error) {
	f, err := fsys.Open(p.Overlay)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(p.ID, f, p.Sizing)
}
