package export

import (
	"encoding/json"
	"fmt"
	"image/color"
	"runtime"
	"time"

	"github.com/matzehuels/vectorprint/pkg/cache"
	"github.com/matzehuels/vectorprint/pkg/errors"
	"github.com/matzehuels/vectorprint/pkg/ledger"
	"github.com/matzehuels/vectorprint/pkg/raster"
	"github.com/matzehuels/vectorprint/pkg/sizing"
	"github.com/matzehuels/vectorprint/pkg/style"
	"github.com/matzehuels/vectorprint/pkg/svgdoc"
)

// Request is one export of a catalog product.
type Request struct {
	ProductID      string            `json:"product_id"`
	Identity       ledger.Identity   `json:"-"`
	Style          style.Payload     `json:"style"`
	Format         raster.Format     `json:"format"`
	Size           sizing.Request    `json:"size"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Extras         map[string]string `json:"extras,omitempty"`
}

// Validate checks the request and normalizes the format name.
func (r *Request) Validate() error {
	if err := errors.ValidateProductID(r.ProductID); err != nil {
		return err
	}
	if r.Identity.IsZero() {
		return errors.New(errors.ErrCodeInvalidInput, "identity requires a user or guest id")
	}
	if err := errors.ValidateIdempotencyKey(r.IdempotencyKey); err != nil {
		return err
	}
	return validateRender(&r.Format, r.Style, r.Size)
}

func validateRender(format *raster.Format, p style.Payload, size sizing.Request) error {
	f, err := raster.ParseFormat(string(*format))
	if err != nil {
		return err
	}
	*format = f
	if err := size.Validate(); err != nil {
		return err
	}
	return p.Validate()
}

// Artifact is a delivered export.
type Artifact struct {
	Data      []byte
	MediaType string
	Filename  string
	Format    raster.Format
	Target    sizing.Target // zero for SVG
	Outcome   ledger.Outcome
	CacheHit  bool
}

// Options tune the Runner.
type Options struct {
	// MaxConcurrentRenders bounds in-flight rasterizations. Defaults to
	// GOMAXPROCS.
	MaxConcurrentRenders int

	// Precheck reads the ledger summary before rendering and fails fast
	// when nothing remains. The consume after rendering stays authoritative.
	Precheck bool

	// SourceDPI and MaxSourcePixels are passed to the rasterizer. Zero
	// uses the raster package defaults.
	SourceDPI       float64
	MaxSourcePixels int

	// CacheTTL is the lifetime of cached artifacts. Defaults to
	// cache.TTLArtifact.
	CacheTTL time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxConcurrentRenders <= 0 {
		o.MaxConcurrentRenders = runtime.GOMAXPROCS(0)
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = cache.TTLArtifact
	}
}

func (o Options) rasterOptions(bg *color.NRGBA) []raster.Option {
	opts := []raster.Option{raster.WithBackground(bg)}
	if o.SourceDPI > 0 {
		opts = append(opts, raster.WithSourceDPI(o.SourceDPI))
	}
	if o.MaxSourcePixels > 0 {
		opts = append(opts, raster.WithMaxSourcePixels(o.MaxSourcePixels))
	}
	return opts
}

// RenderDocument styles and renders src without metering. It backs local
// previews; exports go through Runner.Export.
func RenderDocument(name, src string, p style.Payload, format raster.Format, size sizing.Request, opts Options) (*Artifact, error) {
	if err := validateRender(&format, p, size); err != nil {
		return nil, err
	}
	styled, err := styleSource(src, p)
	if err != nil {
		return nil, err
	}
	if !format.IsRaster() {
		return vectorArtifact(name, styled), nil
	}
	target := sizing.Resolve(styled, size)
	data, err := raster.Render(styled, format, target, opts.rasterOptions(Background(p))...)
	if err != nil {
		return nil, err
	}
	return rasterArtifact(name, format, target, data), nil
}

func styleSource(src string, p style.Payload) (*svgdoc.Document, error) {
	doc, err := svgdoc.ParseString(src)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, err, "parse base document")
	}
	return style.Apply(doc, p)
}

func vectorArtifact(name string, doc *svgdoc.Document) *Artifact {
	return &Artifact{
		Data:      []byte(doc.String()),
		MediaType: raster.FormatSVG.MediaType(),
		Filename:  Filename(name, raster.FormatSVG, sizing.Target{}),
		Format:    raster.FormatSVG,
	}
}

func rasterArtifact(name string, format raster.Format, target sizing.Target, data []byte) *Artifact {
	return &Artifact{
		Data:      data,
		MediaType: format.MediaType(),
		Filename:  Filename(name, format, target),
		Format:    format,
		Target:    target,
	}
}

// Filename suggests a download name: <product>.svg for vectors and
// <product>-<w>x<h>.<ext> for rasters.
func Filename(productID string, format raster.Format, target sizing.Target) string {
	if !format.IsRaster() {
		return productID + ".svg"
	}
	return fmt.Sprintf("%s-%dx%d.%s", productID, target.Width, target.Height, format.Extension())
}

// Background returns the padding color for a payload, or nil for
// transparent padding. Colors the rasterizer cannot parse pad transparently.
func Background(p style.Payload) *color.NRGBA {
	if p.TransparentBackground() || p.BackgroundColor == "" {
		return nil
	}
	c, err := raster.ParseColor(p.BackgroundColor)
	if err != nil || c == nil {
		return nil
	}
	if p.BackgroundOpacity != nil && *p.BackgroundOpacity < 1 {
		c.A = uint8(float64(c.A) * *p.BackgroundOpacity)
	}
	return c
}

func styleHash(p style.Payload) string {
	data, _ := json.Marshal(p)
	return cache.Hash(data)
}
