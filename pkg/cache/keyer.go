package cache

// Keyer builds cache keys. Implementations must be deterministic: equal
// inputs give equal keys.
type Keyer interface {
	// ArtifactKey identifies a rendered artifact.
	ArtifactKey(productID string, opts ArtifactKeyOpts) string
}

// ArtifactKeyOpts holds every input that changes the rendered bytes.
// DocumentHash is the hash of the base document source and StyleHash the
// hash of the encoded style payload.
type ArtifactKeyOpts struct {
	DocumentHash string  `json:"document_hash"`
	StyleHash    string  `json:"style_hash"`
	Format       string  `json:"format"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
	SourceDPI    float64 `json:"source_dpi,omitempty"`

	// MaxSourcePixels is the rasterizer's source budget. Renders under
	// different budgets may differ.
	MaxSourcePixels int `json:"max_source_pixels,omitempty"`
}

// DefaultKeyer hashes key components with SHA-256.
type DefaultKeyer struct{}

// NewDefaultKeyer creates the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// ArtifactKey implements Keyer.
func (DefaultKeyer) ArtifactKey(productID string, opts ArtifactKeyOpts) string {
	return hashKey("artifact", productID, opts)
}

var _ Keyer = DefaultKeyer{}
