package render

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/openfroyo/clientrb/pkg/attributes"
)

// Section names, in render order.
const (
	SectionIdentity      = "identity"
	SectionLogLevel      = "log_level"
	SectionSSLVerifyMode = "ssl_verify_mode"
	SectionPassthrough   = "passthrough"
	SectionRequires      = "requires"
	SectionHandlers      = "handlers"
	SectionProxies       = "proxies"
	SectionOhai          = "ohai"
	SectionDropIn        = "drop_in"
)

type section struct {
	name   string
	encode Encoder
}

// Renderer runs the encoders in their fixed order.
type Renderer struct {
	sections []section
}

// Option configures a Renderer.
type Option func(*options)

type options struct {
	disableDefaults bool
}

// WithoutDefaults makes missing identity settings an error instead of
// falling back to the built-in defaults.
func WithoutDefaults() Option {
	return func(o *options) { o.disableDefaults = true }
}

// New creates a renderer.
func New(opts ...Option) *Renderer {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Renderer{
		sections: []section{
			{name: SectionIdentity, encode: IdentityEncoder(!o.disableDefaults)},
			{name: SectionLogLevel, encode: LogLevel},
			{name: SectionSSLVerifyMode, encode: SSLVerifyMode},
			{name: SectionPassthrough, encode: Passthrough},
			{name: SectionRequires, encode: Requires},
			{name: SectionHandlers, encode: Handlers},
			{name: SectionProxies, encode: Proxies},
			{name: SectionOhai, encode: Ohai},
			{name: SectionDropIn, encode: DropIn},
		},
	}
}

// Render encodes tree into a document. The first encoder error aborts the
// render and no document is returned.
func (r *Renderer) Render(tree *attributes.Tree) (*Document, error) {
	if tree == nil {
		tree = attributes.NewTree(nil)
	}
	var lines []string
	for _, s := range r.sections {
		out, err := s.encode(tree)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", s.name, err)
		}
		lines = append(lines, out...)
	}
	return &Document{Lines: lines}, nil
}

// Render encodes tree with a default Renderer.
func Render(tree *attributes.Tree) (*Document, error) {
	return New().Render(tree)
}

// Document is a rendered client.rb.
type Document struct {
	Lines []string `json:"lines"`
}

// Bytes returns the document text, one trailing newline per line.
func (d *Document) Bytes() []byte {
	var buf bytes.Buffer
	for _, l := range d.Lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// String returns the document text.
func (d *Document) String() string {
	return string(d.Bytes())
}

// Digest returns the hex sha256 of the document text.
func (d *Document) Digest() string {
	return Digest(d.Bytes())
}

// Contains reports whether line appears verbatim as a whole line.
func (d *Document) Contains(line string) bool {
	for _, l := range d.Lines {
		if l == line {
			return true
		}
	}
	return false
}

// LinesMatching returns the lines containing substr.
func (d *Document) LinesMatching(substr string) []string {
	var out []string
	for _, l := range d.Lines {
		if strings.Contains(l, substr) {
			out = append(out, l)
		}
	}
	return out
}

// Digest returns the hex sha256 of content.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ChangeDecision tells the caller whether the rendered document differs
// from what is deployed. It is computed per render and never stored.
type ChangeDecision struct {
	Changed        bool   `json:"changed"`
	Digest         string `json:"digest"`
	PreviousDigest string `json:"previous_digest,omitempty"`
}

// Decide compares doc byte for byte with the previous content. Without
// previous content the document always counts as changed.
func Decide(doc *Document, previous []byte, hadPrevious bool) ChangeDecision {
	content := doc.Bytes()
	d := ChangeDecision{Digest: Digest(content)}
	if !hadPrevious {
		d.Changed = true
		return d
	}
	d.PreviousDigest = Digest(previous)
	d.Changed = !bytes.Equal(content, previous)
	return d
}
