// Package diagram renders diagram fences to inline SVG.
package diagram

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnavailable means the rendering tool could not be started.
	ErrUnavailable = errors.New("diagram renderer unavailable")
	// ErrRender means the tool ran but rejected the diagram source.
	ErrRender = errors.New("diagram render failed")
)

// Renderer turns diagram source into an SVG document fragment.
type Renderer interface {
	Render(ctx context.Context, src string) (string, error)
}

// IsDialect reports whether a fence language names a diagram dialect.
func IsDialect(lang string) bool {
	switch strings.ToLower(lang) {
	case "mermaid", "mmd":
		return true
	}
	return false
}
