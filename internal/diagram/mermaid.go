package diagram

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const renderScript = `async (src) => {
	mermaid.initialize({ startOnLoad: false, securityLevel: "strict" });
	const { svg } = await mermaid.render("docpress-diagram", src);
	return svg;
}`

// DefaultScriptURL is the mermaid bundle loaded when no ScriptURL is set.
const DefaultScriptURL = "https://cdn.jsdelivr.net/npm/mermaid@10/dist/mermaid.min.js"

// MermaidOptions configures the mermaid renderer.
type MermaidOptions struct {
	BrowserBin string        // pre-installed Chrome; empty lets rod download one
	ScriptURL  string        // mermaid.min.js location; empty uses DefaultScriptURL
	Timeout    time.Duration // per diagram
	PoolSize   int           // 0 derives from GOMAXPROCS
}

// Mermaid renders mermaid diagrams in headless Chrome driven by go-rod.
type Mermaid struct {
	pool    *Pool[*browser]
	script  string
	timeout time.Duration
}

var _ Renderer = (*Mermaid)(nil)

// NewMermaid returns a renderer. Browsers start on first use.
func NewMermaid(opts MermaidOptions) *Mermaid {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	script := opts.ScriptURL
	if script == "" {
		script = DefaultScriptURL
	}
	bin := opts.BrowserBin
	if bin == "" {
		bin = os.Getenv("ROD_BROWSER_BIN")
	}
	return &Mermaid{
		pool: NewPool(ResolvePoolSize(opts.PoolSize), func() *browser {
			return &browser{bin: bin}
		}),
		script:  script,
		timeout: timeout,
	}
}

// Render returns the SVG markup for src.
func (m *Mermaid) Render(ctx context.Context, src string) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", fmt.Errorf("%w: empty diagram", ErrRender)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	b, err := m.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer m.pool.Release(b)

	return b.render(ctx, m.script, src)
}

// Close shuts down every browser the renderer started.
func (m *Mermaid) Close() error {
	return m.pool.Close()
}

// browser is one lazily launched Chrome instance.
type browser struct {
	bin string

	mu      sync.Mutex
	browser *rod.Browser
	closed  bool
}

func (b *browser) ensure() error {
	if b.closed {
		return fmt.Errorf("%w: browser closed", ErrUnavailable)
	}
	if b.browser != nil {
		return nil
	}

	l := launcher.New()
	if b.bin != "" {
		l = l.Bin(b.bin)
	}
	// NoSandbox required for CI and containerized environments
	if os.Getenv("CI") == "true" || b.bin != "" {
		l = l.NoSandbox(true)
	}
	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("%w: launch: %v", ErrUnavailable, err)
	}

	rb := rod.New().ControlURL(u)
	if err := rb.Connect(); err != nil {
		return fmt.Errorf("%w: connect: %v", ErrUnavailable, err)
	}
	b.browser = rb
	return nil
}

func (b *browser) render(ctx context.Context, scriptURL, src string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensure(); err != nil {
		return "", err
	}

	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("%w: page: %v", ErrUnavailable, err)
	}
	defer page.Close()

	if err := page.AddScriptTag(scriptURL, ""); err != nil {
		return "", fmt.Errorf("%w: load mermaid: %v", ErrUnavailable, err)
	}

	res, err := page.Eval(renderScript, src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	svg := res.Value.Str()
	if !strings.Contains(svg, "<svg") {
		return "", fmt.Errorf("%w: no svg in output", ErrRender)
	}
	return svg, nil
}

func (b *browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}
