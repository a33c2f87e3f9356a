package render

import (
	"net/url"
	"strconv"
	"strings"
)

// ImageRegistry resolves dimensions for images that carry no explicit
// attribute block.
type ImageRegistry interface {
	Dimensions(src string) (width, height int, ok bool)
}

// QueryDimensions reads w/width and h/height from the image URL query, as
// written by image CDNs and resizing proxies.
type QueryDimensions struct{}

func (QueryDimensions) Dimensions(src string) (int, int, bool) {
	u, err := url.Parse(src)
	if err != nil || u.RawQuery == "" {
		return 0, 0, false
	}
	q := u.Query()
	w := firstInt(q, "width", "w")
	h := firstInt(q, "height", "h")
	return w, h, w > 0 || h > 0
}

func firstInt(q url.Values, keys ...string) int {
	for _, k := range keys {
		if n, err := strconv.Atoi(strings.TrimSuffix(q.Get(k), "px")); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// parseAttrBlock parses a leading "{width=640 height=480}" block. It returns
// the dimensions found and the number of bytes the block spans.
func parseAttrBlock(s string) (width, height, n int, ok bool) {
	if !strings.HasPrefix(s, "{") {
		return 0, 0, 0, false
	}
	end := strings.IndexByte(s, '}')
	if end < 0 {
		return 0, 0, 0, false
	}
	for _, field := range strings.Fields(s[1:end]) {
		key, value, found := strings.Cut(field, "=")
		if !found {
			continue
		}
		value = strings.TrimSuffix(strings.Trim(value, `"'`), "px")
		v, err := strconv.Atoi(value)
		if err != nil || v <= 0 {
			continue
		}
		switch strings.ToLower(key) {
		case "width", "w":
			width = v
		case "height", "h":
			height = v
		}
	}
	if width == 0 && height == 0 {
		return 0, 0, 0, false
	}
	return width, height, end + 1, true
}
