package render

import "errors"

// ErrStructural marks failures that mean the rewrite and serialization passes
// disagree or the output could not be produced. They are never retried.
var ErrStructural = errors.New("structural render error")
