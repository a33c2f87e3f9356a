// Package mathtex typesets TeX formulas as MathML.
package mathtex

import (
	"errors"
	"fmt"
	"strings"

	"git.sr.ht/~mekyt/latex2mathml"
)

const mathMLNamespace = "http://www.w3.org/1998/Math/MathML"

// ErrTypeset reports a formula the typesetter could not handle. Callers fall
// back to showing the source.
var ErrTypeset = errors.New("math typesetting failed")

// Typesetter renders TeX src as an HTML fragment.
type Typesetter interface {
	Typeset(src string, display bool) (string, error)
}

// MathML converts TeX with latex2mathml.
type MathML struct{}

// Typeset validates src and converts it. Converter panics are reported as
// ErrTypeset.
func (MathML) Typeset(src string, display bool) (out string, err error) {
	src = strings.TrimSpace(src)
	if err := Validate(src); err != nil {
		return "", err
	}

	mode := "inline"
	if display {
		mode = "block"
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("%w: converter panic: %v", ErrTypeset, r)
		}
	}()
	out = latex2mathml.Convert(src, mathMLNamespace, mode, 2)
	if out == "" || !strings.Contains(out, "<math") {
		return "", fmt.Errorf("%w: empty conversion", ErrTypeset)
	}
	if strings.Contains(out, "<merror") {
		return "", fmt.Errorf("%w: converter reported an error", ErrTypeset)
	}
	return out, nil
}

// Validate checks the structure of a formula: non-empty, balanced braces and
// matched \begin/\end and \left/\right pairs.
func Validate(src string) error {
	if strings.TrimSpace(src) == "" {
		return fmt.Errorf("%w: empty formula", ErrTypeset)
	}

	depth := 0
	var envs []string
	lefts := 0
	for i := 0; i < len(src); i++ {
		switch c := src[i]; c {
		case '\\':
			name, n := command(src[i+1:])
			if n == 0 {
				// \{ \} \\ and friends
				i++
				continue
			}
			i += n
			switch name {
			case "left":
				lefts++
			case "right":
				if lefts == 0 {
					return fmt.Errorf("%w: \\right without \\left", ErrTypeset)
				}
				lefts--
			case "begin", "end":
				env, m := group(src[i+1:])
				if m == 0 {
					return fmt.Errorf("%w: \\%s without environment name", ErrTypeset, name)
				}
				i += m
				if name == "begin" {
					envs = append(envs, env)
					continue
				}
				if len(envs) == 0 || envs[len(envs)-1] != env {
					return fmt.Errorf("%w: unexpected \\end{%s}", ErrTypeset, env)
				}
				envs = envs[:len(envs)-1]
			}
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced '}'", ErrTypeset)
			}
		}
	}
	switch {
	case depth != 0:
		return fmt.Errorf("%w: unbalanced '{'", ErrTypeset)
	case len(envs) > 0:
		return fmt.Errorf("%w: unterminated \\begin{%s}", ErrTypeset, envs[len(envs)-1])
	case lefts != 0:
		return fmt.Errorf("%w: \\left without \\right", ErrTypeset)
	}
	return nil
}

// command returns the letters of the control word at the start of s.
func command(s string) (string, int) {
	n := 0
	for n < len(s) && (s[n] >= 'a' && s[n] <= 'z' || s[n] >= 'A' && s[n] <= 'Z') {
		n++
	}
	return s[:n], n
}

// group returns the contents of the {…} group at the start of s and the number
// of bytes consumed.
func group(s string) (string, int) {
	if len(s) == 0 || s[0] != '{' {
		return "", 0
	}
	end := strings.IndexByte(s, '}')
	if end < 0 {
		return "", 0
	}
	return s[1:end], end + 1
}
