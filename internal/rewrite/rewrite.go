package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
)

// ResolveFunc maps a specifier as written to the specifier that should replace
// it. Returning the input, or "", leaves the literal unchanged.
type ResolveFunc func(specifier string) string

// Identity is the default ResolveFunc.
func Identity(specifier string) string { return specifier }

// source maps are not carried through rewriting, so the trailing reference is
// dropped instead of pointing at stale offsets.
var sourceMapPattern = regexp.MustCompile(`(?m)^//# sourceMappingURL=.*$\n?`)

// Rewrite replaces each specifier literal whose resolution differs with the
// JSON-quoted resolution and strips the sourceMappingURL comment. A parse
// failure is returned as *ParseError and nothing is rewritten.
func Rewrite(ctx context.Context, src string, resolve ResolveFunc) (string, error) {
	if resolve == nil {
		resolve = Identity
	}

	imports, err := FindImports(ctx, []byte(src))
	if err != nil {
		return "", err
	}

	edits := make([]Edit, 0, len(imports))
	for _, imp := range imports {
		resolved := resolve(imp.Specifier)
		if resolved == "" || resolved == imp.Specifier {
			continue
		}
		edits = append(edits, Edit{Start: imp.Start, End: imp.End, Text: quote(resolved)})
	}

	out, err := Apply(src, edits)
	if err != nil {
		return "", err
	}
	return StripSourceMap(out), nil
}

// StripSourceMap removes the first `//# sourceMappingURL=` line.
func StripSourceMap(src string) string {
	loc := sourceMapPattern.FindStringIndex(src)
	if loc == nil {
		return src
	}
	return src[:loc[0]] + src[loc[1]:]
}

func quote(value string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return `"` + value + `"`
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}
