// Package jsexpr builds JavaScript expressions from Go values for evaluation
// in a page. Arguments are JSON encoded, which is valid JavaScript literal
// syntax, so selectors and text never need manual escaping.
package jsexpr

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Quote returns s as a JavaScript string literal.
func Quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		// Strings always encode; keep the signature simple for callers.
		panic(fmt.Sprintf("jsexpr: quoting string: %v", err))
	}
	return string(b)
}

// Call renders an immediately invoked call of the function source fn with the
// given arguments, e.g. Call("(sel) => !!document.querySelector(sel)", ".ad").
func Call(fn string, args ...any) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("jsexpr: encoding argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	return "(" + fn + ")(" + strings.Join(encoded, ", ") + ")", nil
}

// MustCall is Call for arguments that are known to encode, such as strings,
// numbers and string slices.
func MustCall(fn string, args ...any) string {
	s, err := Call(fn, args...)
	if err != nil {
		panic(err)
	}
	return s
}
