// Package jsoncodec is the single JSON entry point for taskflow. Everything
// that touches the wire, the REST bodies or the snapshot files goes through it.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var (
	stdAPI = sonic.ConfigStd

	// numberAPI keeps JSON numbers as json.Number so integer payload fields
	// survive a decode into map[string]any without float rounding.
	numberAPI = sonic.Config{
		EscapeHTML:       true,
		SortMapKeys:      true,
		CompactMarshaler: true,
		CopyString:       true,
		ValidateString:   true,
		UseNumber:        true,
	}.Froze()
)

func Marshal(v any) ([]byte, error) {
	return stdAPI.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return stdAPI.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return stdAPI.Unmarshal(data, v)
}

// UnmarshalNumber decodes like Unmarshal but leaves numbers as json.Number.
func UnmarshalNumber(data []byte, v any) error {
	return numberAPI.Unmarshal(data, v)
}

// Valid reports whether data is a well-formed JSON document.
func Valid(data []byte) bool {
	return stdAPI.Valid(data)
}

func Encode(w io.Writer, v any) error {
	return stdAPI.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return stdAPI.NewDecoder(r).Decode(v)
}
