package pipeline

import (
	"encoding/json"
	"io"

	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Format selects the encoding used by Encode.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned by Encode for formats other than json and yaml.
var ErrUnknownFormat = zerr.New("unknown description format")

// Encode writes desc to w in the given format.
func Encode(w io.Writer, desc Description, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(desc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(desc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return zerr.With(ErrUnknownFormat, "format", string(format))
	}
}
