package hazards

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// File is the on-disk hazards document.
type File struct {
	Hazards []Definition `yaml:"hazards" toml:"hazards"`
}

// LoadFile reads hazards from a YAML or TOML file, chosen by extension.
func LoadFile(path string) ([]Definition, error) {
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return nil, fmt.Errorf("hazards: read %s: %w", path, errRead)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes a hazards document. ext selects the format; anything other
// than .toml is read as YAML.
func Parse(data []byte, ext string) ([]Definition, error) {
	var doc File
	switch strings.ToLower(ext) {
	case ".toml":
		meta, errDecode := toml.Decode(string(data), &doc)
		if errDecode != nil {
			return nil, fmt.Errorf("hazards: parse toml: %w", errDecode)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("hazards: unknown toml key %s", undecoded[0].String())
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if errDecode := decoder.Decode(&doc); errDecode != nil && !errors.Is(errDecode, io.EOF) {
			return nil, fmt.Errorf("hazards: parse yaml: %w", errDecode)
		}
	}
	for i := range doc.Hazards {
		doc.Hazards[i].Source = SourceFile
	}
	return doc.Hazards, nil
}
