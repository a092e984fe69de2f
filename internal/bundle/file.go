package bundle

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a bundle document from a YAML file, fills defaults, and
// validates it.
func LoadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "bundle: read %s", path)
	}

	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, eris.Wrapf(err, "bundle: parse %s", path)
	}

	b.SetDefaults()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}
