package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// manifestNames are the sidecar names looked up inside directory archives,
// in priority order.
var manifestNames = []string{"manifest.toml", "manifest.yaml", "manifest.yml"}

// Manifest carries the descriptive metadata an uploader attaches to a
// simulation run. All fields are optional.
type Manifest struct {
	Name        string   `toml:"name" yaml:"name" cbor:"name,omitempty"`
	Group       string   `toml:"group" yaml:"group" cbor:"group,omitempty"`
	Date        string   `toml:"date" yaml:"date" cbor:"date,omitempty"`
	Creator     string   `toml:"creator" yaml:"creator" cbor:"creator,omitempty"`
	Description string   `toml:"description" yaml:"description" cbor:"description,omitempty"`
	Variables   []string `toml:"variables" yaml:"variables" cbor:"variables,omitempty"`
	Channels    int      `toml:"channels" yaml:"channels" cbor:"channels,omitempty"`
	Meshes      int      `toml:"meshes" yaml:"meshes" cbor:"meshes,omitempty"`
	Samples     int      `toml:"samples" yaml:"samples" cbor:"samples,omitempty"`
}

// IsZero reports whether no field is set.
func (m Manifest) IsZero() bool {
	return m.Name == "" && m.Group == "" && m.Date == "" && m.Creator == "" &&
		m.Description == "" && len(m.Variables) == 0 &&
		m.Channels == 0 && m.Meshes == 0 && m.Samples == 0
}

// ReadManifest loads the manifest for loc. Directory archives keep it inside
// the directory; file archives keep it next to the archive as
// "<archive>.toml" or "<archive>.yaml". A missing manifest is not an error
// and yields the zero Manifest.
func ReadManifest(loc Locator) (Manifest, error) {
	var candidates []string
	if loc.Format == FormatDir {
		for _, n := range manifestNames {
			candidates = append(candidates, filepath.Join(loc.Path, n))
		}
	} else {
		candidates = []string{loc.Path + ".toml", loc.Path + ".yaml", loc.Path + ".yml"}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Manifest{}, unavailable("read manifest", path, err)
		}
		return parseManifest(path, data)
	}
	return Manifest{}, nil
}

func parseManifest(path string, data []byte) (Manifest, error) {
	var m Manifest
	var err error
	if strings.HasSuffix(path, ".toml") {
		err = toml.Unmarshal(data, &m)
	} else {
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("archive: parse manifest %s: %w", path, err)
	}
	return m, nil
}
