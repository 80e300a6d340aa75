package mapping

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/ownertag/pkg/constants"
	"github.com/agentstation/ownertag/pkg/errors"
)

// exampleMapping is written by WriteExampleFile.
var exampleMapping = map[string]string{
	"john":  "John-Folder",
	"jane":  "Jane-Documents",
	"admin": "Admin-Files",
}

// LoadFile reads an owner -> tag mapping from a JSON or YAML file.
// A missing file yields an empty mapping and found == false; malformed
// content is an error so a bad mapping never silently falls back to
// prefix tags.
func LoadFile(path string) (mapping map[string]string, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, false, nil
		}
		return nil, false, errors.WrapIO("read", path, err)
	}

	mapping, err = Parse(data, formatOf(path), path)
	if err != nil {
		return nil, true, err
	}
	return mapping, true, nil
}

// Parse decodes and validates mapping content. JSON is accepted by the YAML
// decoder, so format only labels errors.
func Parse(data []byte, format, file string) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewParseError(format, file, "mapping must be an object of owner to tag name", err)
	}

	mapping := make(map[string]string, len(raw))
	var problems []string
	for owner, value := range raw {
		tag, ok := value.(string)
		switch {
		case owner == "":
			problems = append(problems, "empty owner name")
		case !ok:
			problems = append(problems, fmt.Sprintf("owner %q: tag name must be a string, got %T", owner, value))
		case strings.TrimSpace(tag) == "":
			problems = append(problems, fmt.Sprintf("owner %q: tag name is empty", owner))
		default:
			mapping[owner] = tag
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, errors.NewValidationError("owner_mapping", file, strings.Join(problems, "; "))
	}
	return mapping, nil
}

// WriteExampleFile writes an example mapping to path unless a file already
// exists there. It reports whether the file was written.
func WriteExampleFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	var (
		data []byte
		err  error
	)
	if formatOf(path) == "yaml" {
		data, err = yaml.Marshal(exampleMapping)
	} else {
		data, err = yaml.MarshalWithOptions(exampleMapping, yaml.JSON())
	}
	if err != nil {
		return false, errors.WrapParse(formatOf(path), path, err)
	}

	if err := os.WriteFile(path, data, constants.FilePermissions); err != nil {
		return false, errors.WrapIO("write", path, err)
	}
	return true, nil
}

// formatOf guesses the mapping format from the file extension.
func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}
