package loaders

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/spaghettifunk/anima-resources/engine/core"
	"github.com/spaghettifunk/anima-resources/engine/resources"
)

// Material is the parsed form of an .amt file.
type Material struct {
	Name            string
	ShaderName      string
	DiffuseColour   [4]float32
	Shininess       float32
	DiffuseMapName  string
	SpecularMapName string
	NormalMapName   string
	AutoRelease     bool

	// Filled in when the loader resolves maps.
	DiffuseMap  *Image
	SpecularMap *Image
	NormalMap   *Image
}

// MaterialLoader parses .amt key=value files. With ResolveMaps set, the
// texture maps it names are loaded relative to the material as dependencies.
type MaterialLoader struct {
	ResolveMaps bool
}

func (ml MaterialLoader) Parse(scope *resources.Scope, data []byte) (*Material, error) {
	m, err := parseAMT(data)
	if err != nil {
		return nil, err
	}
	if !ml.ResolveMaps {
		return m, nil
	}

	maps := []struct {
		name string
		dst  **Image
	}{
		{m.DiffuseMapName, &m.DiffuseMap},
		{m.SpecularMapName, &m.SpecularMap},
		{m.NormalMapName, &m.NormalMap},
	}
	for _, mp := range maps {
		if mp.name == "" {
			continue
		}
		h, err := resources.LoadIn[Image](scope, scope.Resolve(mp.name))
		if err != nil {
			return nil, fmt.Errorf("material '%s' map '%s': %w", m.Name, mp.name, err)
		}
		// Images are immutable, so the material can keep the pixels
		// without pinning the texture cache entry.
		img := h.Get()
		h.Release()
		*mp.dst = &img
	}
	return m, nil
}

func parseAMT(data []byte) (*Material, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	m := &Material{}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			core.LogWarn("Skipping invalid material line %d: %s", lineNo, line)
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "name":
			m.Name = value
		case "shader":
			m.ShaderName = value
		case "diffuse_colour":
			fields := strings.Fields(value)
			if len(fields) != 4 {
				return nil, fmt.Errorf("line %d: diffuse_colour expects 4 values, got %d", lineNo, len(fields))
			}
			for i, v := range fields {
				f, err := strconv.ParseFloat(v, 32)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid diffuse_colour value %q", lineNo, v)
				}
				m.DiffuseColour[i] = float32(f)
			}
		case "shininess":
			f, err := strconv.ParseFloat(value, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid shininess value %q", lineNo, value)
			}
			m.Shininess = float32(f)
		case "diffuse_map_name":
			m.DiffuseMapName = value
		case "specular_map_name":
			m.SpecularMapName = value
		case "normal_map_name":
			m.NormalMapName = value
		case "autorelease":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid autorelease value %q", lineNo, value)
			}
			m.AutoRelease = b
		default:
			core.LogWarn("Unknown material key '%s' on line %d. Skipping...", key, lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := validateMaterial(m); err != nil {
		return nil, err
	}
	return m, nil
}

func validateMaterial(m *Material) error {
	if m.Name == "" {
		return fmt.Errorf("material name is required")
	}
	if m.ShaderName == "" {
		return fmt.Errorf("shader name is required")
	}
	for _, c := range m.DiffuseColour {
		if c < 0 || c > 1 {
			return fmt.Errorf("diffuse_colour values must be between 0.0 and 1.0")
		}
	}
	if m.Shininess < 0 {
		return fmt.Errorf("shininess must be a non-negative value")
	}
	return nil
}
