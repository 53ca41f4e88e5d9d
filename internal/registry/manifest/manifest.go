// Package manifest is a small add-in registry backed by XML manifest files.
// Scanning a folder records one YAML description per add-in under the
// registry's database directory.
package manifest

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrInvalidManifest = errors.New("invalid add-in manifest")

// Manifest is the XML add-in manifest:
//
//	<Addin id="TextEditor" namespace="MyApp" version="1.0" name="Text Editor">
//	  <Description>Edits text.</Description>
//	  <Runtime><Import assembly="TextEditor.dll"/></Runtime>
//	  <Dependencies><Addin id="Core" version="1.0"/></Dependencies>
//	  <Extension path="/MyApp/Editors">...</Extension>
//	</Addin>
type Manifest struct {
	XMLName      xml.Name     `xml:"Addin"`
	ID           string       `xml:"id,attr"`
	Namespace    string       `xml:"namespace,attr"`
	Version      string       `xml:"version,attr"`
	Name         string       `xml:"name,attr"`
	Category     string       `xml:"category,attr"`
	Author       string       `xml:"author,attr"`
	IsRoot       bool         `xml:"isroot,attr"`
	DescAttr     string       `xml:"description,attr"`
	DescElem     string       `xml:"Description"`
	Imports      []Import     `xml:"Runtime>Import"`
	Dependencies []Dependency `xml:"Dependencies>Addin"`
	Extensions   []Extension  `xml:"Extension"`
}

type Import struct {
	Assembly string `xml:"assembly,attr"`
	File     string `xml:"file,attr"`
}

type Dependency struct {
	ID      string `xml:"id,attr" yaml:"id"`
	Version string `xml:"version,attr" yaml:"version,omitempty"`
}

type Extension struct {
	Path string `xml:"path,attr"`
}

func (m *Manifest) FullID() string {
	if m.Namespace == "" {
		return m.ID
	}
	return m.Namespace + "." + m.ID
}

func (m *Manifest) Description() string {
	if d := strings.TrimSpace(m.DescElem); d != "" {
		return d
	}
	return m.DescAttr
}

// ParseFile reads and validates a manifest.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
	}
	if strings.TrimSpace(m.ID) == "" {
		return nil, fmt.Errorf("%w: %s: missing add-in id", ErrInvalidManifest, path)
	}
	return &m, nil
}

// Description is the record written for every registered add-in.
type Description struct {
	ID           string       `yaml:"id"`
	Namespace    string       `yaml:"namespace,omitempty"`
	FullID       string       `yaml:"full_id"`
	Version      string       `yaml:"version,omitempty"`
	Name         string       `yaml:"name,omitempty"`
	Category     string       `yaml:"category,omitempty"`
	Author       string       `yaml:"author,omitempty"`
	Description  string       `yaml:"description,omitempty"`
	IsRoot       bool         `yaml:"is_root,omitempty"`
	File         string       `yaml:"file"`
	Imports      []string     `yaml:"imports,omitempty"`
	Dependencies []Dependency `yaml:"dependencies,omitempty"`
	Extensions   []string     `yaml:"extensions,omitempty"`
}

func Describe(m *Manifest, file string) *Description {
	d := &Description{
		ID:           m.ID,
		Namespace:    m.Namespace,
		FullID:       m.FullID(),
		Version:      m.Version,
		Name:         m.Name,
		Category:     m.Category,
		Author:       m.Author,
		Description:  m.Description(),
		IsRoot:       m.IsRoot,
		File:         file,
		Dependencies: m.Dependencies,
	}
	for _, imp := range m.Imports {
		switch {
		case imp.Assembly != "":
			d.Imports = append(d.Imports, imp.Assembly)
		case imp.File != "":
			d.Imports = append(d.Imports, imp.File)
		}
	}
	for _, ext := range m.Extensions {
		if ext.Path != "" {
			d.Extensions = append(d.Extensions, ext.Path)
		}
	}
	return d
}
