package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config file names probed inside a config directory, in preference order
var configFileNames = []string{"policy_gate.yml", "policy_gate.yaml"}

// ResolvePath turns a rules location into the list of files to load.
// A plain file is returned as is. A directory holding policy_gate.yml (or
// .yaml) resolves to that file; any other directory yields every YAML file
// under it in lexical order.
func ResolvePath(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	for _, name := range configFileNames {
		candidate := filepath.Join(path, name)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return []string{candidate}, nil
		}
	}

	return discoverYAMLFiles(path)
}

// LoadFromPath discovers and parses all rule files at path
func LoadFromPath(path string) ([]FileWithPath, []ValidationError) {
	var files []FileWithPath
	var errors []ValidationError

	paths, err := ResolvePath(path)
	if err != nil {
		errors = append(errors, ValidationError{
			File:    path,
			Message: fmt.Sprintf("failed to read rules location: %v", err),
		})
		return nil, errors
	}

	if len(paths) == 0 {
		errors = append(errors, ValidationError{
			File:    path,
			Message: "no rule files found",
		})
		return nil, errors
	}

	for _, p := range paths {
		f, doc, err := parseYAMLFile(p)
		if err != nil {
			errors = append(errors, ValidationError{
				File:    p,
				Message: fmt.Sprintf("failed to parse YAML: %v", err),
			})
			continue
		}
		files = append(files, FileWithPath{
			File: f,
			Path: p,
			doc:  doc,
		})
	}

	return files, errors
}

// discoverYAMLFiles finds all *.yaml and *.yml files in a directory
func discoverYAMLFiles(dirPath string) ([]string, error) {
	var files []string

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	sort.Strings(files)
	return files, err
}

// parseYAMLFile parses a single YAML file into a File. The generic document
// is returned as well so schema validation sees exactly what was written.
func parseYAMLFile(filePath string) (*File, any, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, nil, err
	}

	return parseYAML(data)
}

func parseYAML(data []byte) (*File, any, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}

	return &f, doc, nil
}
