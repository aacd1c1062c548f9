// Package scaffold creates a new ampli project.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/ampli/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes ampli.yml into dir and returns the paths it created.
// With force an existing ampli.yml is replaced.
func Initialize(dir string, force bool) ([]string, error) {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return nil, err
		}
	}

	files, err := getTemplateFiles(dir)
	if err != nil {
		return nil, err
	}
	if err := writeFiles(files); err != nil {
		return nil, err
	}
	if err := validateCreatedFiles(dir); err != nil {
		return nil, err
	}

	created := make([]string, len(files))
	for i, f := range files {
		created[i] = f.Path
	}
	return created, nil
}

func getTemplateFiles(dir string) ([]FileInfo, error) {
	cfg, err := templatesFS.ReadFile("templates/ampli.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read ampli.yml template: %w", err)
	}
	return []FileInfo{{
		Path:        filepath.Join(dir, config.DefaultPath),
		Content:     cfg,
		Permissions: 0644,
	}}, nil
}

func writeFiles(files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// validateCreatedFiles loads the written configuration. The template's
// classifier jar need not exist yet, so only the schema is checked.
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, config.DefaultPath)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", config.DefaultPath, err)
	}
	return nil
}
