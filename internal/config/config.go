package config

import (
	"context"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/gpg"
	"github.com/johnnybubonic/vaultpass/internal/logging"
)

// DefaultPath is the configuration reference used when none is given
const DefaultPath = "~/.config/vaultpass.xml"

// Config holds the runtime configuration
type Config struct {
	// Path is a file path, URL or inline XML document
	Path           string
	SchemaPath     string
	NoValidate     bool
	Logger         *logging.Logger
	NonInteractive bool
	Document       *Document
}

// Load reads, decrypts and validates the configuration document
func (c *Config) Load(ctx context.Context) error {
	if c.Document != nil {
		return nil
	}

	ref := c.Path
	if ref == "" {
		ref = DefaultPath
	}

	loader := NewLoader(c.Logger, gpg.NewDecrypter(c.Logger))
	loader.SchemaPath = c.SchemaPath
	loader.Validate = !c.NoValidate
	loader.PopulateDefaults = !c.NoValidate

	doc, err := loader.Load(ctx, ref)
	if err != nil {
		return err
	}
	c.Document = doc
	return nil
}

// MustDocument returns the loaded document or a UserError if Load has not
// run.
func (c *Config) MustDocument() (*Document, error) {
	if c.Document == nil {
		return nil, vperrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}
	return c.Document, nil
}
