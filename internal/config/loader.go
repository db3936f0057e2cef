package config

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/beevik/etree"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/logging"
	"github.com/johnnybubonic/vaultpass/internal/secure"
)

// EncryptedTags are the elements whose text names a ciphertext file that
// decrypts to the element they stand in for.
var EncryptedTags = []string{"authGpg", "unsealGpg"}

// maxDecryptPasses bounds decryption of fragments that decrypt to further
// encrypted fragments.
const maxDecryptPasses = 8

var errEmptyFragment = errors.New("empty document")

// Decrypter decrypts the ciphertext file at path using the keyring in home
// (or its default keyring when home is empty).
type Decrypter interface {
	Decrypt(ctx context.Context, path, home string) (*secure.SecureBuffer, error)
}

// Loader acquires, parses, decrypts and validates configuration documents
type Loader struct {
	// SchemaPath overrides the schema named by the document
	SchemaPath string
	// Validate checks the document against its schema
	Validate bool
	// PopulateDefaults applies schema-declared attribute defaults
	PopulateDefaults bool
	// Decrypter handles encrypted fragments; nil leaves them in place
	Decrypter Decrypter
	// HTTPClient fetches remote documents and schemas
	HTTPClient *http.Client
	Logger     *logging.Logger

	cache *schema
}

// NewLoader returns a Loader that validates and populates defaults
func NewLoader(logger *logging.Logger, decrypter Decrypter) *Loader {
	return &Loader{
		Validate:         true,
		PopulateDefaults: true,
		Decrypter:        decrypter,
		Logger:           logger,
	}
}

func (l *Loader) logger() *logging.Logger {
	if l.Logger == nil {
		return logging.Discard()
	}
	return l.Logger
}

// Load detects the kind of ref (inline document, URL or path), fetches it
// and runs the full pipeline.
func (l *Loader) Load(ctx context.Context, ref string) (*Document, error) {
	return l.LoadBytes(ctx, []byte(ref))
}

// LoadBytes is Load for a reference held as bytes, including raw documents
// that are not valid UTF-8.
func (l *Loader) LoadBytes(ctx context.Context, ref []byte) (*Document, error) {
	src, err := DetectSource(ref)
	if err != nil {
		return nil, err
	}
	l.logger().Debug("Config detected as %s", src.Kind)

	raw, err := src.Fetch(ctx, l.HTTPClient)
	if err != nil {
		return nil, err
	}
	l.logger().Debug("Fetched configuration (%d bytes)", len(raw))

	doc, err := parseDocument(src, raw)
	if err != nil {
		return nil, err
	}
	doc.recheck = l.check
	if err := l.Process(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Process populates defaults, validates and decrypts doc, repeating the
// first two steps after any decryption. Processing an already processed
// document leaves it unchanged.
func (l *Loader) Process(ctx context.Context, doc *Document) error {
	if err := l.check(ctx, doc); err != nil {
		return err
	}

	for pass := 0; ; pass++ {
		n, err := l.decryptFragments(ctx, doc)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if pass >= maxDecryptPasses {
			return vperrors.ConfigError{
				Field:   "document",
				Message: "encrypted fragments nest too deeply",
			}
		}
		l.logger().Debug("Decrypted %d fragment(s); re-checking document", n)
		if err := l.check(ctx, doc); err != nil {
			return err
		}
	}
}

func (l *Loader) check(ctx context.Context, doc *Document) error {
	if !l.PopulateDefaults && !l.Validate {
		return nil
	}
	s, err := l.schemaFor(ctx, doc)
	if err != nil {
		return err
	}
	if l.PopulateDefaults {
		if n := s.populateDefaults(doc); n > 0 {
			l.logger().Debug("Populated %d default value(s) from %s", n, s.name)
		}
	}
	if l.Validate {
		if err := s.validate(doc); err != nil {
			return err
		}
		l.logger().Debug("Configuration valid against %s", s.name)
	}
	return nil
}

// decryptFragments replaces every encrypted fragment with its plaintext
// subtree in both views and returns how many were replaced.
func (l *Loader) decryptFragments(ctx context.Context, doc *Document) (int, error) {
	fragments := doc.elementsByTag(EncryptedTags...)
	if len(fragments) == 0 {
		return 0, nil
	}
	if l.Decrypter == nil {
		l.logger().Warn("Configuration has %d encrypted fragment(s) but no decrypter is available", len(fragments))
		return 0, nil
	}

	for _, frag := range fragments {
		replacement, err := l.decryptFragment(ctx, frag)
		if err != nil {
			return 0, err
		}
		doc.replace(frag, replacement)
	}
	return len(fragments), nil
}

func (l *Loader) decryptFragment(ctx context.Context, frag *etree.Element) (*etree.Element, error) {
	path := strings.TrimSpace(frag.Text())
	home := frag.SelectAttrValue("gpgHome", "")
	if path == "" {
		return nil, vperrors.CryptoError{Fragment: frag.Tag, Home: home, Message: "no ciphertext path given"}
	}

	buf, err := l.Decrypter.Decrypt(ctx, path, home)
	if err != nil {
		var ce vperrors.CryptoError
		if errors.As(err, &ce) {
			ce.Fragment = frag.Tag
			return nil, ce
		}
		return nil, vperrors.CryptoError{Fragment: frag.Tag, Path: path, Home: home, Err: err}
	}
	defer buf.Destroy()

	var root *etree.Element
	err = buf.Use(func(plaintext []byte) error {
		sub := etree.NewDocument()
		if err := sub.ReadFromBytes(plaintext); err != nil {
			return err
		}
		if sub.Root() == nil {
			return errEmptyFragment
		}
		root = sub.Root().Copy()
		return nil
	})
	if err != nil {
		return nil, vperrors.CryptoError{
			Fragment: frag.Tag,
			Path:     path,
			Home:     home,
			Message:  "decrypted content is not an XML element",
			Err:      err,
		}
	}
	return root, nil
}
