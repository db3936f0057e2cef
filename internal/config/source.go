package config

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-cleanhttp"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/pathutil"
)

// SourceKind is how a configuration reference was interpreted
type SourceKind int

const (
	SourceInline SourceKind = iota + 1
	SourceRemote
	SourceLocal
	SourceBinary
)

func (k SourceKind) String() string {
	switch k {
	case SourceInline:
		return "inline"
	case SourceRemote:
		return "remote"
	case SourceLocal:
		return "local"
	case SourceBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Detection patterns, tried in this order.
var (
	inlinePattern = regexp.MustCompile(`(?s)^\s*(<!--.*?-->\s*)*<(\?xml|([\w.-]+:)?vaultpass)[\s>/]`)
	remotePattern = regexp.MustCompile(`^(https?|ftps?)://\S+\s*$`)
	localPattern  = regexp.MustCompile(`^(file://)?(/?[^/]+)+/?$`)
)

// Source is a detected configuration reference
type Source struct {
	Kind SourceKind
	// Ref is the path or URL for local and remote sources
	Ref string
	raw []byte
}

// DetectSource sniffs ref and classifies it. Text that matches none of the
// inline, remote or local patterns is accepted as raw binary only when it is
// not valid UTF-8 and still carries an XML prolog or a vaultpass root.
func DetectSource(ref []byte) (Source, error) {
	if utf8.Valid(ref) {
		s := string(ref)
		switch {
		case inlinePattern.MatchString(s):
			return Source{Kind: SourceInline, raw: ref}, nil
		case remotePattern.MatchString(s):
			return Source{Kind: SourceRemote, Ref: strings.TrimSpace(s)}, nil
		case localPattern.MatchString(s):
			return Source{Kind: SourceLocal, Ref: strings.TrimPrefix(s, "file://")}, nil
		}
	} else if inlinePattern.Match(ref) {
		return Source{Kind: SourceBinary, raw: ref}, nil
	}

	return Source{}, vperrors.ConfigError{
		Field:      "source",
		Message:    "could not determine configuration source type",
		Suggestion: "Pass a file path, an http(s):// URL, or an XML document",
	}
}

// Fetch returns the raw document bytes for the source
func (s *Source) Fetch(ctx context.Context, client *http.Client) ([]byte, error) {
	switch s.Kind {
	case SourceInline, SourceBinary:
		return s.raw, nil
	case SourceLocal:
		p, err := pathutil.Expand(s.Ref)
		if err != nil {
			return nil, vperrors.ConfigError{Field: "source", Value: s.Ref, Message: "invalid path", Err: err}
		}
		s.Ref = p
		raw, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, vperrors.ConfigError{
					Field:      "source",
					Value:      p,
					Message:    "configuration file not found",
					Suggestion: "Create the file or pass --config with the right location",
				}
			}
			return nil, vperrors.ConfigError{Field: "source", Value: p, Message: "cannot read configuration", Err: err}
		}
		return raw, nil
	case SourceRemote:
		return fetchRemote(ctx, client, s.Ref)
	default:
		return nil, vperrors.ConfigError{Field: "source", Message: "unknown source kind"}
	}
}

func fetchRemote(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, vperrors.ConfigError{
			Field:      "source",
			Value:      url,
			Message:    "unsupported remote scheme",
			Suggestion: "Serve the document over http:// or https://",
		}
	}
	if client == nil {
		client = cleanhttp.DefaultClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, vperrors.ConfigError{Field: "source", Value: url, Message: "invalid URL", Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, vperrors.ConfigError{Field: "source", Value: url, Message: "download failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, vperrors.ConfigError{
			Field:   "source",
			Value:   url,
			Message: fmt.Sprintf("download failed with HTTP %d", resp.StatusCode),
		}
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, vperrors.ConfigError{Field: "source", Value: url, Message: "download interrupted", Err: err}
	}
	return buf.Bytes(), nil
}
