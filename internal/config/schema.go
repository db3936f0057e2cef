package config

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/xeipuuv/gojsonschema"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
	"github.com/johnnybubonic/vaultpass/internal/pathutil"
)

//go:embed schema/vaultpass.schema.json
var embeddedSchema []byte

// EmbeddedSchemaName identifies the built-in schema in messages
const EmbeddedSchemaName = "embedded:vaultpass.schema.json"

type schema struct {
	name string
	raw  []byte
	tree map[string]interface{}
}

func parseSchema(name string, raw []byte) (*schema, error) {
	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, vperrors.ConfigError{
			Field:   "schema",
			Value:   name,
			Message: "schema is not valid JSON",
			Err:     err,
		}
	}
	return &schema{name: name, raw: raw, tree: tree}, nil
}

// schemaFor picks the schema for a document: an explicit path, else the
// document's xsi:schemaLocation, else the embedded schema.
func (l *Loader) schemaFor(ctx context.Context, d *Document) (*schema, error) {
	if l.SchemaPath != "" {
		p, err := pathutil.Expand(l.SchemaPath)
		if err != nil {
			return nil, vperrors.ConfigError{Field: "schema", Value: l.SchemaPath, Message: "invalid schema path", Err: err}
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, vperrors.ConfigError{
				Field:      "schema",
				Value:      p,
				Message:    "specified schema path does not exist",
				Suggestion: "Check --schema or drop it to use the built-in schema",
				Err:        err,
			}
		}
		return parseSchema(p, raw)
	}

	if loc := schemaLocation(d.NamespacedRoot()); loc != "" {
		l.logger().Debug("Detected schema location: %s", loc)
		if l.cache != nil && l.cache.name == loc {
			return l.cache, nil
		}
		var raw []byte
		var err error
		if strings.HasPrefix(loc, "file://") {
			raw, err = os.ReadFile(strings.TrimPrefix(loc, "file://"))
			if err != nil {
				err = vperrors.ConfigError{Field: "schema", Value: loc, Message: "cannot read schema", Err: err}
			}
		} else {
			raw, err = fetchRemote(ctx, l.HTTPClient, loc)
		}
		if err != nil {
			return nil, err
		}
		s, err := parseSchema(loc, raw)
		if err != nil {
			return nil, err
		}
		l.cache = s
		return s, nil
	}

	return parseSchema(EmbeddedSchemaName, embeddedSchema)
}

// schemaLocation returns the schema URL from xsi:schemaLocation. A proper
// value is "namespace URL"; a lone URL is accepted too.
func schemaLocation(root *etree.Element) string {
	for _, a := range root.Attr {
		if a.Key != "schemaLocation" || (a.Space != "xsi" && a.NamespaceURI() != XSINamespace) {
			continue
		}
		fields := strings.Fields(a.Value)
		switch len(fields) {
		case 0:
			return ""
		case 2:
			return fields[1]
		default:
			return fields[0]
		}
	}
	return ""
}

func (s *schema) validate(d *Document) error {
	projected, err := json.Marshal(project(d.NamespacedRoot()))
	if err != nil {
		return fmt.Errorf("failed to project configuration for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(s.raw),
		gojsonschema.NewBytesLoader(projected),
	)
	if err != nil {
		return vperrors.ConfigError{Field: "schema", Value: s.name, Message: "schema validation error", Err: err}
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return vperrors.SchemaViolation{Schema: s.name, Problems: problems}
	}
	return nil
}

// project converts the document into the JSON shape the schema describes
func project(root *etree.Element) map[string]interface{} {
	return map[string]interface{}{root.Tag: projectElement(root)}
}

func projectElement(el *etree.Element) map[string]interface{} {
	obj := make(map[string]interface{})
	for _, a := range el.Attr {
		if isNamespaceAttr(a) {
			continue
		}
		obj["@"+a.Key] = a.Value
	}
	if text := strings.TrimSpace(el.Text()); text != "" {
		obj["#text"] = text
	}
	for _, c := range el.ChildElements() {
		list, _ := obj[c.Tag].([]interface{})
		obj[c.Tag] = append(list, projectElement(c))
	}
	return obj
}

// populateDefaults sets every schema-declared attribute default missing from
// the document, on both views.
func (s *schema) populateDefaults(d *Document) int {
	rootProps, _ := s.resolve(s.tree)["properties"].(map[string]interface{})
	root := d.NamespacedRoot()
	rootSchema, ok := rootProps[root.Tag].(map[string]interface{})
	if !ok {
		return 0
	}
	return s.applyDefaults(d, root, s.resolve(rootSchema))
}

func (s *schema) applyDefaults(d *Document, el *etree.Element, node map[string]interface{}) int {
	props, _ := node["properties"].(map[string]interface{})
	if props == nil {
		return 0
	}

	populated := 0
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !strings.HasPrefix(k, "@") {
			continue
		}
		prop, ok := props[k].(map[string]interface{})
		if !ok {
			continue
		}
		def, ok := s.resolve(prop)["default"]
		if !ok || el.SelectAttr(k[1:]) != nil {
			continue
		}
		d.setAttr(el, k[1:], fmt.Sprint(def))
		populated++
	}

	for _, c := range el.ChildElements() {
		child, ok := props[c.Tag].(map[string]interface{})
		if !ok {
			continue
		}
		child = s.resolve(child)
		if items, ok := child["items"].(map[string]interface{}); ok {
			child = s.resolve(items)
		}
		populated += s.applyDefaults(d, c, child)
	}
	return populated
}

// resolve follows local "#/definitions/..." references
func (s *schema) resolve(node map[string]interface{}) map[string]interface{} {
	for i := 0; i < 16; i++ {
		ref, ok := node["$ref"].(string)
		if !ok || !strings.HasPrefix(ref, "#/") {
			return node
		}
		var cur interface{} = s.tree
		for _, part := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
			m, ok := cur.(map[string]interface{})
			if !ok {
				return node
			}
			cur = m[part]
		}
		next, ok := cur.(map[string]interface{})
		if !ok {
			return node
		}
		node = next
	}
	return node
}
