package config

import (
	"context"
	"os"
	"strings"

	"github.com/beevik/etree"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
)

const (
	// Namespace is the XML namespace of the configuration document
	Namespace = "https://git.square-r00t.net/VaultPass/"
	// XSINamespace is the XML Schema instance namespace
	XSINamespace = "http://www.w3.org/2001/XMLSchema-instance"
	// DefaultServerURI is used when neither <uri> nor VAULT_ADDR is set
	DefaultServerURI = "http://localhost:8200/"
)

// MountDecl is a mount declared under <mounts>
type MountDecl struct {
	Name string
	Type string
}

// Document is a parsed configuration held as two parallel views: the
// namespaced view as read, and a stripped view with namespace prefixes and
// declarations removed. Both always have the same element structure.
type Document struct {
	source     Source
	namespaced *etree.Document
	stripped   *etree.Document
	// recheck re-applies defaults and validation after an edit
	recheck func(context.Context, *Document) error
}

func parseDocument(src Source, raw []byte) (*Document, error) {
	ns := etree.NewDocument()
	if err := ns.ReadFromBytes(raw); err != nil {
		return nil, vperrors.ConfigError{
			Field:      "document",
			Message:    "cannot parse configuration XML",
			Suggestion: "Check for unclosed tags and unescaped '&' or '<' characters",
			Err:        err,
		}
	}
	if ns.Root() == nil {
		return nil, vperrors.ConfigError{Field: "document", Message: "configuration has no root element"}
	}

	d := &Document{source: src, namespaced: ns}
	d.restrip()
	return d, nil
}

// restrip rebuilds the stripped view from the namespaced one
func (d *Document) restrip() {
	d.stripped = d.namespaced.Copy()
	stripElement(d.stripped.Root())
}

func stripElement(el *etree.Element) {
	el.Space = ""
	kept := el.Attr[:0]
	for _, a := range el.Attr {
		if isNamespaceAttr(a) {
			continue
		}
		a.Space = ""
		kept = append(kept, a)
	}
	el.Attr = kept
	for _, c := range el.ChildElements() {
		stripElement(c)
	}
}

func isNamespaceAttr(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") || a.Space == "xsi"
}

// Source returns where the document was loaded from
func (d *Document) Source() Source { return d.source }

// Root returns the root of the stripped view
func (d *Document) Root() *etree.Element { return d.stripped.Root() }

// NamespacedRoot returns the root of the namespaced view
func (d *Document) NamespacedRoot() *etree.Element { return d.namespaced.Root() }

// Find returns the first element in the stripped view matching an etree
// path such as "server/uri" or ".//token".
func (d *Document) Find(path string) *etree.Element {
	return d.Root().FindElement(path)
}

// Text returns the trimmed text of the element at path, or "" if absent
func (d *Document) Text(path string) string {
	el := d.Find(path)
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

// ServerURI returns <server><uri>, else VAULT_ADDR, else DefaultServerURI
func (d *Document) ServerURI() string {
	if uri := d.Text("server/uri"); uri != "" {
		return uri
	}
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		return addr
	}
	return DefaultServerURI
}

// UnsealShard returns the (decrypted) unseal shard, if configured
func (d *Document) UnsealShard() string {
	return d.Text("server/unseal")
}

// Auth returns the <auth> element of the stripped view
func (d *Document) Auth() *etree.Element {
	return d.Find("auth")
}

// Mounts returns every declared mount in document order
func (d *Document) Mounts() []MountDecl {
	var mounts []MountDecl
	for _, el := range d.Root().FindElements("mounts/mount") {
		name := strings.Trim(strings.TrimSpace(el.Text()), "/")
		if name == "" {
			continue
		}
		mounts = append(mounts, MountDecl{
			Name: name,
			Type: el.SelectAttrValue("type", ""),
		})
	}
	return mounts
}

// Bytes serializes the namespaced view
func (d *Document) Bytes() ([]byte, error) {
	out := d.namespaced.Copy()
	out.Indent(2)
	return out.WriteToBytes()
}

// counterpart returns the stripped-view element occupying the same tree
// position as the namespaced-view element el.
func (d *Document) counterpart(el *etree.Element) *etree.Element {
	var positions []int
	for cur := el; cur.Parent() != nil && cur != d.namespaced.Root(); cur = cur.Parent() {
		positions = append(positions, cur.Index())
	}

	target := d.stripped.Root()
	for i := len(positions) - 1; i >= 0; i-- {
		tok := target.Child[positions[i]]
		next, ok := tok.(*etree.Element)
		if !ok {
			return nil
		}
		target = next
	}
	return target
}

// replace swaps the namespaced-view element el, and its stripped-view
// counterpart, for replacement.
func (d *Document) replace(el, replacement *etree.Element) {
	twin := d.counterpart(el)

	parent, idx := el.Parent(), el.Index()
	parent.RemoveChildAt(idx)
	parent.InsertChildAt(idx, replacement)

	if twin != nil {
		stripped := replacement.Copy()
		stripElement(stripped)
		tp, tidx := twin.Parent(), twin.Index()
		tp.RemoveChildAt(tidx)
		tp.InsertChildAt(tidx, stripped)
	}
}

// appendChild adds child as the last element of parent in both views
func (d *Document) appendChild(parent, child *etree.Element) {
	twin := d.counterpart(parent)
	parent.AddChild(child)
	if twin != nil {
		stripped := child.Copy()
		stripElement(stripped)
		twin.AddChild(stripped)
	}
}

// setAttr sets an attribute on el and its counterpart
func (d *Document) setAttr(el *etree.Element, key, value string) {
	if twin := d.counterpart(el); twin != nil {
		twin.CreateAttr(key, value)
	}
	el.CreateAttr(key, value)
}

// setText sets the text of el and its counterpart
func (d *Document) setText(el *etree.Element, text string) {
	if twin := d.counterpart(el); twin != nil {
		twin.SetText(text)
	}
	el.SetText(text)
}

// findNS returns the first namespaced-view element with the given local
// name path, walking child elements by tag.
func (d *Document) findNS(path ...string) *etree.Element {
	cur := d.namespaced.Root()
	for _, tag := range path {
		var next *etree.Element
		for _, c := range cur.ChildElements() {
			if c.Tag == tag {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// elementsByTag returns every namespaced-view element whose local name is
// one of tags, in document order.
func (d *Document) elementsByTag(tags ...string) []*etree.Element {
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}

	var found []*etree.Element
	stack := []*etree.Element{d.namespaced.Root()}
	for len(stack) > 0 {
		el := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if want[el.Tag] {
			found = append(found, el)
			continue
		}
		children := el.ChildElements()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return found
}

// newElement creates an element in the namespace prefix of the root
func (d *Document) newElement(tag string) *etree.Element {
	el := etree.NewElement(tag)
	el.Space = d.namespaced.Root().Space
	return el
}
