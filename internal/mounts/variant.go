// Package mounts discovers, declares, classifies and creates the secret
// engines that secrets are stored in.
package mounts

import (
	"fmt"
	"strings"
)

// Variant is one of the supported secret-engine variants
type Variant int

const (
	KV1 Variant = iota + 1
	KV2
	Cubbyhole
)

// Variants lists every supported variant
var Variants = []Variant{KV1, KV2, Cubbyhole}

func (v Variant) String() string {
	switch v {
	case KV1:
		return "kv1"
	case KV2:
		return "kv2"
	case Cubbyhole:
		return "cubbyhole"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Capabilities describes what an engine variant supports natively
type Capabilities struct {
	NativeList bool
	Versioning bool
}

// Capabilities returns the native capabilities of v
func (v Variant) Capabilities() Capabilities {
	switch v {
	case KV1:
		return Capabilities{NativeList: true}
	case KV2:
		return Capabilities{NativeList: true, Versioning: true}
	default:
		return Capabilities{}
	}
}

// ParseVariant accepts the configuration spellings of a variant
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kv", "kv1", "kv-v1":
		return KV1, nil
	case "", "kv2", "kv-v2":
		return KV2, nil
	case "cubbyhole":
		return Cubbyhole, nil
	default:
		return 0, fmt.Errorf("unsupported mount type %q (expected kv1, kv2 or cubbyhole)", s)
	}
}

// Classify maps a server-reported engine type and options to a variant.
// ok is false for engines this tool does not store secrets in.
func Classify(engineType string, options map[string]string) (Variant, bool) {
	switch engineType {
	case "kv", "generic":
		if options["version"] == "2" {
			return KV2, true
		}
		return KV1, true
	case "kv-v2":
		return KV2, true
	case "cubbyhole":
		return Cubbyhole, true
	default:
		return 0, false
	}
}

// Descriptor is one entry of the mount table
type Descriptor struct {
	Name    string
	Variant Variant
	Capabilities
	// Declared is set for entries that came from configuration rather
	// than discovery.
	Declared bool
}

func newDescriptor(name string, v Variant, declared bool) Descriptor {
	return Descriptor{Name: name, Variant: v, Capabilities: v.Capabilities(), Declared: declared}
}
