// Package porttype maps logical port type names to byte codecs.
//
// A Registry is built at startup, optionally extended with Register, and then
// sealed and handed to the engine. There is no process-wide instance.
//
//	types := porttype.NewRegistry()
//	_ = types.Register("ext:vector", vectorCodec)
//	types.Seal()
package porttype

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/registry"
)

// Built-in port type names.
const (
	UserText   = "UserText"
	PromptText = "PromptText"
	LLMText    = "LLMText"
	AnyBlob    = "AnyBlob"
)

// ExtPrefix marks extension type names. Extension types without an
// explicitly registered codec use JSONCodec.
const ExtPrefix = "ext:"

// Sentinel errors.
var (
	// ErrUnknownType indicates a type name with no codec.
	ErrUnknownType = errors.New("unknown type")

	// ErrInvalidValue indicates a value the codec cannot encode.
	ErrInvalidValue = errors.New("invalid value for port type")
)

// UnknownTypeError names the type that could not be resolved.
type UnknownTypeError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown type: %s", e.Name)
}

// Unwrap returns ErrUnknownType for errors.Is support.
func (e *UnknownTypeError) Unwrap() error {
	return ErrUnknownType
}

// Registry resolves type names to codecs. Safe for concurrent use.
type Registry struct {
	codecs *registry.Registry[string, Codec]
}

// NewRegistry returns a registry with the built-in types registered.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	text := textCodec{}
	_ = r.codecs.Register(UserText, text)
	_ = r.codecs.Register(PromptText, text)
	_ = r.codecs.Register(LLMText, text)
	_ = r.codecs.Register(AnyBlob, blobCodec{})
	return r
}

// NewEmptyRegistry returns a registry with no types, not even the built-ins.
func NewEmptyRegistry() *Registry {
	return &Registry{codecs: registry.New[string, Codec]()}
}

// Register adds or replaces the codec for name.
// Returns registry.ErrSealed once the registry is sealed.
func (r *Registry) Register(name string, codec Codec) error {
	if name == "" {
		return errors.New("type name is required")
	}
	if codec == nil {
		return errors.New("codec is required")
	}
	return r.codecs.Register(name, codec)
}

// Seal prevents further registration.
func (r *Registry) Seal() {
	r.codecs.Seal()
}

// Lookup returns the codec for name, falling back to JSONCodec for
// unregistered extension types.
func (r *Registry) Lookup(name string) (Codec, error) {
	if c, ok := r.codecs.Get(name); ok {
		return c, nil
	}
	if strings.HasPrefix(name, ExtPrefix) && len(name) > len(ExtPrefix) {
		return JSONCodec{}, nil
	}
	return nil, &UnknownTypeError{Name: name}
}

// Has reports whether name resolves to a codec.
func (r *Registry) Has(name string) bool {
	_, err := r.Lookup(name)
	return err == nil
}

// Names returns the explicitly registered type names, sorted.
func (r *Registry) Names() []string {
	names := r.codecs.Keys()
	sort.Strings(names)
	return names
}

// Encode encodes value with the codec for name.
func (r *Registry) Encode(name string, value any) ([]byte, error) {
	c, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	data, err := c.Encode(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return data, nil
}

// Decode decodes data with the codec for name.
func (r *Registry) Decode(name string, data []byte) (any, error) {
	c, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	v, err := c.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return v, nil
}

// Transcode re-encodes value from one port type to another.
// Identical names return value unchanged.
func (r *Registry) Transcode(value any, from, to string) (any, error) {
	if from == to {
		return value, nil
	}
	data, err := r.Encode(from, value)
	if err != nil {
		return nil, err
	}
	return r.Decode(to, data)
}
