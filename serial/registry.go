package serial

import (
	"fmt"
	"reflect"

	"github.com/hupe1980/bucketgo/binio"
)

// Reconstructor decodes one object payload from in. The serializer is
// passed through so nested objects can be decoded with it.
type Reconstructor func(in *binio.Input, s *Serializer) (Serializable, error)

// Registration binds a concrete type to its wire name and reconstructor.
type Registration struct {
	// Name identifies the type on the wire and in diagnostics. Names
	// must be unique within a serializer and stable across deployments
	// that exchange data.
	Name string
	// Type is the concrete dynamic type the reconstructor produces and
	// the encoder dispatches on.
	Type reflect.Type
	// New decodes one payload.
	New Reconstructor
}

// TypeOf builds a Registration for T from a typed reconstructor.
func TypeOf[T Serializable](name string, fn func(in *binio.Input, s *Serializer) (T, error)) Registration {
	return Registration{
		Name: name,
		Type: reflect.TypeFor[T](),
		New: func(in *binio.Input, s *Serializer) (Serializable, error) {
			return fn(in, s)
		},
	}
}

// maxCachedTypes is how many registrations fit in the single-byte tag
// space after the reserved values.
const maxCachedTypes = 256 - int(tagCachedBase)

type options struct {
	def    *Registration
	cached []Registration
	named  []Registration
}

// Option configures a Serializer.
type Option func(*options)

// WithDefault registers the type written with the compact default tag.
// At most one type can be the default; a later call replaces an earlier
// one.
func WithDefault(reg Registration) Option {
	return func(o *options) {
		r := reg
		o.def = &r
	}
}

// WithCached appends registrations to the cached type list. The list is
// positional: a type's tag is its index at registration time, so the
// list may only ever grow, and only at the end, once data written with
// it exists.
func WithCached(regs ...Registration) Option {
	return func(o *options) {
		o.cached = append(o.cached, regs...)
	}
}

// WithTypes registers types written with the explicit-name tag. Their
// records are self-describing and safe to reorder between deployments.
func WithTypes(regs ...Registration) Option {
	return func(o *options) {
		o.named = append(o.named, regs...)
	}
}

// binding is the precomputed write-side dispatch for one type.
type binding struct {
	reg *Registration
	tag byte
	// named records are prefixed with the registration name.
	named bool
}

// New builds a Serializer from the given registrations. Every concrete
// type and every name may appear only once.
func New(opts ...Option) (*Serializer, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if len(o.cached) > maxCachedTypes {
		return nil, fmt.Errorf("serial: %d cached types exceed the tag space of %d", len(o.cached), maxCachedTypes)
	}

	s := &Serializer{
		cached: make([]*Registration, 0, len(o.cached)),
		byName: make(map[string]*Registration),
		byType: make(map[reflect.Type]binding),
	}

	add := func(reg *Registration, b binding) error {
		if reg.Name == "" {
			return fmt.Errorf("serial: registration for %v has no name", reg.Type)
		}
		if reg.Type == nil {
			return fmt.Errorf("serial: registration %q has no type", reg.Name)
		}
		if reg.New == nil {
			return fmt.Errorf("serial: registration %q has no reconstructor", reg.Name)
		}
		if _, ok := s.byName[reg.Name]; ok {
			return fmt.Errorf("serial: duplicate registration name %q", reg.Name)
		}
		if _, ok := s.byType[reg.Type]; ok {
			return fmt.Errorf("serial: type %v registered twice", reg.Type)
		}
		s.byName[reg.Name] = reg
		b.reg = reg
		s.byType[reg.Type] = b
		return nil
	}

	if o.def != nil {
		if err := add(o.def, binding{tag: tagDefault}); err != nil {
			return nil, err
		}
		s.def = o.def
	}
	for i := range o.cached {
		reg := &o.cached[i]
		if err := add(reg, binding{tag: tagCachedBase + byte(i)}); err != nil {
			return nil, err
		}
		s.cached = append(s.cached, reg)
	}
	for i := range o.named {
		if err := add(&o.named[i], binding{tag: tagName, named: true}); err != nil {
			return nil, err
		}
	}
	return s, nil
}
