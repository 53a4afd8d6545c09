package structstore

import (
	"bytes"
	"sync"
)

// ManagedObject is a plugin value stored in the arena as a type name and an
// opaque payload. Types must be registered with RegisterManaged before they
// can be assigned.
type ManagedObject interface {
	// TypeName is the name the type was registered under.
	TypeName() string

	// MarshalBinary returns the payload stored in the arena.
	MarshalBinary() ([]byte, error)

	// Copy returns a shallow copy.
	Copy() ManagedObject

	// DeepCopy returns a detached plain value.
	DeepCopy() any

	// Equal reports structural equality with other.
	Equal(other ManagedObject) bool

	// Pointers enumerates references held inside the payload.
	Pointers() []Ref
}

// ManagedDecoder rebuilds a ManagedObject from its stored payload.
type ManagedDecoder func(data []byte) (ManagedObject, error)

var managedTypes sync.Map // string -> ManagedDecoder

// RegisterManaged makes a plugin type assignable. Registering a name twice
// fails with ErrInvalidArgument.
func RegisterManaged(name string, dec ManagedDecoder) error {
	if name == "" || dec == nil {
		return newError("RegisterManaged", ErrInvalidArgument, "managed type needs a name and a decoder")
	}
	if _, loaded := managedTypes.LoadOrStore(name, dec); loaded {
		return newError("RegisterManaged", ErrInvalidArgument, "managed type %q is already registered", name)
	}
	return nil
}

func lookupManaged(name string) (ManagedDecoder, bool) {
	v, ok := managedTypes.Load(name)
	if !ok {
		return nil, false
	}
	return v.(ManagedDecoder), true
}

// decodeManaged rebuilds a stored object. Types not registered in this
// process come back as *RawManaged.
func decodeManaged(name string, data []byte) (ManagedObject, error) {
	dec, ok := lookupManaged(name)
	if !ok {
		return &RawManaged{Type: name, Data: data}, nil
	}
	obj, err := dec(data)
	if err != nil {
		return nil, &Error{Op: "load", Kind: ErrCorrupt, Msg: "managed object " + name + ": " + err.Error(), cause: err}
	}
	return obj, nil
}

// RawManaged is a managed object whose type is not registered in this
// process. It round-trips its payload unchanged.
type RawManaged struct {
	Type string
	Data []byte
}

func (r *RawManaged) TypeName() string { return r.Type }

func (r *RawManaged) MarshalBinary() ([]byte, error) { return r.Data, nil }

func (r *RawManaged) Copy() ManagedObject {
	return &RawManaged{Type: r.Type, Data: bytes.Clone(r.Data)}
}

func (r *RawManaged) DeepCopy() any { return r.Copy() }

func (r *RawManaged) Equal(other ManagedObject) bool {
	o, ok := other.(*RawManaged)
	return ok && o.Type == r.Type && bytes.Equal(o.Data, r.Data)
}

func (r *RawManaged) Pointers() []Ref { return nil }
