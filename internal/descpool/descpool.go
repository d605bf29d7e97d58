// Package descpool indexes a binary FileDescriptorSet so every other part of
// the gateway can resolve descriptors by fully-qualified name in O(1).
// The pool is immutable after Load; all descriptors it hands out stay valid
// for the pool's lifetime.
package descpool

import (
	"errors"
	"fmt"
	"sort"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ErrInvalidDescriptor marks every failure to decode or resolve the supplied
// descriptor set. It is fatal at gateway startup.
var ErrInvalidDescriptor = errors.New("descpool: invalid descriptor set")

// ExtensionKey identifies an extension declaration site.
type ExtensionKey struct {
	Extendee protoreflect.FullName
	Number   protoreflect.FieldNumber
}

// Pool is the in-memory descriptor index.
type Pool struct {
	files      *protoregistry.Files
	messages   map[protoreflect.FullName]protoreflect.MessageDescriptor
	enums      map[protoreflect.FullName]protoreflect.EnumDescriptor
	services   map[protoreflect.FullName]protoreflect.ServiceDescriptor
	methods    map[protoreflect.FullName]protoreflect.MethodDescriptor
	extensions map[ExtensionKey]protoreflect.ExtensionDescriptor
}

// Load parses raw FileDescriptorSet bytes and builds the indices. The only
// I/O is reading the supplied slice.
func Load(raw []byte) (*Pool, error) {
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return FromSet(&set)
}

// FromSet builds a pool from an already-decoded descriptor set.
func FromSet(set *descriptorpb.FileDescriptorSet) (*Pool, error) {
	files, err := protodesc.NewFiles(set)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	p := &Pool{
		files:      files,
		messages:   map[protoreflect.FullName]protoreflect.MessageDescriptor{},
		enums:      map[protoreflect.FullName]protoreflect.EnumDescriptor{},
		services:   map[protoreflect.FullName]protoreflect.ServiceDescriptor{},
		methods:    map[protoreflect.FullName]protoreflect.MethodDescriptor{},
		extensions: map[ExtensionKey]protoreflect.ExtensionDescriptor{},
	}
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		p.indexFile(fd)
		return true
	})
	return p, nil
}

func (p *Pool) indexFile(fd protoreflect.FileDescriptor) {
	msgs := fd.Messages()
	for i := 0; i < msgs.Len(); i++ {
		p.indexMessage(msgs.Get(i))
	}
	enums := fd.Enums()
	for i := 0; i < enums.Len(); i++ {
		ed := enums.Get(i)
		p.enums[ed.FullName()] = ed
	}
	exts := fd.Extensions()
	for i := 0; i < exts.Len(); i++ {
		p.indexExtension(exts.Get(i))
	}
	svcs := fd.Services()
	for i := 0; i < svcs.Len(); i++ {
		sd := svcs.Get(i)
		p.services[sd.FullName()] = sd
		methods := sd.Methods()
		for j := 0; j < methods.Len(); j++ {
			md := methods.Get(j)
			p.methods[md.FullName()] = md
		}
	}
}

func (p *Pool) indexMessage(md protoreflect.MessageDescriptor) {
	p.messages[md.FullName()] = md
	nested := md.Messages()
	for i := 0; i < nested.Len(); i++ {
		p.indexMessage(nested.Get(i))
	}
	enums := md.Enums()
	for i := 0; i < enums.Len(); i++ {
		ed := enums.Get(i)
		p.enums[ed.FullName()] = ed
	}
	exts := md.Extensions()
	for i := 0; i < exts.Len(); i++ {
		p.indexExtension(exts.Get(i))
	}
}

func (p *Pool) indexExtension(xd protoreflect.ExtensionDescriptor) {
	key := ExtensionKey{Extendee: xd.ContainingMessage().FullName(), Number: xd.Number()}
	p.extensions[key] = xd
}

// Message resolves a message descriptor by fully-qualified name.
func (p *Pool) Message(name protoreflect.FullName) protoreflect.MessageDescriptor {
	return p.messages[name]
}

// Enum resolves an enum descriptor by fully-qualified name.
func (p *Pool) Enum(name protoreflect.FullName) protoreflect.EnumDescriptor {
	return p.enums[name]
}

// Service resolves a service descriptor by fully-qualified name.
func (p *Pool) Service(name protoreflect.FullName) protoreflect.ServiceDescriptor {
	return p.services[name]
}

// Method resolves a method descriptor by "pkg.Service.Method".
func (p *Pool) Method(name protoreflect.FullName) protoreflect.MethodDescriptor {
	return p.methods[name]
}

// Extension returns the extension declared for (extendee, number), or nil.
// The reader uses it to tell the gateway's option numbers apart from foreign
// extensions that happen to share a number.
func (p *Pool) Extension(extendee protoreflect.FullName, number protoreflect.FieldNumber) protoreflect.ExtensionDescriptor {
	return p.extensions[ExtensionKey{Extendee: extendee, Number: number}]
}

// Services returns every service descriptor sorted by full name. Sorting
// keeps schema synthesis deterministic across loads.
func (p *Pool) Services() []protoreflect.ServiceDescriptor {
	out := make([]protoreflect.ServiceDescriptor, 0, len(p.services))
	for _, sd := range p.services {
		out = append(out, sd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName() < out[j].FullName() })
	return out
}

// RangeFiles iterates the underlying files.
func (p *Pool) RangeFiles(f func(protoreflect.FileDescriptor) bool) {
	p.files.RangeFiles(f)
}
