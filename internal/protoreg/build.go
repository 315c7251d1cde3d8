package protoreg

import (
	"fmt"
	"strings"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/hanpama/typegraph/internal/schema"
)

// DefaultPackage is the proto package of gRPC services whose binding does not
// name one.
const DefaultPackage = "typegraph"

// Build derives proto descriptors for every operation bound to gRPC, either
// directly with @grpc or through a @grpc annotation on its service.
//
// Operations are grouped into one file per proto package. Each method gets a
// <Method>Request message with one field per parameter and a <Method>Response
// message with a single "data" field of the return type. Object and enum
// types reachable from those messages are declared in the same file.
func Build(s *schema.Schema) (*Registry, error) {
	b := &builder{
		schema:  s,
		files:   make(map[string]*protoFile),
		methods: make(map[[3]string]string),
	}

	for _, svc := range s.Services() {
		for _, op := range svc.Operations {
			binding, ok := Binding(svc, op)
			if !ok {
				continue
			}
			if err := b.addMethod(svc, op, binding); err != nil {
				return nil, err
			}
		}
	}

	reg := &Registry{methods: make(map[string]protoreflect.MethodDescriptor, len(b.methods))}
	for _, pkg := range b.packageOrder {
		fd, err := b.files[pkg].fb.Build()
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", pkg, err)
		}
		reg.files = append(reg.files, fd)

		services := fd.Services()
		for i := 0; i < services.Len(); i++ {
			sd := services.Get(i)
			methods := sd.Methods()
			for j := 0; j < methods.Len(); j++ {
				md := methods.Get(j)
				key := [3]string{pkg, string(sd.Name()), string(md.Name())}
				if qualified, ok := b.methods[key]; ok {
					reg.methods[qualified] = md
				}
			}
		}
	}
	return reg, nil
}

// Binding returns the effective gRPC binding of op. Fields set by the
// operation's own @grpc win over its service's @grpc; the service defaults to
// DefaultPackage.<Service> and the method to the capitalized operation name.
func Binding(svc *schema.Service, op *schema.Operation) (schema.GRPCBinding, bool) {
	own, opBound := op.Metadata.GRPC()
	inherited, svcBound := svc.Metadata.GRPC()
	if !opBound && !svcBound {
		return schema.GRPCBinding{}, false
	}
	binding := schema.GRPCBinding{Service: inherited.Service, Method: own.Method}
	if own.Service != "" {
		binding.Service = own.Service
	}
	if binding.Service == "" {
		binding.Service = DefaultPackage + "." + capitalize(svc.Name)
	}
	if binding.Method == "" {
		binding.Method = capitalize(op.Name)
	}
	return binding, true
}

// splitService splits "pkg.sub.Service" into its package and simple name.
// A name without a package falls into DefaultPackage.
func splitService(full string) (pkg, name string) {
	i := strings.LastIndex(full, ".")
	if i < 0 {
		return DefaultPackage, full
	}
	return full[:i], full[i+1:]
}

type builder struct {
	schema *schema.Schema

	files        map[string]*protoFile
	packageOrder []string

	// [package, service, method] -> Service.operation
	methods map[[3]string]string
}

// protoFile holds the builders of one proto package. Builders cannot be
// shared between files, so types are declared once per package that uses
// them.
type protoFile struct {
	fb       *protobuilder.FileBuilder
	services map[string]*protobuilder.ServiceBuilder
	messages map[string]*protobuilder.MessageBuilder
	enums    map[string]*protobuilder.EnumBuilder
	taken    map[protoreflect.Name]string
}

func (b *builder) file(pkg string) *protoFile {
	if f, ok := b.files[pkg]; ok {
		return f
	}
	fb := protobuilder.NewFile(filePath(pkg))
	fb.SetPackageName(protoreflect.FullName(pkg))
	fb.SetSyntax(protoreflect.Proto3)
	f := &protoFile{
		fb:       fb,
		services: make(map[string]*protobuilder.ServiceBuilder),
		messages: make(map[string]*protobuilder.MessageBuilder),
		enums:    make(map[string]*protobuilder.EnumBuilder),
		taken:    make(map[protoreflect.Name]string),
	}
	b.files[pkg] = f
	b.packageOrder = append(b.packageOrder, pkg)
	return f
}

// claim reserves a top-level name in the file for owner.
func (f *protoFile) claim(name protoreflect.Name, owner string) error {
	if prev, ok := f.taken[name]; ok && prev != owner {
		return fmt.Errorf("proto name %s is used by both %s and %s", name, prev, owner)
	}
	f.taken[name] = owner
	return nil
}
