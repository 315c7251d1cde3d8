package protoreg

import (
	"fmt"

	"github.com/jhump/protoreflect/v2/protobuilder"

	"github.com/hanpama/typegraph/internal/schema"
)

func (b *builder) addMethod(svc *schema.Service, op *schema.Operation, binding schema.GRPCBinding) error {
	pkg, serviceName := splitService(binding.Service)
	f := b.file(pkg)
	sb, err := b.service(f, serviceName, svc)
	if err != nil {
		return err
	}

	methodName := nameMethod(binding.Method)
	key := [3]string{pkg, serviceName, string(methodName)}
	if prev, dup := b.methods[key]; dup {
		return fmt.Errorf("%s and %s are both bound to /%s.%s/%s", prev, op.QualifiedName(), pkg, serviceName, methodName)
	}

	requestMB, err := b.request(f, serviceName, op, binding)
	if err != nil {
		return fmt.Errorf("%s: %w", op.QualifiedName(), err)
	}
	responseMB, err := b.response(f, serviceName, op, binding)
	if err != nil {
		return fmt.Errorf("%s: %w", op.QualifiedName(), err)
	}

	mb := protobuilder.NewMethod(
		methodName,
		protobuilder.RpcTypeMessage(requestMB, false),
		protobuilder.RpcTypeMessage(responseMB, false),
	)
	mb.SetComments(comment(op.Description))
	sb.AddMethod(mb)
	b.methods[key] = op.QualifiedName()
	return nil
}

func (b *builder) service(f *protoFile, name string, svc *schema.Service) (*protobuilder.ServiceBuilder, error) {
	if sb, ok := f.services[name]; ok {
		return sb, nil
	}
	if err := f.claim(nameService(name), "service "+name); err != nil {
		return nil, err
	}
	sb := protobuilder.NewService(nameService(name))
	sb.SetComments(comment(svc.Description))
	f.services[name] = sb
	f.fb.AddService(sb)
	return sb, nil
}

func (b *builder) request(f *protoFile, serviceName string, op *schema.Operation, binding schema.GRPCBinding) (*protobuilder.MessageBuilder, error) {
	name := nameRequest(binding.Method)
	if err := f.claim(name, "request of "+serviceName+"."+binding.Method); err != nil {
		return nil, err
	}
	mb := protobuilder.NewMessage(name)
	fields := make([]*protobuilder.FieldBuilder, 0, len(op.Parameters))
	for _, p := range op.Parameters {
		rt, err := b.resolveTypeRef(f, p.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		fb := rt.field(nameProtoField(p.Name))
		mb.AddField(fb)
		fields = append(fields, fb)
	}
	numberFields(fields)
	f.fb.AddMessage(mb)
	return mb, nil
}

func (b *builder) response(f *protoFile, serviceName string, op *schema.Operation, binding schema.GRPCBinding) (*protobuilder.MessageBuilder, error) {
	name := nameResponse(binding.Method)
	if err := f.claim(name, "response of "+serviceName+"."+binding.Method); err != nil {
		return nil, err
	}
	rt, err := b.resolveTypeRef(f, op.Returns)
	if err != nil {
		return nil, fmt.Errorf("return type: %w", err)
	}
	mb := protobuilder.NewMessage(name)
	fb := rt.field(nameProtoField(DataField))
	fb.SetNumber(1)
	mb.AddField(fb)
	f.fb.AddMessage(mb)
	return mb, nil
}
