package bridge

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/protogate/protogate/internal/descpool"
	"github.com/protogate/protogate/internal/gqlopt"
	"github.com/protogate/protogate/internal/schema"
)

// Options configures schema synthesis.
type Options struct {
	// Federation enables directive emission, `_entities`, and `_service`.
	Federation bool
	// Services restricts synthesis to the listed service FQNs; empty means
	// every service in the descriptor set.
	Services []string
}

// Bridge is the frozen result of synthesis: the schema, the dispatch
// registry, and the per-service backend annotations.
type Bridge struct {
	Schema   *schema.Schema
	Registry *Registry
	// ServiceHosts maps service FQN to its (graphql.service) annotation for
	// client pool bootstrap. Only annotated services with methods exposed in
	// the schema appear.
	ServiceHosts map[string]gqlopt.Service
}

// Build synthesizes the GraphQL schema and dispatch table from an indexed
// descriptor pool. Any inconsistency aborts with ErrSchemaSynthesis; there
// is no partial schema.
func Build(pool *descpool.Pool, opts Options) (*Bridge, error) {
	reader := gqlopt.NewReader(pool)
	reg := newRegistry()
	sch := schema.NewSchema()
	mapper := newTypeMapper(reader, reg, sch, opts.Federation)

	b := &builder{
		pool:   pool,
		reader: reader,
		reg:    reg,
		sch:    sch,
		mapper: mapper,
		opts:   opts,
		hosts:  map[string]gqlopt.Service{},
	}
	if err := b.run(); err != nil {
		return nil, err
	}
	return &Bridge{Schema: sch, Registry: reg, ServiceHosts: b.hosts}, nil
}

type builder struct {
	pool   *descpool.Pool
	reader *gqlopt.Reader
	reg    *Registry
	sch    *schema.Schema
	mapper *typeMapper
	opts   Options
	hosts  map[string]gqlopt.Service

	queryFields        []*schema.Field
	mutationFields     []*schema.Field
	subscriptionFields []*schema.Field
}

func (b *builder) run() error {
	allow := map[string]bool{}
	for _, s := range b.opts.Services {
		allow[s] = true
	}

	for _, sd := range b.pool.Services() {
		fqn := string(sd.FullName())
		if len(allow) > 0 && !allow[fqn] {
			continue
		}
		svcAnn, err := b.reader.Service(sd)
		if err != nil {
			return err
		}
		exposed := false
		methods := sd.Methods()
		for i := 0; i < methods.Len(); i++ {
			md := methods.Get(i)
			ann, err := b.reader.Method(md)
			if err != nil {
				return err
			}
			if ann.Kind == gqlopt.KindNone {
				continue
			}
			if err := b.addMethod(sd, md, ann); err != nil {
				return err
			}
			exposed = true
		}
		if exposed && svcAnn.Host != "" {
			b.hosts[fqn] = svcAnn
		}
	}

	if err := b.installRoots(); err != nil {
		return err
	}
	if b.opts.Federation {
		if err := installFederation(b.reader, b.reg, b.sch); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) addMethod(sd protoreflect.ServiceDescriptor, md protoreflect.MethodDescriptor, ann gqlopt.Method) error {
	if md.IsStreamingClient() {
		return fmt.Errorf("%w: %s: client-streaming methods cannot be exposed", ErrSchemaSynthesis, md.FullName())
	}
	if ann.Kind == gqlopt.KindSubscription && !md.IsStreamingServer() {
		return fmt.Errorf("%w: %s: SUBSCRIPTION requires a server-streaming method", ErrSchemaSynthesis, md.FullName())
	}
	if ann.Kind != gqlopt.KindSubscription && md.IsStreamingServer() {
		return fmt.Errorf("%w: %s: server-streaming methods map only to SUBSCRIPTION", ErrSchemaSynthesis, md.FullName())
	}

	returnType, pluck, err := b.returnType(md, ann)
	if err != nil {
		return err
	}
	args, err := b.arguments(md.Input(), ann)
	if err != nil {
		return err
	}

	// Upload arguments are mutation-only. Resolver fields are exempt: they
	// expose no arguments, the request rebuilds from the parent source.
	if ann.Kind == gqlopt.KindQuery || ann.Kind == gqlopt.KindSubscription {
		if b.mapper.containsUpload(md.Input()) {
			return fmt.Errorf("%w: %s: Upload inputs are only valid on MUTATION methods", ErrSchemaSynthesis, md.FullName())
		}
	}

	field := &schema.Field{Name: ann.Name, Type: returnType, Arguments: args, Async: true}
	binding := &Binding{
		Field:            ann.Name,
		Service:          string(sd.FullName()),
		Method:           md,
		RequestName:      ann.RequestName,
		Pluck:            pluck,
		ResponseRequired: ann.ResponseRequired,
	}

	switch ann.Kind {
	case gqlopt.KindQuery:
		binding.Kind = BindQuery
		return b.addRootField("Query", &b.queryFields, field, binding)
	case gqlopt.KindMutation:
		binding.Kind = BindMutation
		return b.addRootField("Mutation", &b.mutationFields, field, binding)
	case gqlopt.KindSubscription:
		binding.Kind = BindSubscription
		return b.addRootField("Subscription", &b.subscriptionFields, field, binding)
	case gqlopt.KindResolver:
		binding.Kind = BindResolver
		return b.addResolverField(md, field, binding)
	}
	return fmt.Errorf("%w: %s: unknown operation kind %d", ErrSchemaSynthesis, md.FullName(), ann.Kind)
}

func (b *builder) addRootField(root string, bucket *[]*schema.Field, field *schema.Field, binding *Binding) error {
	for _, existing := range *bucket {
		if existing.Name == field.Name {
			return fmt.Errorf("%w: duplicate %s field %q", ErrSchemaSynthesis, root, field.Name)
		}
	}
	*bucket = append(*bucket, field)
	binding.ObjectType = root
	b.reg.bindings[bindingKey{root, field.Name}] = binding
	return nil
}

// addResolverField attaches the method as a child field on the output
// object of its request message type. At execution the request is rebuilt
// from the parent source, so the field exposes no arguments of its own.
func (b *builder) addResolverField(md protoreflect.MethodDescriptor, field *schema.Field, binding *Binding) error {
	parentName, err := b.mapper.ensureOutput(md.Input())
	if err != nil {
		return err
	}
	parent := b.sch.Types[parentName]
	if parent.Field(field.Name) != nil {
		return fmt.Errorf("%w: duplicate field %q on %s", ErrSchemaSynthesis, field.Name, parentName)
	}
	field.Arguments = nil
	parent.Fields = append(parent.Fields, field)
	binding.ObjectType = parentName
	b.reg.bindings[bindingKey{parentName, field.Name}] = binding
	return nil
}

// returnType computes the field's return type, resolving the pluck chain
// when configured.
func (b *builder) returnType(md protoreflect.MethodDescriptor, ann gqlopt.Method) (*schema.TypeRef, []protoreflect.FieldDescriptor, error) {
	output := md.Output()
	if ann.Pluck == "" {
		name, err := b.mapper.ensureOutput(output)
		if err != nil {
			return nil, nil, err
		}
		ref := schema.NamedType(name)
		if ann.ResponseRequired {
			ref = schema.NonNullType(ref)
		}
		return ref, nil, nil
	}

	segments := strings.Split(ann.Pluck, ".")
	chain := make([]protoreflect.FieldDescriptor, 0, len(segments))
	cur := output
	var last protoreflect.FieldDescriptor
	for i, seg := range segments {
		if cur == nil {
			return nil, nil, fmt.Errorf("%w: %s: pluck segment %q descends into a non-message field", ErrSchemaSynthesis, md.FullName(), seg)
		}
		fd := cur.Fields().ByName(protoreflect.Name(seg))
		if fd == nil {
			return nil, nil, fmt.Errorf("%w: %s: pluck field %q not found on %s", ErrSchemaSynthesis, md.FullName(), seg, cur.FullName())
		}
		chain = append(chain, fd)
		last = fd
		if i < len(segments)-1 {
			if fd.Kind() != protoreflect.MessageKind || fd.IsMap() || fd.Cardinality() == protoreflect.Repeated {
				return nil, nil, fmt.Errorf("%w: %s: pluck segment %q must be a singular message", ErrSchemaSynthesis, md.FullName(), seg)
			}
			cur = fd.Message()
		}
	}
	// Output objects along the chain still exist for clients that also call
	// non-plucked methods returning the same messages.
	ann2, err := b.reader.Field(last)
	if err != nil {
		return nil, nil, err
	}
	ref, err := b.mapper.fieldTypeRef(last, ann2, false)
	if err != nil {
		return nil, nil, err
	}
	if ann.ResponseRequired && !schema.IsNonNull(ref) {
		ref = schema.NonNullType(ref)
	}
	return ref, chain, nil
}

// arguments computes the field's argument list per the request-shape rules.
func (b *builder) arguments(input protoreflect.MessageDescriptor, ann gqlopt.Method) ([]*schema.InputValue, error) {
	if ann.Kind == gqlopt.KindResolver {
		return nil, nil
	}
	if ann.RequestName != "" {
		name, err := b.mapper.ensureInput(input)
		if err != nil {
			return nil, err
		}
		return []*schema.InputValue{{Name: ann.RequestName, Type: schema.NamedType(name)}}, nil
	}

	fields := input.Fields()
	visible := make([]protoreflect.FieldDescriptor, 0, fields.Len())
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		fa, err := b.reader.Field(fd)
		if err != nil {
			return nil, err
		}
		b.reg.fieldOpts[fd.FullName()] = fa
		if fa.Omit {
			continue
		}
		visible = append(visible, fd)
	}

	out := make([]*schema.InputValue, 0, len(visible))
	for _, fd := range visible {
		fa := b.reg.fieldOpts[fd.FullName()]
		ref, err := b.mapper.fieldTypeRef(fd, fa, true)
		if err != nil {
			return nil, err
		}
		out = append(out, &schema.InputValue{Name: fieldName(fd, fa), Type: ref})
	}
	return out, nil
}

// installRoots freezes the collected root fields into the schema. A Query
// root always exists; GraphQL requires one, so an operationless schema gets
// a placeholder field.
func (b *builder) installRoots() error {
	query := &schema.Type{Name: "Query", Kind: schema.TypeKindObject, Fields: b.queryFields}
	if len(query.Fields) == 0 && !b.opts.Federation {
		query.Fields = []*schema.Field{{
			Name: "_placeholder",
			Type: schema.NonNullType(schema.NamedType("Boolean")),
		}}
	}
	b.sch.AddType(query)
	b.sch.QueryType = "Query"

	if len(b.mutationFields) > 0 {
		b.sch.AddType(&schema.Type{Name: "Mutation", Kind: schema.TypeKindObject, Fields: b.mutationFields})
		b.sch.MutationType = "Mutation"
	}
	if len(b.subscriptionFields) > 0 {
		b.sch.AddType(&schema.Type{Name: "Subscription", Kind: schema.TypeKindObject, Fields: b.subscriptionFields})
		b.sch.SubscriptionType = "Subscription"
	}
	return nil
}
