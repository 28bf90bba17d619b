package service

import (
	"fmt"

	"buf.build/gen/go/bufbuild/protovalidate/protocolbuffers/go/buf/validate"
	"google.golang.org/genproto/googleapis/api/annotations"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// DocumentServiceName is the fully-qualified name of the document service.
	DocumentServiceName = "docql.v1.DocumentService"

	// DocumentServicePath is the URL prefix of every connect procedure.
	DocumentServicePath = "/" + DocumentServiceName + "/"
)

// route is one unary method and the REST path it is transcoded from. A
// non-empty shape names the message its Struct payload is validated as.
type route struct {
	method string
	post   string
	shape  string
}

// routes lists the methods of DocumentService. Every method takes and
// returns a google.protobuf.Struct.
var routes = []route{
	{"Query", "/v1/query", ""},
	{"Explain", "/v1/explain", ""},
	{"SaveDocuments", "/v1/documents/save", ""},
	{"GetDocument", "/v1/documents/get", "DocumentRefRequest"},
	{"DeleteDocument", "/v1/documents/delete", "DocumentRefRequest"},
	{"PurgeDocument", "/v1/documents/purge", "DocumentRefRequest"},
	{"FilterDocuments", "/v1/documents/filter", ""},
	{"CreateIndex", "/v1/indexes/create", "CreateIndexRequest"},
	{"DeleteIndex", "/v1/indexes/delete", ""},
	{"ListCollections", "/v1/collections/list", ""},
}

// requestShapes are the typed views of Struct payloads. Their fields carry
// buf.validate rules; keys a shape does not declare are ignored.
var requestShapes = []*descriptorpb.DescriptorProto{
	{
		Name: proto.String("DocumentRefRequest"),
		Field: []*descriptorpb.FieldDescriptorProto{
			stringField("collection", "collection", 1, nil),
			stringField("document_id", "documentId", 2, &validate.FieldRules{
				Type: &validate.FieldRules_String_{String_: &validate.StringRules{MinLen: proto.Uint64(1)}},
			}),
		},
	},
	{
		Name: proto.String("CreateIndexRequest"),
		Field: []*descriptorpb.FieldDescriptorProto{
			stringField("collection", "collection", 1, nil),
			repeated(stringField("index_fields", "indexFields", 2, &validate.FieldRules{
				Type: &validate.FieldRules_Repeated{Repeated: &validate.RepeatedRules{
					MinItems: proto.Uint64(1),
					Items: &validate.FieldRules{
						Type: &validate.FieldRules_String_{String_: &validate.StringRules{MinLen: proto.Uint64(1)}},
					},
				}},
			})),
		},
	},
}

func stringField(name, jsonName string, number int32, rules *validate.FieldRules) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(jsonName),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
	}
	if rules != nil {
		f.Options = &descriptorpb.FieldOptions{}
		proto.SetExtension(f.Options, validate.E_Field, rules)
	}
	return f
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

// DocumentServiceDescriptor describes DocumentService. It is registered in
// protoregistry.GlobalFiles so vanguard can find it by name.
var DocumentServiceDescriptor protoreflect.ServiceDescriptor

// shapesByProcedure maps a connect procedure to its request shape.
var shapesByProcedure = map[string]protoreflect.MessageDescriptor{}

func init() {
	sd, err := buildServiceDescriptor()
	if err != nil {
		panic(err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(sd.ParentFile()); err != nil {
		panic(fmt.Errorf("register %s: %w", sd.ParentFile().Path(), err))
	}
	DocumentServiceDescriptor = sd

	for _, r := range routes {
		if r.shape == "" {
			continue
		}
		md := sd.ParentFile().Messages().ByName(protoreflect.Name(r.shape))
		if md == nil {
			panic(fmt.Errorf("request shape %s missing from %s", r.shape, sd.ParentFile().Path()))
		}
		shapesByProcedure[procedure(r.method)] = md
	}
}

// RequestShape returns the validated message view of procedure's payload.
func RequestShape(procedure string) (protoreflect.MessageDescriptor, bool) {
	md, ok := shapesByProcedure[procedure]
	return md, ok
}

func buildServiceDescriptor() (protoreflect.ServiceDescriptor, error) {
	structName := "." + string((&structpb.Struct{}).ProtoReflect().Descriptor().FullName())

	methods := make([]*descriptorpb.MethodDescriptorProto, len(routes))
	for i, r := range routes {
		opts := &descriptorpb.MethodOptions{}
		proto.SetExtension(opts, annotations.E_Http, &annotations.HttpRule{
			Pattern: &annotations.HttpRule_Post{Post: r.post},
			Body:    "*",
		})
		methods[i] = &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(r.method),
			InputType:  proto.String(structName),
			OutputType: proto.String(structName),
			Options:    opts,
		}
	}

	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("docql/v1/document_service.proto"),
		Package: proto.String("docql.v1"),
		Dependency: []string{
			"buf/validate/validate.proto",
			"google/api/annotations.proto",
			"google/protobuf/struct.proto",
		},
		Syntax:      proto.String("proto3"),
		MessageType: requestShapes,
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String("DocumentService"),
			Method: methods,
		}},
	}

	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		return nil, fmt.Errorf("build document service descriptor: %w", err)
	}
	sd := fd.Services().ByName("DocumentService")
	if sd == nil {
		return nil, fmt.Errorf("document service missing from %s", fd.Path())
	}
	return sd, nil
}

// procedure returns the connect procedure path of method.
func procedure(method string) string {
	return DocumentServicePath + method
}
