package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"buf.build/go/protovalidate"
	"connectrpc.com/connect"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ShapeFunc returns the message a procedure's google.protobuf.Struct payload
// is validated as. Procedures without a shape are validated as sent.
type ShapeFunc func(procedure string) (protoreflect.MessageDescriptor, bool)

// ValidationInterceptor rejects requests that fail protovalidate rules.
func ValidationInterceptor(validator protovalidate.Validator, shapes ShapeFunc) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if msg, ok := req.Any().(proto.Message); ok {
				if st, isStruct := msg.(*structpb.Struct); isStruct && shapes != nil {
					if md, found := shapes(req.Spec().Procedure); found {
						typed, err := shapeStruct(st, md)
						if err != nil {
							return nil, connect.NewError(connect.CodeInvalidArgument, err)
						}
						msg = typed
					}
				}
				if err := validator.Validate(msg); err != nil {
					return nil, connect.NewError(connect.CodeInvalidArgument, err)
				}
			}
			return next(ctx, req)
		}
	}
}

// shapeStruct decodes st into a dynamic message of type md through its JSON
// form. Keys md does not declare are dropped.
func shapeStruct(st *structpb.Struct, md protoreflect.MessageDescriptor) (proto.Message, error) {
	data, err := protojson.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", md.FullName(), err)
	}
	typed := dynamicpb.NewMessage(md)
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(data, typed); err != nil {
		return nil, fmt.Errorf("decode %s: %w", md.FullName(), err)
	}
	return typed, nil
}

// LoggingInterceptor logs each procedure call with its outcome and duration.
// Failed calls include the error code.
func LoggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				log.Printf("rpc %s %s: %s (%v)", req.Spec().Procedure, connect.CodeOf(err), time.Since(start), err)
				return resp, err
			}
			log.Printf("rpc %s ok %s", req.Spec().Procedure, time.Since(start))
			return resp, nil
		}
	}
}
