package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// BookingsService carries its messages as google.protobuf.Struct so it can be served and
// called without generated stubs.
const BookingsServiceName = "fadebook.v1.BookingsService"

type BookingsServiceServer interface {
	CreateBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UpdateBookingStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListProviderBookings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CheckAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListPayments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(srv BookingsServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + BookingsServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BookingsServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BookingsServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var BookingsServiceDesc = grpc.ServiceDesc{
	ServiceName: BookingsServiceName,
	HandlerType: (*BookingsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("CreateBooking", BookingsServiceServer.CreateBooking),
		unaryHandler("UpdateBookingStatus", BookingsServiceServer.UpdateBookingStatus),
		unaryHandler("GetBooking", BookingsServiceServer.GetBooking),
		unaryHandler("ListProviderBookings", BookingsServiceServer.ListProviderBookings),
		unaryHandler("CheckAvailability", BookingsServiceServer.CheckAvailability),
		unaryHandler("ListPayments", BookingsServiceServer.ListPayments),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fadebook/v1/bookings.proto",
}

func RegisterBookingsServiceServer(s grpc.ServiceRegistrar, srv BookingsServiceServer) {
	s.RegisterService(&BookingsServiceDesc, srv)
}

// BookingsClient invokes BookingsService methods by name.
type BookingsClient struct {
	cc grpc.ClientConnInterface
}

func NewBookingsClient(cc grpc.ClientConnInterface) *BookingsClient {
	return &BookingsClient{cc: cc}
}

func (c *BookingsClient) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+BookingsServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
