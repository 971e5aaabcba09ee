// Package pb holds the hand-written gRPC bindings of registration.v1.
// Messages are plain structs encoded with the JSON codec in codec.go.
package pb

import (
	context "context"

	grpc "google.golang.org/grpc"
	codes "google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
)

const _ = grpc.SupportPackageIsVersion7

const (
	ServiceName = "registration.v1.Registration"

	methodCreateDraftPart     = "/registration.v1.Registration/CreateDraftPart"
	methodChangeToMainProduct = "/registration.v1.Registration/ChangeToMainProduct"
	methodGetPart             = "/registration.v1.Registration/GetPart"
)

type CreateDraftPartRequest struct {
	SeriesId    string `json:"series_id,omitempty"`
	SupplierId  string `json:"supplier_id"`
	Title       string `json:"title"`
	IsoCategory string `json:"iso_category"`
	HmsArtNr    string `json:"hms_art_nr"`
	LevArtNr    string `json:"lev_art_nr"`
	SparePart   bool   `json:"spare_part,omitempty"`
	Accessory   bool   `json:"accessory,omitempty"`
}

type ChangeToMainProductRequest struct {
	SeriesId  string `json:"series_id"`
	ProductId string `json:"product_id"`
}

type ChangeToMainProductResponse struct{}

type GetPartRequest struct {
	Id string `json:"id"`
}

type Part struct {
	Id          string `json:"id"`
	SeriesUuid  string `json:"series_uuid"`
	SupplierId  string `json:"supplier_id"`
	Title       string `json:"title"`
	IsoCategory string `json:"iso_category"`
	HmsArtNr    string `json:"hms_art_nr"`
	LevArtNr    string `json:"lev_art_nr"`
	SparePart   bool   `json:"spare_part,omitempty"`
	Accessory   bool   `json:"accessory,omitempty"`
	Status      string `json:"status"`
	DraftStatus string `json:"draft_status"`
	Version     int64  `json:"version"`
	// Created and Updated are epoch milliseconds.
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

func (x *GetPartRequest) GetId() string {
	if x == nil {
		return ""
	}
	return x.Id
}

// Client API
type RegistrationClient interface {
	CreateDraftPart(ctx context.Context, in *CreateDraftPartRequest, opts ...grpc.CallOption) (*Part, error)
	ChangeToMainProduct(ctx context.Context, in *ChangeToMainProductRequest, opts ...grpc.CallOption) (*ChangeToMainProductResponse, error)
	GetPart(ctx context.Context, in *GetPartRequest, opts ...grpc.CallOption) (*Part, error)
}

type registrationClient struct {
	cc grpc.ClientConnInterface
}

// NewRegistrationClient returns a client that always speaks the JSON codec.
func NewRegistrationClient(cc grpc.ClientConnInterface) RegistrationClient {
	return &registrationClient{cc}
}

func (c *registrationClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *registrationClient) CreateDraftPart(ctx context.Context, in *CreateDraftPartRequest, opts ...grpc.CallOption) (*Part, error) {
	out := new(Part)
	if err := c.invoke(ctx, methodCreateDraftPart, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *registrationClient) ChangeToMainProduct(ctx context.Context, in *ChangeToMainProductRequest, opts ...grpc.CallOption) (*ChangeToMainProductResponse, error) {
	out := new(ChangeToMainProductResponse)
	if err := c.invoke(ctx, methodChangeToMainProduct, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *registrationClient) GetPart(ctx context.Context, in *GetPartRequest, opts ...grpc.CallOption) (*Part, error) {
	out := new(Part)
	if err := c.invoke(ctx, methodGetPart, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Server API
type RegistrationServer interface {
	CreateDraftPart(context.Context, *CreateDraftPartRequest) (*Part, error)
	ChangeToMainProduct(context.Context, *ChangeToMainProductRequest) (*ChangeToMainProductResponse, error)
	GetPart(context.Context, *GetPartRequest) (*Part, error)
}

// UnimplementedRegistrationServer can be embedded for forward compatibility.
type UnimplementedRegistrationServer struct{}

func (UnimplementedRegistrationServer) CreateDraftPart(context.Context, *CreateDraftPartRequest) (*Part, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CreateDraftPart not implemented")
}
func (UnimplementedRegistrationServer) ChangeToMainProduct(context.Context, *ChangeToMainProductRequest) (*ChangeToMainProductResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ChangeToMainProduct not implemented")
}
func (UnimplementedRegistrationServer) GetPart(context.Context, *GetPartRequest) (*Part, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetPart not implemented")
}

func RegisterRegistrationServer(s grpc.ServiceRegistrar, srv RegistrationServer) {
	s.RegisterService(&registrationServiceDesc, srv)
}

func unaryHandler[Req any](method string, call func(RegistrationServer, context.Context, *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RegistrationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RegistrationServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var registrationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RegistrationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateDraftPart",
			Handler: unaryHandler(methodCreateDraftPart, func(s RegistrationServer, ctx context.Context, in *CreateDraftPartRequest) (any, error) {
				return s.CreateDraftPart(ctx, in)
			}),
		},
		{
			MethodName: "ChangeToMainProduct",
			Handler: unaryHandler(methodChangeToMainProduct, func(s RegistrationServer, ctx context.Context, in *ChangeToMainProductRequest) (any, error) {
				return s.ChangeToMainProduct(ctx, in)
			}),
		},
		{
			MethodName: "GetPart",
			Handler: unaryHandler(methodGetPart, func(s RegistrationServer, ctx context.Context, in *GetPartRequest) (any, error) {
				return s.GetPart(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "registration/v1/registration.proto",
}
