package handler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/registration/internal/adapter/handler/pb"
	"github.com/rl1809/registration/internal/core/domain"
	"github.com/rl1809/registration/internal/core/service"
)

type GRPCHandler struct {
	pb.UnimplementedRegistrationServer
	registration *service.RegistrationService
}

func NewGRPCHandler(registration *service.RegistrationService) *GRPCHandler {
	return &GRPCHandler{registration: registration}
}

// NewGRPCServer returns a server with h registered behind auth.
func NewGRPCServer(h *GRPCHandler, auth *Authenticator, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(auth.UnaryInterceptor))
	srv := grpc.NewServer(opts...)
	pb.RegisterRegistrationServer(srv, h)
	return srv
}

func (h *GRPCHandler) CreateDraftPart(ctx context.Context, req *pb.CreateDraftPartRequest) (*pb.Part, error) {
	supplierID, err := parseID("supplier_id", req.SupplierId)
	if err != nil {
		return nil, err
	}
	var seriesID uuid.UUID
	if req.SeriesId != "" {
		if seriesID, err = parseID("series_id", req.SeriesId); err != nil {
			return nil, err
		}
	}

	part, err := h.registration.CreateDraftPart(ctx, CallerFromContext(ctx), service.DraftPartInput{
		SeriesID:    seriesID,
		SupplierID:  supplierID,
		Title:       req.Title,
		IsoCategory: req.IsoCategory,
		HmsArtNr:    req.HmsArtNr,
		LevArtNr:    req.LevArtNr,
		SparePart:   req.SparePart,
		Accessory:   req.Accessory,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return toPB(part), nil
}

func (h *GRPCHandler) ChangeToMainProduct(ctx context.Context, req *pb.ChangeToMainProductRequest) (*pb.ChangeToMainProductResponse, error) {
	seriesID, err := parseID("series_id", req.SeriesId)
	if err != nil {
		return nil, err
	}
	productID, err := parseID("product_id", req.ProductId)
	if err != nil {
		return nil, err
	}
	if err := h.registration.ChangeToMainProduct(ctx, CallerFromContext(ctx), seriesID, productID); err != nil {
		return nil, grpcError(err)
	}
	return &pb.ChangeToMainProductResponse{}, nil
}

func (h *GRPCHandler) GetPart(ctx context.Context, req *pb.GetPartRequest) (*pb.Part, error) {
	id, err := parseID("id", req.GetId())
	if err != nil {
		return nil, err
	}
	part, err := h.registration.GetPart(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toPB(part), nil
}

func parseID(field, v string) (uuid.UUID, error) {
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, status.Error(codes.InvalidArgument, fmt.Sprintf("invalid %s", field))
	}
	return id, nil
}

func toPB(p *domain.Part) *pb.Part {
	return &pb.Part{
		Id:          p.ID.String(),
		SeriesUuid:  p.SeriesUUID.String(),
		SupplierId:  p.SupplierID.String(),
		Title:       p.Title,
		IsoCategory: p.IsoCategory,
		HmsArtNr:    string(p.HmsArtNr),
		LevArtNr:    string(p.LevArtNr),
		SparePart:   p.SparePart,
		Accessory:   p.Accessory,
		Status:      string(p.Status),
		DraftStatus: string(p.DraftStatus),
		Version:     p.Version,
		Created:     p.CreatedAt.UnixMilli(),
		Updated:     p.UpdatedAt.UnixMilli(),
	}
}
