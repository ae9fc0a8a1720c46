package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/seventeenk/storefront/internal/core/domain"
	"github.com/seventeenk/storefront/internal/core/service"
)

const (
	FulfillmentServiceName = "storefront.v1.Fulfillment"

	freeDownloadMethod    = "/" + FulfillmentServiceName + "/FreeDownload"
	initiatePaymentMethod = "/" + FulfillmentServiceName + "/InitiatePayment"
)

// JSONCodecName is the content subtype clients select with
// grpc.CallContentSubtype to talk to the fulfillment service.
const JSONCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type FulfillmentRPCRequest struct {
	Email  string `json:"email"`
	ItemID string `json:"itemId"`
}

type FreeDownloadReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type InitiatePaymentReply struct {
	PaymentURL string `json:"paymentUrl"`
	Reference  string `json:"reference"`
}

// FulfillmentServer is the handler type checked by grpc.RegisterService.
type FulfillmentServer interface {
	FreeDownload(context.Context, *FulfillmentRPCRequest) (*FreeDownloadReply, error)
	InitiatePayment(context.Context, *FulfillmentRPCRequest) (*InitiatePaymentReply, error)
}

type GRPCHandler struct {
	fulfillment *service.FulfillmentService
	log         *zap.Logger
}

func NewGRPCHandler(fulfillment *service.FulfillmentService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{fulfillment: fulfillment, log: logger.Named("grpc")}
}

// Register attaches the fulfillment service to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&FulfillmentServiceDesc, h)
}

func (h *GRPCHandler) FreeDownload(ctx context.Context, req *FulfillmentRPCRequest) (*FreeDownloadReply, error) {
	err := h.fulfillment.FreeDownload(ctx, domain.FulfillmentRequest{Email: req.Email, ItemID: req.ItemID})
	if err != nil {
		return nil, toStatus(err)
	}
	return &FreeDownloadReply{Success: true, Message: "download link sent"}, nil
}

func (h *GRPCHandler) InitiatePayment(ctx context.Context, req *FulfillmentRPCRequest) (*InitiatePaymentReply, error) {
	session, err := h.fulfillment.InitiatePayment(ctx, domain.FulfillmentRequest{Email: req.Email, ItemID: req.ItemID})
	if err != nil {
		return nil, toStatus(err)
	}
	return &InitiatePaymentReply{PaymentURL: session.PaymentURL, Reference: session.Reference}, nil
}

// UnaryLogger logs one line per call with its status code.
func (h *GRPCHandler) UnaryLogger(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	h.log.Info("call",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, err
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, "invalid request")
	case errors.Is(err, service.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.Is(err, service.ErrForbidden):
		return status.Error(codes.PermissionDenied, "item not available for this checkout")
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, service.ErrUnfulfillable):
		return status.Error(codes.FailedPrecondition, "item cannot be delivered")
	case errors.Is(err, service.ErrUpstream):
		return status.Error(codes.Unavailable, "upstream failure")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	return status.Error(codes.Internal, "internal error")
}

var FulfillmentServiceDesc = grpc.ServiceDesc{
	ServiceName: FulfillmentServiceName,
	HandlerType: (*FulfillmentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FreeDownload", Handler: freeDownloadHandler},
		{MethodName: "InitiatePayment", Handler: initiatePaymentHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/fulfillment",
}

func freeDownloadHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FulfillmentRPCRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FulfillmentServer).FreeDownload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: freeDownloadMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FulfillmentServer).FreeDownload(ctx, req.(*FulfillmentRPCRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func initiatePaymentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FulfillmentRPCRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FulfillmentServer).InitiatePayment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: initiatePaymentMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FulfillmentServer).InitiatePayment(ctx, req.(*FulfillmentRPCRequest))
	}
	return interceptor(ctx, in, info, handler)
}
