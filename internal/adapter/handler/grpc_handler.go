package handler

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/cart-checkout/internal/core/domain"
	"github.com/rl1809/cart-checkout/internal/core/service"
	"github.com/rl1809/cart-checkout/internal/port"
)

const GRPCServiceName = "cartcheckout.v1.CheckoutService"

// jsonCodec lets clients call the service with content-subtype "json"
// instead of protobuf.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type AddItemRequest struct {
	SessionID string `json:"session_id"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityRequest struct {
	SessionID string `json:"session_id"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CartLineRequest struct {
	SessionID string `json:"session_id"`
	ProductID int64  `json:"product_id"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type CheckoutRequest struct {
	SessionID       string          `json:"session_id"`
	Customer        domain.Customer `json:"customer"`
	ShippingAddress string          `json:"shipping_address"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
}

type OrderRequest struct {
	OrderID string `json:"order_id"`
}

type CustomerOrdersRequest struct {
	Email string `json:"email"`
}

type UpdateOrderStatusRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type OrderList struct {
	Orders []domain.Order `json:"orders"`
}

type Empty struct{}

// CheckoutServer is the gRPC surface of the engine.
type CheckoutServer interface {
	AddItem(context.Context, *AddItemRequest) (*domain.CartLine, error)
	UpdateQuantity(context.Context, *UpdateQuantityRequest) (*domain.CartUpdate, error)
	RemoveItem(context.Context, *CartLineRequest) (*Empty, error)
	ClearCart(context.Context, *SessionRequest) (*Empty, error)
	ViewCart(context.Context, *SessionRequest) (*domain.CartView, error)
	Checkout(context.Context, *CheckoutRequest) (*port.CheckoutResult, error)
	GetOrder(context.Context, *OrderRequest) (*domain.Order, error)
	ListCustomerOrders(context.Context, *CustomerOrdersRequest) (*OrderList, error)
	UpdateOrderStatus(context.Context, *UpdateOrderStatusRequest) (*domain.Order, error)
}

type GRPCHandler struct {
	carts    *service.CartService
	checkout *service.CheckoutService
	orders   *service.OrderService
}

func NewGRPCHandler(carts *service.CartService, checkout *service.CheckoutService, orders *service.OrderService) *GRPCHandler {
	return &GRPCHandler{carts: carts, checkout: checkout, orders: orders}
}

func RegisterCheckoutServer(s grpc.ServiceRegistrar, srv CheckoutServer) {
	s.RegisterService(&checkoutServiceDesc, srv)
}

func (h *GRPCHandler) AddItem(ctx context.Context, req *AddItemRequest) (*domain.CartLine, error) {
	line, err := h.carts.AddItem(ctx, req.SessionID, req.ProductID, req.Quantity)
	if err != nil {
		return nil, toStatus(err)
	}
	return &line, nil
}

func (h *GRPCHandler) UpdateQuantity(ctx context.Context, req *UpdateQuantityRequest) (*domain.CartUpdate, error) {
	update, err := h.carts.UpdateQuantity(ctx, req.SessionID, req.ProductID, req.Quantity)
	if err != nil {
		return nil, toStatus(err)
	}
	return &update, nil
}

func (h *GRPCHandler) RemoveItem(ctx context.Context, req *CartLineRequest) (*Empty, error) {
	if err := h.carts.RemoveItem(ctx, req.SessionID, req.ProductID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) ClearCart(ctx context.Context, req *SessionRequest) (*Empty, error) {
	if err := h.carts.Clear(ctx, req.SessionID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) ViewCart(ctx context.Context, req *SessionRequest) (*domain.CartView, error) {
	view, err := h.carts.GetCart(ctx, req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &view, nil
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRequest) (*port.CheckoutResult, error) {
	result, err := h.checkout.Checkout(ctx, service.CheckoutInput{
		SessionID:       req.SessionID,
		Customer:        req.Customer,
		ShippingAddress: req.ShippingAddress,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &result, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *OrderRequest) (*domain.Order, error) {
	order, err := h.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &order, nil
}

func (h *GRPCHandler) ListCustomerOrders(ctx context.Context, req *CustomerOrdersRequest) (*OrderList, error) {
	orders, err := h.orders.ListByCustomer(ctx, req.Email)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderList{Orders: orders}, nil
}

func (h *GRPCHandler) UpdateOrderStatus(ctx context.Context, req *UpdateOrderStatusRequest) (*domain.Order, error) {
	order, err := h.orders.UpdateStatus(ctx, req.OrderID, domain.OrderStatus(req.Status))
	if err != nil {
		return nil, toStatus(err)
	}
	return &order, nil
}

func toStatus(err error) error {
	var code codes.Code
	switch {
	case domain.IsValidation(err):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidStatusTransition):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrDuplicateCheckout):
		code = codes.AlreadyExists
	case errors.Is(err, domain.ErrTransientStore):
		code = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

func unaryHandler[Req, Resp any](method string, call func(CheckoutServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CheckoutServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + GRPCServiceName + "/" + method,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(CheckoutServer), ctx, req.(*Req))
		})
	}
}

var checkoutServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*CheckoutServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AddItem", Handler: unaryHandler("AddItem", CheckoutServer.AddItem)},
		{MethodName: "UpdateQuantity", Handler: unaryHandler("UpdateQuantity", CheckoutServer.UpdateQuantity)},
		{MethodName: "RemoveItem", Handler: unaryHandler("RemoveItem", CheckoutServer.RemoveItem)},
		{MethodName: "ClearCart", Handler: unaryHandler("ClearCart", CheckoutServer.ClearCart)},
		{MethodName: "ViewCart", Handler: unaryHandler("ViewCart", CheckoutServer.ViewCart)},
		{MethodName: "Checkout", Handler: unaryHandler("Checkout", CheckoutServer.Checkout)},
		{MethodName: "GetOrder", Handler: unaryHandler("GetOrder", CheckoutServer.GetOrder)},
		{MethodName: "ListCustomerOrders", Handler: unaryHandler("ListCustomerOrders", CheckoutServer.ListCustomerOrders)},
		{MethodName: "UpdateOrderStatus", Handler: unaryHandler("UpdateOrderStatus", CheckoutServer.UpdateOrderStatus)},
	},
	Streams: []grpc.StreamDesc{},
}
