// ============================================================================
// Beaver-Balancer RPC - gRPC 服務定義
// ============================================================================
//
// Package: internal/rpc
// 文件: service.go
// 功能: 定義 balancer.v1.Balancer 服務的 ServiceDesc、server 介面與 client
//
// 訊息格式:
//   所有訊息皆為 protobuf well-known types，不需要額外的 .proto 編譯：
//
//   RPC               Request               Response
//   RequestWork       Empty                 Struct{work, job_id, chunk_size, total_units, shutdown}
//   RefreshHeartbeat  Struct{job_id}        BoolValue
//   ReportCompletion  Struct{job_id, success, error?, worker_id?}  BoolValue
//
//   Struct 的欄位編碼與解碼見 messages.go。
//
// ============================================================================

package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName 完整服務名稱
const ServiceName = "balancer.v1.Balancer"

// 完整方法名稱
const (
	MethodRequestWork      = "/" + ServiceName + "/RequestWork"
	MethodRefreshHeartbeat = "/" + ServiceName + "/RefreshHeartbeat"
	MethodReportCompletion = "/" + ServiceName + "/ReportCompletion"
)

// BalancerServer coordinator 端需實作的介面
type BalancerServer interface {
	RequestWork(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	RefreshHeartbeat(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	ReportCompletion(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
}

// RegisterBalancerServer 將實作註冊到 gRPC server
func RegisterBalancerServer(s grpc.ServiceRegistrar, srv BalancerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc balancer.v1.Balancer 的服務描述
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BalancerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestWork", Handler: requestWorkHandler},
		{MethodName: "RefreshHeartbeat", Handler: refreshHeartbeatHandler},
		{MethodName: "ReportCompletion", Handler: reportCompletionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "balancer/v1/balancer.proto",
}

func requestWorkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BalancerServer).RequestWork(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodRequestWork}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BalancerServer).RequestWork(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func refreshHeartbeatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BalancerServer).RefreshHeartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodRefreshHeartbeat}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BalancerServer).RefreshHeartbeat(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func reportCompletionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BalancerServer).ReportCompletion(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodReportCompletion}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BalancerServer).ReportCompletion(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// BalancerClient balancer.v1.Balancer 的 client
type BalancerClient struct {
	cc grpc.ClientConnInterface
}

// NewBalancerClient 以既有連線建立 client
func NewBalancerClient(cc grpc.ClientConnInterface) *BalancerClient {
	return &BalancerClient{cc: cc}
}

// RequestWork 呼叫 RequestWork
func (c *BalancerClient) RequestWork(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodRequestWork, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RefreshHeartbeat 呼叫 RefreshHeartbeat
func (c *BalancerClient) RefreshHeartbeat(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, MethodRefreshHeartbeat, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportCompletion 呼叫 ReportCompletion
func (c *BalancerClient) ReportCompletion(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, MethodReportCompletion, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
