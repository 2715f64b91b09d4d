package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ChuLiYu/beaver-balancer/internal/controller"
	"github.com/ChuLiYu/beaver-balancer/internal/metrics"
	"github.com/ChuLiYu/beaver-balancer/internal/rpc"
)

var log = slog.Default()

// Server implements the gRPC server for balancer.v1.Balancer by delegating
// to the Controller.
type Server struct {
	controller *controller.Controller
	metrics    *metrics.Collector
}

var _ rpc.BalancerServer = (*Server)(nil)

// NewServer creates a new gRPC server adapter. m may be nil.
func NewServer(ctrl *controller.Controller, m *metrics.Collector) *Server {
	return &Server{
		controller: ctrl,
		metrics:    m,
	}
}

// GRPCServer builds a *grpc.Server with the Balancer service and the timing
// interceptor registered.
func (s *Server) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.observe))
	gs := grpc.NewServer(opts...)
	rpc.RegisterBalancerServer(gs, s)
	return gs
}

// Serve registers the service and serves on lis until ctx is cancelled,
// then stops gracefully. The stop goroutine exits before Serve returns.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := s.GRPCServer()

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		gs.GracefulStop()
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	log.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// RequestWork hands out one job.
func (s *Server) RequestWork(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return rpc.EncodeOffer(s.controller.RequestWork()), nil
}

// RefreshHeartbeat refreshes the liveness stamp of a job.
func (s *Server) RefreshHeartbeat(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	id, err := rpc.DecodeJobID(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return wrapperspb.Bool(s.controller.RefreshHeartbeat(id)), nil
}

// ReportCompletion records the outcome of a job.
func (s *Server) ReportCompletion(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	c, err := rpc.DecodeCompletion(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return wrapperspb.Bool(s.controller.ReportCompletion(c.JobID, c.Success, c.Info)), nil
}

// observe records per-method handling latency.
func (s *Server) observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if s.metrics != nil {
		s.metrics.ObserveRPC(methodName(info.FullMethod), time.Since(start))
	}
	if err != nil {
		log.Warn("RPC failed", "method", info.FullMethod, "error", err)
	}
	return resp, err
}

// methodName strips the service prefix from a full method name.
func methodName(full string) string {
	return full[strings.LastIndexByte(full, '/')+1:]
}
