package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/EternisAI/silo-config/internal/grpc/rpc"
	"github.com/EternisAI/silo-config/internal/liveness"
	"github.com/EternisAI/silo-config/internal/registration"
	"github.com/EternisAI/silo-config/internal/registry"
	"github.com/EternisAI/silo-config/internal/rotation"
	"github.com/EternisAI/silo-config/pkg/configapi"
	"github.com/EternisAI/silo-config/pkg/settings"
)

// configService is the handler set behind serviceDesc.
type configService struct {
	svc         *registration.Service
	tracker     *liveness.Tracker
	adminAPIKey string
}

type configServiceServer interface {
	RegisterClient(context.Context, *configapi.RegisterRequest) (*configapi.RegisterResponse, error)
	Heartbeat(context.Context, *configapi.HeartbeatRequest) (*configapi.HeartbeatResponse, error)
	GetValues(context.Context, *configapi.ValuesRequest) (*configapi.ValuesResponse, error)
	ApiInstanceHeartbeat(context.Context, *configapi.InstanceHeartbeatRequest) (*configapi.InstanceHeartbeatResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: rpc.ServiceName,
	HandlerType: (*configServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: rpc.MethodRegisterClient, Handler: unary(rpc.MethodRegisterClient, configServiceServer.RegisterClient)},
		{MethodName: rpc.MethodHeartbeat, Handler: unary(rpc.MethodHeartbeat, configServiceServer.Heartbeat)},
		{MethodName: rpc.MethodGetValues, Handler: unary(rpc.MethodGetValues, configServiceServer.GetValues)},
		{MethodName: rpc.MethodApiInstanceHeartbeat, Handler: unary(rpc.MethodApiInstanceHeartbeat, configServiceServer.ApiInstanceHeartbeat)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "siloconfig/v1/config.proto",
}

// unary adapts a typed method to the grpc.MethodDesc handler signature.
func unary[Req, Resp any](method string, call func(configServiceServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		impl := srv.(configServiceServer)
		if interceptor == nil {
			return call(impl, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: rpc.FullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(impl, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func (s *configService) RegisterClient(ctx context.Context, req *configapi.RegisterRequest) (*configapi.RegisterResponse, error) {
	if err := required("client_name", req.ClientName, "secret", req.Secret); err != nil {
		return nil, err
	}
	res, err := s.svc.RegisterClient(ctx, registration.RegisterRequest{
		Identity: registry.Identity{ClientName: req.ClientName, Instance: req.Instance},
		Secret:   req.Secret,
		Schema:   req.Schema,
		Caller:   caller(ctx, req.Hostname),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &configapi.RegisterResponse{
		Status:        res.Status.String(),
		Outcome:       res.Outcome.String(),
		Added:         res.Diff.Added,
		Removed:       res.Diff.Removed,
		Changed:       res.Diff.Changed,
		Metadata:      res.Diff.Metadata,
		SchemaVersion: res.SchemaVersion,
		ChangedAt:     res.ValuesChangedAt,
	}, nil
}

func (s *configService) Heartbeat(ctx context.Context, req *configapi.HeartbeatRequest) (*configapi.HeartbeatResponse, error) {
	if err := required("client_name", req.ClientName, "secret", req.Secret, "session_id", req.SessionID); err != nil {
		return nil, err
	}
	res, err := s.svc.Heartbeat(ctx, registration.HeartbeatRequest{
		Identity:        registry.Identity{ClientName: req.ClientName, Instance: req.Instance},
		Secret:          req.Secret,
		SessionID:       req.SessionID,
		Uptime:          configapi.FromMillis(req.UptimeMs),
		LastLocalUpdate: req.LastLocalUpdate,
		PollInterval:    configapi.FromMillis(req.PollIntervalMs),
		LiveReload:      req.LiveReload,
		Host:            hostMeta(req.Host),
		Caller:          caller(ctx, req.Host.Hostname),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &configapi.HeartbeatResponse{
		PollIntervalMs:  configapi.Millis(res.PollInterval),
		LiveReload:      res.LiveReload,
		UpdateAvailable: res.UpdateAvailable,
		ChangedAt:       res.ChangedAt,
	}, nil
}

func (s *configService) GetValues(ctx context.Context, req *configapi.ValuesRequest) (*configapi.ValuesResponse, error) {
	if err := required("client_name", req.ClientName, "secret", req.Secret); err != nil {
		return nil, err
	}
	id := registry.Identity{ClientName: req.ClientName, Instance: req.Instance}
	res, err := s.svc.GetValues(ctx, id, req.Secret, caller(ctx, ""))
	if err != nil {
		return nil, toStatus(err)
	}
	return &configapi.ValuesResponse{
		Values:        res.Values,
		ChangedAt:     res.ChangedAt,
		LiveReload:    res.LiveReload,
		SchemaVersion: res.SchemaVersion,
	}, nil
}

func (s *configService) ApiInstanceHeartbeat(ctx context.Context, req *configapi.InstanceHeartbeatRequest) (*configapi.InstanceHeartbeatResponse, error) {
	if err := s.checkAdminKey(ctx); err != nil {
		return nil, err
	}
	if err := required("runtime_id", req.RuntimeID); err != nil {
		return nil, err
	}
	host := hostMeta(req.Host)
	if host.IP == "" {
		host.IP = caller(ctx, "").IP
	}
	rec := s.tracker.InstanceHeartbeat(req.RuntimeID, host)
	return &configapi.InstanceHeartbeatResponse{Generation: rec.Generation}, nil
}

func (s *configService) checkAdminKey(ctx context.Context) error {
	if s.adminAPIKey == "" {
		return status.Error(codes.Unavailable, "admin API is not configured")
	}
	md, _ := metadata.FromIncomingContext(ctx)
	keys := md.Get(rpc.APIKeyMetadata)
	if len(keys) == 0 || subtle.ConstantTimeCompare([]byte(keys[0]), []byte(s.adminAPIKey)) != 1 {
		return status.Error(codes.Unauthenticated, "missing or invalid API key")
	}
	return nil
}

// required takes name/value pairs and rejects the first empty value.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return status.Errorf(codes.InvalidArgument, "%s is required", pairs[i])
		}
	}
	return nil
}

func caller(ctx context.Context, host string) registration.Caller {
	c := registration.Caller{Host: host}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		c.IP = p.Addr.String()
		if ip, _, err := net.SplitHostPort(c.IP); err == nil {
			c.IP = ip
		}
	}
	return c
}

func hostMeta(h configapi.HostInfo) liveness.HostMeta {
	return liveness.HostMeta{
		Hostname:    h.Hostname,
		IP:          h.IP,
		MemoryBytes: int64(h.MemoryBytes), // #nosec G115 -- process memory fits in int64
		Version:     h.Version,
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, registration.ErrAuthenticationFailure):
		return status.Error(codes.Unauthenticated, "authentication failed")
	case errors.Is(err, registration.ErrUnknownClient):
		return status.Error(codes.NotFound, "client is not registered")
	case errors.Is(err, rotation.ErrStaleRotation):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, registration.ErrInvalidRequest), errors.Is(err, settings.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	slog.Error("gRPC call failed internally", "error", err)
	return status.Error(codes.Internal, "internal error")
}
