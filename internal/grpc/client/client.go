// Package client is the gRPC transport for the sync agent.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/EternisAI/silo-config/internal/grpc/rpc"
	grpctls "github.com/EternisAI/silo-config/internal/grpc/tls"
	"github.com/EternisAI/silo-config/pkg/configapi"
	"github.com/EternisAI/silo-config/pkg/syncagent"
)

type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	ServerNameOverride string `mapstructure:"server_name_override"`
}

// Transport implements syncagent.Transport over the ConfigService.
type Transport struct {
	conn *grpc.ClientConn
}

var _ syncagent.Transport = (*Transport)(nil)

// NewTransport prepares a connection to serverAddr. The connection is
// established lazily on the first call.
func NewTransport(serverAddr string, tlsConfig *TLSConfig, extra ...grpc.DialOption) (*Transport, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	}

	if tlsConfig != nil && tlsConfig.Enabled {
		creds, err := grpctls.LoadClientCredentials(
			tlsConfig.CertFile,
			tlsConfig.KeyFile,
			tlsConfig.CAFile,
			tlsConfig.ServerNameOverride,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
		slog.Info("Using TLS connection")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		slog.Warn("Using insecure connection (TLS disabled)")
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(serverAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial server: %w", err)
	}
	return &Transport{conn: conn}, nil
}

func (t *Transport) Close() error {
	return t.conn.Close()
}

func (t *Transport) Register(ctx context.Context, req *configapi.RegisterRequest) (*configapi.RegisterResponse, error) {
	var resp configapi.RegisterResponse
	if err := t.invoke(ctx, rpc.MethodRegisterClient, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *Transport) Heartbeat(ctx context.Context, req *configapi.HeartbeatRequest) (*configapi.HeartbeatResponse, error) {
	var resp configapi.HeartbeatResponse
	if err := t.invoke(ctx, rpc.MethodHeartbeat, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *Transport) Values(ctx context.Context, req *configapi.ValuesRequest) (*configapi.ValuesResponse, error) {
	var resp configapi.ValuesResponse
	if err := t.invoke(ctx, rpc.MethodGetValues, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InstanceHeartbeat reports a server replica alive, authenticated by the
// admin API key.
func (t *Transport) InstanceHeartbeat(ctx context.Context, apiKey string, req *configapi.InstanceHeartbeatRequest) (*configapi.InstanceHeartbeatResponse, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, rpc.APIKeyMetadata, apiKey)
	var resp configapi.InstanceHeartbeatResponse
	if err := t.invoke(ctx, rpc.MethodApiInstanceHeartbeat, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *Transport) invoke(ctx context.Context, method string, in, out any) error {
	if err := t.conn.Invoke(ctx, rpc.FullMethod(method), in, out); err != nil {
		return fromStatus(method, err)
	}
	return nil
}

// fromStatus maps server answers onto the syncagent error set. Anything that
// is not a definite answer is a transport failure.
func fromStatus(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &syncagent.TransportError{Op: op, Err: err}
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return fmt.Errorf("%s: %w", op, syncagent.ErrAuthentication)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, syncagent.ErrUnknownClient)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w: %s", op, syncagent.ErrInvalidRequest, st.Message())
	}
	return &syncagent.TransportError{Op: op, StatusCode: int(st.Code()), Err: errors.New(st.Message())}
}
