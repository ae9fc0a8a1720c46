package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func dialFulfillment(t *testing.T, env *testEnv) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	h := NewGRPCHandler(env.service, zaptest.NewLogger(t))
	srv := grpc.NewServer(grpc.UnaryInterceptor(h.UnaryLogger))
	h.Register(srv)
	hs := health.NewServer()
	hs.SetServingStatus(FulfillmentServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go srv.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(JSONCodecName)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
	})
	return conn
}

func TestGRPC_FreeDownload(t *testing.T) {
	env := setupTestEnv(t)
	conn := dialFulfillment(t, env)

	var reply FreeDownloadReply
	err := conn.Invoke(context.Background(), freeDownloadMethod, &FulfillmentRPCRequest{Email: "a@b.com", ItemID: "free-1"}, &reply)
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.Equal(t, 1, env.mail.count())
}

func TestGRPC_StatusCodes(t *testing.T) {
	env := setupTestEnv(t)
	conn := dialFulfillment(t, env)

	tests := []struct {
		name   string
		method string
		req    *FulfillmentRPCRequest
		code   codes.Code
	}{
		{"bad email", freeDownloadMethod, &FulfillmentRPCRequest{Email: "nope", ItemID: "free-1"}, codes.InvalidArgument},
		{"paid item", freeDownloadMethod, &FulfillmentRPCRequest{Email: "a@b.com", ItemID: "paid-1"}, codes.PermissionDenied},
		{"unknown item", initiatePaymentMethod, &FulfillmentRPCRequest{Email: "a@b.com", ItemID: "missing"}, codes.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reply FreeDownloadReply
			err := conn.Invoke(context.Background(), tt.method, tt.req, &reply)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestGRPC_InitiatePayment(t *testing.T) {
	env := setupTestEnv(t)
	conn := dialFulfillment(t, env)

	var reply InitiatePaymentReply
	err := conn.Invoke(context.Background(), initiatePaymentMethod, &FulfillmentRPCRequest{Email: "a@b.com", ItemID: "paid-1"}, &reply)
	require.NoError(t, err)
	require.NotEmpty(t, reply.Reference)
	assert.Equal(t, "https://pay.example/"+reply.Reference, reply.PaymentURL)
}

func TestGRPC_Health(t *testing.T) {
	env := setupTestEnv(t)
	conn := dialFulfillment(t, env)

	// Health uses the default proto codec, so override the json subtype.
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: FulfillmentServiceName},
		grpc.CallContentSubtype("proto"),
	)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
