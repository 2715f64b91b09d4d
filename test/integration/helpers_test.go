package integration

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ChuLiYu/beaver-balancer/internal/controller"
	"github.com/ChuLiYu/beaver-balancer/internal/server"
)

// startCoordinator starts a controller and stops it when the test ends
func startCoordinator(t testing.TB, config controller.Config) *controller.Controller {
	t.Helper()

	ctrl, err := controller.NewController(config)
	require.NoError(t, err)
	require.NoError(t, ctrl.Start())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ctrl.Stop(ctx)
	})
	return ctrl
}

// serveInMemory serves ctrl over an in-memory listener and returns a client
// connection to it
func serveInMemory(t testing.TB, ctrl *controller.Controller) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.NewServer(ctrl, nil).Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-served
	})
	return conn
}
