package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInit_EmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "pledgewatch", Config{Environment: "test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	require.NotNil(t, Tracer("poller"))
}
