package invalidation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

type recordingInvalidator struct {
	mu      sync.Mutex
	tenants []string
}

func (r *recordingInvalidator) Invalidate(tenantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants = append(r.tenants, tenantID)
	return true
}

func (r *recordingInvalidator) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tenants...)
}

func TestRedisBroadcaster_HandleIgnoresOwnAndMalformed(t *testing.T) {
	b := NewRedisBroadcaster(nil, "", zap.NewNop())
	assert.Equal(t, DefaultChannel, b.channel)
	target := &recordingInvalidator{}

	own, _ := json.Marshal(Message{TenantID: "acme", Origin: b.origin})
	remote, _ := json.Marshal(Message{TenantID: "beta", Origin: "other-replica"})

	b.handle(string(own), target)
	b.handle("not json", target)
	b.handle(string(remote), target)

	assert.Equal(t, []string{"beta"}, target.Tenants())
}

func TestRedisBroadcaster_PropagatesBetweenReplicas(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	clientA, err := Connect(ctx, addr, "", 0)
	require.NoError(t, err)
	defer clientA.Close()
	clientB, err := Connect(ctx, addr, "", 0)
	require.NoError(t, err)
	defer clientB.Close()

	replicaA := NewRedisBroadcaster(clientA, "test-invalidations", zap.NewNop())
	replicaB := NewRedisBroadcaster(clientB, "test-invalidations", zap.NewNop())

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	targetB := &recordingInvalidator{}
	go replicaB.Subscribe(subCtx, targetB)

	// Keep publishing until the subscriber is attached and has seen one.
	require.Eventually(t, func() bool {
		assert.NoError(t, replicaA.Publish(ctx, "acme"))
		return len(targetB.Tenants()) > 0
	}, 10*time.Second, 100*time.Millisecond)

	assert.Equal(t, "acme", targetB.Tenants()[0])
}
