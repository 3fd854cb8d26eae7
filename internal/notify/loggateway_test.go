package notify

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogGateway_ReplaysReceiptForSameKey(t *testing.T) {
	g := NewLogGateway()
	msg := Message{TenantID: uuid.New(), To: "+919000000001", Body: "namaste"}

	first, err := g.Deliver(context.Background(), "task-1", msg)
	require.NoError(t, err)

	again, err := g.Deliver(context.Background(), "task-1", msg)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	other, err := g.Deliver(context.Background(), "task-2", msg)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}
