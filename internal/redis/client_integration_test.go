package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientPing(t *testing.T) {
	client := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("not-a-redis-url")
	assert.Error(t, err)
}
