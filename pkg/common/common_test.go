package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithScissorsCatchesPanic(t *testing.T) {
	errC := make(chan error, 1)
	RunWithScissors(context.Background(), errC, "boomer", func(ctx context.Context) error {
		panic("boom")
	})

	select {
	case err := <-errC:
		assert.Contains(t, err.Error(), "boom")
	case <-time.After(5 * time.Second):
		t.Fatal("panic was not converted to an error")
	}
}

func TestRunWithScissorsForwardsError(t *testing.T) {
	errC := make(chan error, 1)
	sentinel := errors.New("watcher died")
	RunWithScissors(context.Background(), errC, "failer", func(ctx context.Context) error {
		return sentinel
	})

	select {
	case err := <-errC:
		assert.ErrorIs(t, err, sentinel)
	case <-time.After(5 * time.Second):
		t.Fatal("error was not forwarded")
	}
}

func TestWrapWithScissors(t *testing.T) {
	wrapped := WrapWithScissors(func(ctx context.Context) error {
		panic(errors.New("typed panic"))
	})
	err := wrapped(context.Background())
	require.Error(t, err)
	assert.Equal(t, "typed panic", err.Error())
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		schemes []string
		valid   bool
	}{
		{"http://localhost:8545", []string{"http", "https"}, true},
		{"https://rpc.example.com", []string{"http", "https"}, true},
		{"ws://localhost:8546", []string{"http", "https"}, false},
		{"ws://localhost:8546", []string{"ws", "wss"}, true},
		{"localhost:9090", []string{""}, true},
		{"localhost", []string{""}, false},
		{"http://localhost:9090", []string{""}, false},
		{"", []string{"http"}, false},
		// A scheme without a host is not an endpoint.
		{"https://", []string{"http", "https"}, false},
		{"ws://", []string{"ws", "wss"}, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.valid, ValidateURL(tc.url, tc.schemes), tc.url)
	}
}
