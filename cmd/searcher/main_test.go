package main

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/mev-searcher/internal/config"
)

type fakeHeads struct {
	subErr error
	feed   event.Feed
}

func (f *fakeHeads) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1)}, nil
}

func (f *fakeHeads) SubscribeNewHead(_ context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	return f.feed.Subscribe(ch), nil
}

func (f *fakeHeads) Close() {}

func TestSubscribe(t *testing.T) {
	t.Run("polls without websocket", func(t *testing.T) {
		app := &App{client: &fakeHeads{}, cfg: &config.Config{}}
		heads, errs := app.subscribe(context.Background())
		assert.Nil(t, heads)
		assert.Nil(t, errs)
	})

	t.Run("falls back when subscribing fails", func(t *testing.T) {
		app := &App{
			client: &fakeHeads{subErr: errors.New("notifications not supported")},
			cfg:    &config.Config{RPC: config.RPCConfig{WSUrl: "ws://node"}},
		}
		heads, errs := app.subscribe(context.Background())
		assert.Nil(t, heads)
		assert.Nil(t, errs)
	})

	t.Run("delivers heads", func(t *testing.T) {
		src := &fakeHeads{}
		app := &App{client: src, cfg: &config.Config{RPC: config.RPCConfig{WSUrl: "ws://node"}}}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		heads, errs := app.subscribe(ctx)
		require.NotNil(t, heads)
		require.NotNil(t, errs)

		src.feed.Send(&types.Header{Number: big.NewInt(7)})
		assert.Equal(t, uint64(7), (<-heads).Number.Uint64())
	})
}
