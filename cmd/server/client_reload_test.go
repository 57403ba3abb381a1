package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/embedcache"
	"github.com/blueberrycongee/embedcache/internal/config"
	"github.com/blueberrycongee/embedcache/pkg/cache"
	"github.com/blueberrycongee/embedcache/tests/testutil"
)

type recordingSwapper struct {
	clients []*embedcache.Client
}

func (r *recordingSwapper) SwapClient(c *embedcache.Client) {
	r.clients = append(r.clients, c)
}

type countingRefresher struct{ n int }

func (c *countingRefresher) Refresh() { c.n++ }

func TestConfigApplier_SwapsClientAndTTLs(t *testing.T) {
	store, _ := testutil.NewTieredStore(t)
	swapper := &recordingSwapper{}
	refresher := &countingRefresher{}

	var builtWith *config.Config
	applier := &configApplier{
		logger:  quietLogger(),
		store:   store,
		secrets: refresher,
		swapper: swapper,
		build: func(_ context.Context, cfg *config.Config) (*embedcache.Client, error) {
			builtWith = cfg
			return embedcache.New(testutil.NewMockEmbedder(4), embedcache.WithLogger(quietLogger()))
		},
	}

	cfg := config.DefaultConfig()
	cfg.Cache.TTL.Embeddings = 3 * time.Hour
	applier.Apply(cfg)

	require.Len(t, swapper.clients, 1)
	assert.Same(t, cfg, builtWith)
	assert.Equal(t, 1, refresher.n)
	assert.Equal(t, 3*time.Hour, store.TTLPolicy().For(cache.NamespaceEmbeddings))
}

func TestConfigApplier_BuildFailureKeepsClient(t *testing.T) {
	swapper := &recordingSwapper{}
	applier := &configApplier{
		logger:  quietLogger(),
		swapper: swapper,
		build: func(context.Context, *config.Config) (*embedcache.Client, error) {
			return nil, errors.New("bad key")
		},
	}

	applier.Apply(config.DefaultConfig())
	assert.Empty(t, swapper.clients)
}

func TestConfigApplier_SkipsConcurrentApply(t *testing.T) {
	swapper := &recordingSwapper{}
	applier := &configApplier{
		logger:  quietLogger(),
		swapper: swapper,
		build: func(context.Context, *config.Config) (*embedcache.Client, error) {
			t.Fatal("build should not run while another apply is in progress")
			return nil, nil
		},
	}

	applier.inProgress.Store(true)
	applier.Apply(config.DefaultConfig())
	assert.Empty(t, swapper.clients)
}
