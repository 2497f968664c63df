package archive

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-harvester/internal/config"
	"asset-harvester/internal/discovery"
	"asset-harvester/internal/model"
	"asset-harvester/internal/transfer"
)

func TestNewClients_WebOnly(t *testing.T) {
	cfg := testConfig(t)
	c, err := NewClients(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.browser)
	require.Contains(t, c.Deps.Strategies, model.KindWeb)
	web, ok := c.Deps.Strategies[model.KindWeb].(*discovery.RenderedStrategy)
	require.True(t, ok)
	assert.IsType(t, &discovery.StaticFetcher{}, web.Fetcher)

	router, ok := c.Deps.Fetcher.(transfer.Router)
	require.True(t, ok)
	assert.Contains(t, router, model.KindWeb)
	assert.NotContains(t, router, model.KindDrive)
	assert.NotContains(t, router, model.KindS3)

	drive, ok := c.Deps.Strategies[model.KindDrive].(*discovery.CloudStrategy)
	require.True(t, ok)
	assert.Nil(t, drive.Lister)
}

func TestNewClients_BrowserStartsLazily(t *testing.T) {
	cfg := testConfig(t)
	cfg.Renderer = config.RendererBrowser
	c, err := NewClients(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	require.NotNil(t, c.browser)
	assert.Nil(t, c.browser.b)
	require.NoError(t, c.Close())

	_, err = c.browser.Fetch(context.Background(), testSeed)
	require.ErrorIs(t, err, model.ErrDiscovery)
}
