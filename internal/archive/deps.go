package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"asset-harvester/internal/config"
	"asset-harvester/internal/discovery"
	"asset-harvester/internal/model"
	"asset-harvester/internal/observability"
	"asset-harvester/internal/transfer"
)

// Clients holds the live connections built from a configuration.
type Clients struct {
	Deps Deps

	browser *lazyBrowser
}

func (c *Clients) Close() error {
	if c.browser == nil {
		return nil
	}
	return c.browser.Close()
}

// lazyBrowser starts the headless browser on the first page fetch, so runs
// without web seeds never launch it. A launch failure fails each web seed.
type lazyBrowser struct {
	opts discovery.BrowserOptions

	mu     sync.Mutex
	b      *discovery.BrowserFetcher
	err    error
	closed bool
}

func (l *lazyBrowser) Fetch(ctx context.Context, pageURL string) (discovery.Page, error) {
	l.mu.Lock()
	if l.b == nil && l.err == nil && !l.closed {
		l.b, l.err = discovery.NewBrowserFetcher(l.opts)
		if l.err != nil {
			l.err = model.Wrap(model.ErrDiscovery, "renderer", fmt.Errorf("%w (set renderer=static to crawl without a browser)", l.err))
		}
	}
	b, err := l.b, l.err
	l.mu.Unlock()
	if err != nil {
		return discovery.Page{}, err
	}
	if b == nil {
		return discovery.Page{}, model.Wrap(model.ErrDiscovery, pageURL, errors.New("browser closed"))
	}
	return b.Fetch(ctx, pageURL)
}

func (l *lazyBrowser) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.b == nil {
		return nil
	}
	err := l.b.Close()
	l.b = nil
	return err
}

// NewClients wires discovery strategies and fetchers for cfg. Missing cloud
// credentials are not an error here: seeds and items of that kind fail with a
// credential error instead, leaving other seeds unaffected.
func NewClients(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Clients, error) {
	kinds := seedKinds(cfg.Seeds)
	c := &Clients{}

	var pages discovery.PageFetcher
	if cfg.Renderer == config.RendererStatic {
		pages = discovery.NewStaticFetcher(cfg.PageTimeout, cfg.UserAgent)
	} else {
		c.browser = &lazyBrowser{opts: discovery.BrowserOptions{
			Headless:    cfg.Headless,
			SkipInstall: cfg.SkipInstall,
			Timeout:     cfg.PageTimeout,
			SettleDelay: cfg.SettleDelay,
		}}
		pages = c.browser
	}
	strategies := map[model.Kind]discovery.Strategy{
		model.KindWeb: &discovery.RenderedStrategy{
			Fetcher:         pages,
			Policy:          cfg.AssetPolicy(),
			MaxDepth:        cfg.MaxDepth,
			AllowedPrefixes: cfg.AllowedPrefixes,
			Logger:          observability.Component(log, "discovery"),
		},
	}

	web, err := transfer.NewHTTPFetcher(transfer.HTTPOptions{
		Workers:   cfg.Workers,
		ProxyMode: cfg.ProxyMode,
		Proxies:   cfg.Proxies,
		UserAgent: cfg.UserAgent,
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	router := transfer.Router{model.KindWeb: web}

	driveStrategy := &discovery.CloudStrategy{Kind: model.KindDrive, Prefix: discovery.DriveDestPrefix}
	if kinds[model.KindDrive] || cfg.DriveCredentials != "" {
		if srv, err := discovery.NewDriveService(ctx, cfg.DriveCredentials); err != nil {
			log.Warn().Err(err).Msg("google drive unavailable")
		} else {
			driveStrategy.Lister = &discovery.DriveLister{Service: srv, Logger: observability.Component(log, "discovery")}
			router[model.KindDrive] = &transfer.DriveFetcher{Service: srv}
		}
	}
	strategies[model.KindDrive] = driveStrategy

	s3Strategy := &discovery.CloudStrategy{Kind: model.KindS3, Prefix: discovery.S3DestPrefix}
	if kinds[model.KindS3] || cfg.S3Region != "" || cfg.S3Endpoint != "" {
		if client, err := newS3(ctx, cfg); err != nil {
			log.Warn().Err(err).Msg("s3 unavailable")
		} else {
			s3Strategy.Lister = &discovery.S3Lister{Client: client}
			router[model.KindS3] = &transfer.S3Fetcher{Client: client}
		}
	}
	strategies[model.KindS3] = s3Strategy

	c.Deps = Deps{
		Strategies: strategies,
		Fetcher:    router,
		Logger:     log,
	}
	return c, nil
}

func newS3(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	return discovery.NewS3Client(ctx, discovery.S3Options{
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
}

func seedKinds(seeds []string) map[model.Kind]bool {
	kinds := make(map[model.Kind]bool)
	for _, raw := range seeds {
		if seed, err := discovery.ParseSeed(raw); err == nil {
			kinds[seed.Kind] = true
		}
	}
	return kinds
}
