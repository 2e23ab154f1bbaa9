package injector

import (
	"os"

	"github.com/google/wire"

	"github.com/glasster/glasster/internal/config"
	"github.com/glasster/glasster/internal/core/events/bus"
	"github.com/glasster/glasster/internal/core/observability/log"
	"github.com/glasster/glasster/internal/server"
	"github.com/glasster/glasster/internal/tryon/asset"
)

var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideEventBus,
	ProvideCatalog,
	ProvideServer,
)

func ProvideLogger(cfg config.Config) (log.Log, func(), error) {
	opts, err := cfg.LoggerOptions()
	if err != nil {
		return nil, nil, err
	}
	logger := log.NewWithOptions(opts)
	return logger, func() { _ = logger.Sync() }, nil
}

func ProvideEventBus() bus.EventBus {
	return bus.New()
}

// ProvideCatalog reads the product catalogue. Overlays are decoded later,
// when the server starts.
func ProvideCatalog(cfg config.Config, logger log.Log) (*asset.Catalog, error) {
	return asset.LoadCatalogFile(cfg.Assets.Catalog, logger)
}

func ProvideServer(cfg config.Config, catalog *asset.Catalog, events bus.EventBus, logger log.Log) (*server.Server, func(), error) {
	srv, err := server.NewServer(server.ConfigFrom(cfg), catalog,
		server.WithLogger(logger),
		server.WithEventBus(events),
		server.WithAssets(os.DirFS(cfg.Assets.Root)),
		server.WithStaticDir(cfg.Server.StaticDir))
	if err != nil {
		return nil, nil, err
	}
	return srv, func() { _ = srv.Close() }, nil
}
