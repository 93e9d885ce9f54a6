package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pulsegrid/aggregator/api"
	"github.com/pulsegrid/aggregator/browser"
	"github.com/pulsegrid/aggregator/common"
	"github.com/pulsegrid/aggregator/config"
	ihttp "github.com/pulsegrid/aggregator/http"
	"github.com/pulsegrid/aggregator/publisher"
	"github.com/pulsegrid/aggregator/store"
	"github.com/pulsegrid/aggregator/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the Worker Supervisor and HTTP front door",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("http-port", 0, "HTTP front door listen port")
	viper.BindPFlag("http.port", serveCmd.Flags().Lookup("http-port"))
}

func httpPort(fallback int) int {
	if p := viper.GetInt("http.port"); p != 0 {
		return p
	}
	return fallback
}

// dataStores caches one Store connection per logical data_db index,
// since several analytics commonly share the same one.
type dataStores struct {
	url   string
	cache map[int]store.Store
}

func newDataStores(url string) *dataStores {
	return &dataStores{url: url, cache: make(map[int]store.Store)}
}

func (d *dataStores) get(dataDB int) (store.Store, error) {
	if s, ok := d.cache[dataDB]; ok {
		return s, nil
	}
	c, err := store.New(store.Config{URL: d.url, DB: dataDB})
	if err != nil {
		return nil, fmt.Errorf("open data store db %d: %w", dataDB, err)
	}
	d.cache[dataDB] = c
	return c, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	log := common.ServiceLogger("aggregator", "serve")

	cfg, err := config.NewConfigLoader("AGGREGATOR").LoadAll()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	conf, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer conf.Close()

	dataFor := newDataStores(storeURL())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := supervisor.New(conf, dataFor.get, log.WithField("component", "supervisor"))
	go func() {
		if err := sup.Run(ctx); err != nil {
			logrus.WithError(err).Error("supervisor stopped")
		}
	}()

	b := browser.New(conf, dataFor.get)
	pub := publisher.New(conf)

	serverCfg := ihttp.DefaultServerConfig()
	serverCfg.Port = httpPort(cfg.Server.Port)
	serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	serverCfg.WriteTimeout = cfg.Server.WriteTimeout
	serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	serverCfg.AllowedOrigins = cfg.CORS.AllowedOrigins
	e := ihttp.NewEchoServer(serverCfg)
	api.SetupRoutes(e, &api.Handlers{Browser: b, Publisher: pub})

	go func() {
		log.Infof("http front door listening on port %d", serverCfg.Port)
		if err := ihttp.StartServer(e, serverCfg); err != nil {
			logrus.WithError(err).Error("http server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()
	return ihttp.GracefulShutdown(e, serverCfg.ShutdownTimeout)
}
