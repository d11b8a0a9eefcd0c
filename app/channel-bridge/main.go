package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relaynet/channel-bridge/api"
	"github.com/relaynet/channel-bridge/domain/account"
	"github.com/relaynet/channel-bridge/domain/channel"
	"github.com/relaynet/channel-bridge/domain/connector"
	"github.com/relaynet/channel-bridge/domain/indexer"
	"github.com/relaynet/channel-bridge/domain/path"
	"github.com/relaynet/channel-bridge/domain/ticket"
	"github.com/relaynet/channel-bridge/external/chain"
	"github.com/relaynet/channel-bridge/external/elastic"
	"github.com/relaynet/channel-bridge/external/kafka"
	"github.com/relaynet/channel-bridge/infrastructure/keys"
	"github.com/relaynet/channel-bridge/infrastructure/store/pebbledb"
	"github.com/relaynet/channel-bridge/metrics"
	"github.com/relaynet/channel-bridge/rpc"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const prefix = "CHANNEL_BRIDGE"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)

	logger, err := config.Build()
	if err != nil {
		return fmt.Errorf("creating logger: %v", err)
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	var cfg struct {
		InternalStoreFolder   string        `conf:"default:store"`
		ServerListenAddr      string        `conf:"default:0.0.0.0:8000"`
		GrpcListenAddr        string        `conf:"default:0.0.0.0:8001"`
		MetricsNamespace      string        `conf:"default:channel_bridge"`
		HealthRefreshInterval time.Duration `conf:"default:5s"`
		PrivateKey            string        `conf:"mask"`
		PrivateKeyFile        string
		Chain                 struct {
			RpcUrl          string        `conf:"default:ws://127.0.0.1:8546"`
			ContractAddress string        `conf:"required"`
			Confirmations   uint64        `conf:"default:8"`
			RestartDelay    time.Duration `conf:"default:5s"`
			TicketEpochTTL  time.Duration `conf:"default:1m"`
			ClosureDelay    time.Duration `conf:"default:72h"`
		}
		Tickets struct {
			CheckSolvency bool `conf:"default:true"`
		}
		Kafka struct {
			Enabled          bool     `conf:"default:false"`
			BootstrapServers []string `conf:"default:localhost:9092"`
			Topic            string   `conf:"default:channel-bridge-changes"`
		}
		Elastic struct {
			Enabled bool          `conf:"default:false"`
			Address string        `conf:"default:http://localhost:9200"`
			Index   string        `conf:"default:channels"`
			Timeout time.Duration `conf:"default:10s"`
		}
	}

	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %v", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %v", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %v", err)
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %v", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	if !common.IsHexAddress(cfg.Chain.ContractAddress) {
		return fmt.Errorf("invalid contract address [%s]", cfg.Chain.ContractAddress)
	}

	var signer *keys.PrivateKeySigner
	switch {
	case cfg.PrivateKey != "":
		signer, err = keys.FromHex(cfg.PrivateKey)
	case cfg.PrivateKeyFile != "":
		signer, err = keys.FromFile(cfg.PrivateKeyFile)
	default:
		err = errors.New("one of private key or private key file is required")
	}
	if err != nil {
		return errors.Wrap(err, "loading node key")
	}
	self := signer.AccountId()
	sLogger.Infow("Loaded node key", "account", self.Hex())

	store, err := pebbledb.NewStore(cfg.InternalStoreFolder)
	if err != nil {
		return fmt.Errorf("creating store: %v", err)
	}
	defer store.Close()

	m := metrics.NewMetrics(cfg.MetricsNamespace, prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chainClient, err := chain.Dial(ctx, cfg.Chain.RpcUrl, common.HexToAddress(cfg.Chain.ContractAddress), signer.PrivateKey(), sLogger)
	if err != nil {
		return errors.Wrap(err, "connecting to chain")
	}
	defer chainClient.Close()

	accounts := account.NewAccount(chainClient, cfg.Chain.TicketEpochTTL, sLogger)
	defer accounts.Close()
	secret := account.NewHashedSecret(self, store, accounts, chainClient, sLogger)

	ix := indexer.NewIndexer(chainClient, store, indexer.Config{Confirmations: cfg.Chain.Confirmations}, m, sLogger)
	channels := channel.NewManager(self, chainClient, store, ix, channel.Config{ClosureDelay: cfg.Chain.ClosureDelay}, sLogger)
	ix.AddSink(channels)

	if cfg.Kafka.Enabled {
		km := kprom.NewMetrics(cfg.MetricsNamespace,
			kprom.Registerer(prometheus.DefaultRegisterer),
			kprom.Gatherer(prometheus.DefaultGatherer))
		kcl, err := kgo.NewClient(
			kgo.DefaultProduceTopic(cfg.Kafka.Topic),
			kgo.SeedBrokers(cfg.Kafka.BootstrapServers...),
			kgo.ProducerBatchCompression(kgo.ZstdCompression()),
			kgo.WithHooks(km),
		)
		if err != nil {
			return errors.Wrap(err, "creating kafka client")
		}
		defer kcl.Close()
		ix.AddSink(kafka.NewClient(kcl, m))
	}

	if cfg.Elastic.Enabled {
		esClient, err := elastic.NewElasticClient(cfg.Elastic.Address, cfg.Elastic.Timeout)
		if err != nil {
			return errors.Wrap(err, "creating elastic client")
		}
		ix.AddSink(elastic.NewClient(esClient, cfg.Elastic.Index, m, sLogger))
	}

	tickets := ticket.NewProtocol(signer, accounts, secret, chainClient, store, ticket.Config{CheckSolvency: cfg.Tickets.CheckSolvency}, m, sLogger)
	finder := path.NewFinder(ix, m, sLogger)
	conn := connector.NewConnector(self, chainClient, ix, secret, connector.Config{RestartDelay: cfg.Chain.RestartDelay}, m, sLogger)
	defer conn.Close()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	connErrors := make(chan error, 1)
	go func() {
		if err := conn.Start(ctx); err != nil {
			connErrors <- err
		}
	}()

	mux := http.NewServeMux()
	api.NewHandler(conn, ix, finder, tickets, sLogger).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- http.ListenAndServe(cfg.ServerListenAddr, mux)
	}()

	grpcServer := rpc.NewServer(cfg.GrpcListenAddr, conn, sLogger)
	if err := grpcServer.Start(serverErr); err != nil {
		return errors.Wrap(err, "starting grpc server")
	}
	defer grpcServer.Stop()
	go grpcServer.Watch(ctx, cfg.HealthRefreshInterval)

	for {
		select {
		case <-shutdown:
			return errors.New("shutting down")
		case err := <-connErrors:
			return fmt.Errorf("connector error: %v", err)
		case err := <-serverErr:
			return fmt.Errorf("server error: %v", err)
		}
	}
}
