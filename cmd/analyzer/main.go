// Package main: analyzer service.
//
// The service streams wallet security analyses to the SentrySol dashboard and chat clients. In mock mode no upstream
// service is called; in live mode a Helius key is required and BlockSec and Mistral are used when their keys are set.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/twputra/sentrysol-beta-v2/analyzer"
	"github.com/twputra/sentrysol-beta-v2/lib/analysis"
	"github.com/twputra/sentrysol-beta-v2/lib/cache"
	"github.com/twputra/sentrysol-beta-v2/lib/chain/helius"
	"github.com/twputra/sentrysol-beta-v2/lib/config"
	"github.com/twputra/sentrysol-beta-v2/lib/llm"
	"github.com/twputra/sentrysol-beta-v2/lib/logging"
	"github.com/twputra/sentrysol-beta-v2/lib/metrics"
	"github.com/twputra/sentrysol-beta-v2/lib/msg"
	"github.com/twputra/sentrysol-beta-v2/lib/msg/amqp"
	"github.com/twputra/sentrysol-beta-v2/lib/risk"
	"github.com/twputra/sentrysol-beta-v2/lib/store/db"
)

// stopTimeout bounds the graceful shutdown of open requests.
const stopTimeout = 30 * time.Second

func main() {
	// get command line flags
	confPath := pflag.StringP("config", "c", "", "get configuration from json file")
	monitor := pflag.BoolP("monitor", "m", false, "serve Prometheus metrics at http://localhost:9100/metrics")
	pflag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(conf.LogLevel)
	if err = conf.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	log.Infof("Configuration:%s", conf)

	ctx := context.Background()

	// connect to database
	dbConn, err := db.New(conf.DBType, conf.DBConn, conf.DBKey)
	if err != nil {
		log.WithError(err).WithField("db", conf.DBType).Fatal("cannot connect to database")
	}
	if dbConn != nil {
		log.WithField("db", conf.DBType).Info("connected to database")
	}

	// load message broker
	var mb msg.MsgBroker = msg.Nop{}
	switch conf.MbType {
	case "amqp":
		var a *amqp.Amqp
		if a, err = amqp.New(conf.MbConn, log); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if a, err = amqp.New(conf.MbConn, log); err != nil {
				log.WithError(err).Fatal("cannot connect to message broker")
			}
		}
		if err = a.Setup(); err != nil {
			log.WithError(err).Fatal("cannot set up message broker")
		}
		mb = a
	case "":
		log.Info("no message broker configured, reports are not published")
	default:
		log.Warnf("Unknown message broker type: %s", conf.MbType)
	}

	// load cache, in memory unless a redis url is set
	c, err := cache.New(ctx, conf.CacheURL)
	if err != nil {
		log.WithError(err).Fatal("cannot connect to cache")
	}

	// upstream clients
	deps := analyzer.Deps{DB: dbConn, Broker: mb, Cache: c, Log: log}
	mock := analysis.NewMock(time.Duration(conf.StepDelay)*time.Millisecond, nil)
	var mistral *llm.Mistral
	if conf.MistralKey != "" {
		mistral = llm.New(conf.MistralURL, conf.MistralKey, conf.LLMModel)
		deps.LLM = mistral
	}

	deps.Analyzer, deps.Txs = mock, mock
	if conf.HeliusKey != "" {
		h, err := helius.New(conf.HeliusRPC, conf.HeliusAPI, conf.HeliusKey)
		if err != nil {
			log.WithError(err).Fatal("cannot set up Helius client")
		}
		deps.Txs = analyzer.FromChain(h)

		if conf.Mode == config.ModeLive {
			scorer := risk.NewCached(risk.New(conf.BlockSecURL, conf.BlockSecKey), c,
				time.Duration(conf.CacheTTL)*time.Second, log)
			live := analysis.NewLive(h, scorer, nil, log)
			if mistral != nil {
				live.LLM = mistral
			}
			deps.Analyzer = live
		}
	}
	log.WithField("mode", conf.Mode).Info("analyzer ready")

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Info("Serving metrics API")

			h := http.NewServeMux()
			h.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(":9100", h); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	// create analyzer service
	a := analyzer.New(conf, deps)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	killed, finish := make(chan struct{}), make(chan struct{})
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Info("Program killed !")
		close(killed)

		// wait for open requests and close connections
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		a.Stop(ctx)
		close(finish)
	}()

	// init RESTful API, wait for its return and log response
	log.Infof("Analyzer: %s", a.Init(conf.Endpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	// the servers may have failed on their own
	select {
	case <-killed:
		<-finish
	default:
		a.Stop(context.Background())
		os.Exit(1)
	}
}
