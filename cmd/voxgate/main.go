// Voxgate emulates the Twilio voice REST API on top of an asynchronous
// message transport: calls placed over HTTP become transport messages, and
// transport events drive the calls through their markup.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/voxgate/voxgate/bus"
	"github.com/voxgate/voxgate/config"
	"github.com/voxgate/voxgate/console"
	"github.com/voxgate/voxgate/model"
	"github.com/voxgate/voxgate/restapi"
	"github.com/voxgate/voxgate/session"
	"github.com/voxgate/voxgate/storage"
	"github.com/voxgate/voxgate/twiml"
	"github.com/voxgate/voxgate/webhook"
	"github.com/voxgate/voxgate/worker"
)

func main() {
	conf, err := config.Load()
	if err != nil {
		panic(err)
	}

	level, err := zerolog.ParseLevel(conf.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)

	if err := run(conf, log); err != nil {
		log.Fatal().Err(err).Msg("voxgate exited")
	}
}

func run(conf config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := model.NewAutoClock()
	store, err := storage.Open(filepath.Join(conf.Dir, "voxgate.sqlite3"), conf.SessionExpiry, clock)
	if err != nil {
		return err
	}
	defer store.Close()

	var opts []webhook.Option
	if conf.WebhookRate > 0 {
		opts = append(opts, webhook.WithRateLimit(rate.Limit(conf.WebhookRate), conf.WebhookBurst))
	}
	client := webhook.NewHTTPClient(conf.WebhookTimeout, opts...)

	inbound := session.InboundConfig{
		URL:                  conf.ClientUrl,
		Method:               conf.ClientMethod,
		StatusCallback:       conf.StatusCallbackUrl,
		StatusCallbackMethod: conf.StatusCallbackMethod,
	}
	sessions := session.NewManager(store, client, inbound, conf.ApiVersion, log)
	fetcher := webhook.NewFetcher(client, twiml.NewParser(), conf.ApiVersion)

	transport := bus.NewMemoryBus()
	interp := worker.NewInterpreter(transport, sessions, log)
	transport.Attach(worker.New(sessions, fetcher, interp, log))

	server := restapi.NewServer(conf.ApiVersion, sessions, transport, clock, log)
	httpServer := &http.Server{Addr: conf.HttpAddr, Handler: server.Handler()}

	if conf.ConsoleAddr != "" {
		ui, err := console.NewServer(store, conf.ConsoleAddr, log)
		if err != nil {
			return err
		}
		go func() {
			if err := ui.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("console failed")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ui.Stop(shutdownCtx)
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()

	log.Info().Str("addr", conf.HttpAddr).Str("api_version", conf.ApiVersion).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
