package global

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"PBoard/global/config"
	mid "PBoard/middleware"
	"PBoard/module/board/api"
	"PBoard/module/board/events"
	"PBoard/module/board/store"
	"PBoard/service/broadcast"
	"PBoard/service/ingress"
	"PBoard/service/storage"
	redisx "PBoard/service/storage/redis"
	"PBoard/tools/ids"
	"PBoard/tools/safe"
	tokens "PBoard/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type source interface {
	Start(ctx context.Context, h ingress.Handler) error
	Close() error
}

// App owns every long-lived component of one board node.
type App struct {
	Config   *config.AppConfig
	Log      *zap.Logger
	Store    *store.SQLStore
	Presence *storage.PresenceStore // nil unless presence is enabled
	Hub      *broadcast.Hub
	Events   *events.Adapter
	Engine   *gin.Engine

	sources []source
	relay   *ingress.Relayer
	closers []func() error
	server  *http.Server
}

// Origin names this node in relayed envelopes.
func Origin(cfg *config.AppConfig) string {
	return "node-" + strconv.FormatInt(cfg.Server.NodeID, 10)
}

func TokenOptions(cfg *config.AppConfig) tokens.Options {
	return tokens.Options{
		Secret: []byte(cfg.Auth.JWTSecret),
		Alg:    cfg.Auth.JWTAlg,
		TTL:    cfg.Auth.TokenTTL,
	}
}

// Build opens the store and external clients and wires the HTTP engine.
// Nothing is served until Run.
func Build(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*App, error) {
	ids.SetNodeID(cfg.Server.NodeID)

	a := &App{Config: cfg, Log: log}

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.Store = st

	var tracker broadcast.PresenceTracker
	if cfg.Presence.Enabled {
		rdb, err := redisx.NewClient(ctx, redisx.Config{
			Addr:     cfg.Presence.Addr,
			Password: cfg.Presence.Password,
			DB:       cfg.Presence.DB,
			PoolSize: cfg.Presence.PoolSize,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Presence = storage.NewPresenceStore(rdb, storage.PresenceConfig{
			NodeID: Origin(cfg),
			TTL:    cfg.Presence.TTL,
		})
		tracker = a.Presence
	}

	tok := TokenOptions(cfg)
	b := cfg.Broadcast
	a.Hub = broadcast.NewHub(tokens.NewVerifier(tok), st, broadcast.Options{
		Conn: broadcast.ManagerConf{
			SendQueueSize:  b.SendQueueSize,
			WriteWait:      b.WriteWait,
			PongWait:       b.PongWait,
			MaxMessageSize: b.MaxMessageSize,
		},
		AuthorizeTimeout: b.AuthorizeTimeout,
		Presence:         tracker,
		PresenceRefresh:  cfg.Presence.TTL / 2,
		Log:              log.Named("broadcast"),
	})
	a.Events = events.NewAdapter(a.Hub, a.Hub, log.Named("events"))

	if err := a.buildIngress(); err != nil {
		a.Close()
		return nil, err
	}
	if a.relay != nil {
		a.Events = a.Events.WithRelay(a.relay)
	}

	var presence api.PresenceReader = a.Hub
	if a.Presence != nil {
		presence = a.Presence
	}

	gin.SetMode(cfg.Server.GinMode)
	r := gin.New()
	mid.Manager().Clear()
	mid.Manager().Add(mid.CORS(b.AllowedOrigins))
	r.Use(mid.Recovery(log), mid.AccessLog(log.Named("http")), mid.Manager().Use())

	ws := broadcast.NewWSServer(a.Hub, b.AllowedOrigins, log.Named("ws"))
	r.GET("/ws", ws.HandleWS)
	api.New(api.Deps{
		Store:    st,
		Events:   a.Events,
		Presence: presence,
		Tokens:   tok,
		Log:      log.Named("api"),
	}).Register(r)
	a.Engine = r
	return a, nil
}

// buildIngress connects the configured buses. A bus with relay on also
// receives this node's own mutations.
func (a *App) buildIngress() error {
	in := a.Config.Ingress
	var sinks []ingress.Sink

	if in.Nats.Enabled {
		src, err := ingress.NewNatsSource(ingress.NatsConfig{
			Servers: in.Nats.Servers,
			Name:    in.Nats.Name,
			Subject: in.Nats.Subject,
			Queue:   in.Nats.Queue,
		}, a.Log.Named("nats"))
		if err != nil {
			return err
		}
		a.sources = append(a.sources, src)
		if in.Nats.Relay {
			sinks = append(sinks, src)
		}
	}
	if in.Kafka.Enabled {
		src, err := ingress.NewKafkaSource(ingress.KafkaConfig{
			Brokers: in.Kafka.Brokers,
			GroupID: in.Kafka.GroupID,
			Topics:  in.Kafka.Topics,
		}, a.Log.Named("kafka"))
		if err != nil {
			return err
		}
		a.sources = append(a.sources, src)
		if in.Kafka.Relay {
			sink, err := ingress.NewKafkaSink(in.Kafka.Brokers, in.Kafka.Topics[0])
			if err != nil {
				return err
			}
			a.closers = append(a.closers, sink.Close)
			sinks = append(sinks, sink)
		}
	}

	if len(sinks) > 0 {
		a.relay = ingress.NewRelayer(Origin(a.Config), 0, a.Log.Named("relay"), sinks...)
	}
	return nil
}

func (a *App) ingressHandler() ingress.Handler {
	var idem ingress.IdemStore = ingress.NewMemIdem()
	if a.Presence != nil {
		idem = ingress.NewRedisIdem(a.Presence.Client(), "")
	}
	return ingress.NodeHandler(a.Events, Origin(a.Config), idem, 10*time.Minute, a.Log.Named("ingress"))
}

// Run serves until ctx is done, then shuts the HTTP server down.
func (a *App) Run(ctx context.Context) error {
	safe.Go("hub", func() { a.Hub.Run(ctx) })
	if a.relay != nil {
		safe.Go("relay", func() { a.relay.Run(ctx) })
	}

	h := a.ingressHandler()
	for _, src := range a.sources {
		if err := src.Start(ctx, h); err != nil {
			return err
		}
	}

	addr := net.JoinHostPort(a.Config.Server.Host, strconv.Itoa(a.Config.Server.Port))
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("listening", zap.String("addr", addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Hub.Close()
	return a.server.Shutdown(shutdownCtx)
}

// Close releases every client Build opened. It is safe on a partial App.
func (a *App) Close() {
	for _, src := range a.sources {
		if err := src.Close(); err != nil {
			a.Log.Warn("closing ingress", zap.Error(err))
		}
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.Log.Warn("closing relay", zap.Error(err))
		}
	}
	if a.Presence != nil {
		_ = a.Presence.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
