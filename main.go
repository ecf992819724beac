package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gig-messenger/config"
	"gig-messenger/controller"
	"gig-messenger/database"
	"gig-messenger/entity"
	"gig-messenger/event"
	"gig-messenger/event/listener"
	"gig-messenger/logger"
	"gig-messenger/messenger"
	"gig-messenger/notification"
	"gig-messenger/router"
	"gig-messenger/socketio"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRateWindow = time.Minute
	defaultRBACModel  = "config/restful_rbac_model.conf"
)

func main() {
	env := config.Config("APP_ENV")
	logger.Init(env)

	rest := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		AppName:               "gig-messenger",
	})

	rest.Use(cors.New())

	redisClients, err := database.RedisConnect()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure redis")
	}
	logger.Info().Int("clients", len(redisClients)).Msg("connections opened to Redis")

	db, err := database.PostgresConnect()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open postgres")
	}
	logger.Info().Msg("postgres database migrated")

	rbacModel := config.Config("CASBIN_MODEL")
	if rbacModel == "" {
		rbacModel = defaultRBACModel
	}
	enforcer, err := database.Casbin(db, rbacModel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load rbac policy")
	}
	if err := database.GrantAdmins(enforcer, strings.Split(config.Config("CASBIN_ADMINS"), ",")); err != nil {
		logger.Fatal().Err(err).Msg("failed to grant admins")
	}

	mode := config.Config("EVENT_MODE")
	broker, err := event.RabbitMQConnect(
		event.RabbitMQURL(),
		[]string{listener.ApiQueue, notification.PushQueue},
		mode,
		logger.Component("rabbitmq"),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect broker")
	}

	var adapterRedis, limiterRedis *redis.Client
	if len(redisClients) > 0 {
		adapterRedis = redisClients[0]
	}
	if len(redisClients) > 1 {
		limiterRedis = redisClients[1]
	}

	socket := socketio.Init(rest, socketio.Options{
		Redis: adapterRedis,
		Debug: env == "development",
		Log:   logger.Component("socket"),
	})

	opts := messenger.Options{
		StoreTimeout:   config.Duration("STORE_TIMEOUT", 0),
		PublishTimeout: config.Duration("PUBLISH_TIMEOUT", 0),
		NotifyTimeout:  config.Duration("NOTIFY_TIMEOUT", 0),
		Logger:         logger.Component("messenger"),
	}
	if limit := config.Int("SEND_RATE_LIMIT", 30); limit > 0 && limiterRedis != nil {
		opts.Limiter = database.NewRedisLimiter(limiterRedis, limit, config.Duration("SEND_RATE_WINDOW", defaultRateWindow))
	}

	svc := messenger.New(
		db,
		entity.NewDirectory(db),
		notification.NewSink(db, broker, logger.Component("notification")),
		socketio.NewBroadcaster(socket),
		opts,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	api := listener.NewApi(svc, logger.Component("listener"))
	events, err := broker.Subscribe(listener.ApiQueue)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe")
	}
	go api.Run(ctx, events)

	if mode == event.ModeReplay {
		replay := make(chan event.EventChannelData)
		go api.Run(ctx, replay)
		go func() {
			defer close(replay)
			if err := broker.ReplayIn(ctx, map[string]chan<- event.EventChannelData{listener.ApiQueue: replay}); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("event replay failed")
			}
		}()
	}

	router.Rest(rest, controller.NewMessenger(svc, logger.Component("rest")), router.RestOptions{
		Enforcer:   enforcer,
		RequestLog: env == "development",
		Log:        logger.Component("rest"),
	})
	router.Socket(socket, router.NewSocketHandler(svc, logger.Component("socket")))

	go func() {
		if err := rest.Listen(fmt.Sprintf(":%s", config.Config("SERVER_PORT"))); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()
	logger.Info().Str("port", config.Config("SERVER_PORT")).Msg("gig-messenger started")

	<-ctx.Done()

	if err := rest.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	socket.Close(nil)
	svc.Close()
	if err := broker.Close(); err != nil {
		logger.Error().Err(err).Msg("broker close")
	}
	for _, client := range redisClients {
		client.Close()
	}
	os.Exit(0)
}
