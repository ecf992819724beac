package socketio

import (
	"context"
	"time"

	"gig-messenger/messenger"
	"gig-messenger/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/zishang520/engine.io/v2/log"
	"github.com/zishang520/socket.io-go-redis/adapter"
	r_type "github.com/zishang520/socket.io-go-redis/types"
	"github.com/zishang520/socket.io/v2/socket"
)

type Options struct {
	// Redis enables the Redis adapter so rooms span every instance. Nil keeps rooms local.
	Redis *redis.Client
	Debug bool
	Log   zerolog.Logger
}

// Init mounts the socket.io endpoint on app. Handshakes must carry a valid access
// token in the token query parameter; each socket joins its user's notification room.
func Init(app *fiber.App, opts Options) *socket.Server {
	log.DEBUG = opts.Debug

	options := socket.DefaultServerOptions()
	options.SetServeClient(false)
	options.SetAllowEIO3(true)
	options.SetPingInterval(25 * time.Second)
	options.SetPingTimeout(20 * time.Second)
	options.SetMaxHttpBufferSize(1000000)
	options.SetConnectTimeout(10 * time.Second)
	if opts.Redis != nil {
		options.SetAdapter(&adapter.RedisAdapterBuilder{
			Redis: r_type.NewRedisClient(context.Background(), opts.Redis),
			Opts:  &adapter.RedisAdapterOptions{},
		})
	}

	server := socket.NewServer(nil, nil)

	server.Use(func(client *socket.Socket, next func(*socket.ExtendedError)) {
		token, ok := client.Conn().Request().Query().Get("token")
		if !ok || token == "" {
			next(socket.NewExtendedError("Missing or malformed JWT", nil))
			return
		}

		claims, err := utils.CheckAndExtractTokenMetadata(token, "JWT_ACCESS_KEY")
		if err != nil {
			next(socket.NewExtendedError("Invalid or expired JWT", nil))
			return
		}
		if claims.Otp {
			next(socket.NewExtendedError("2FA required", nil))
			return
		}

		client.SetData(claims)
		client.Join(socket.Room(messenger.NotificationsChannel(claims.Id)))
		opts.Log.Debug().Str("user", claims.Id).Msg("socket connected")
		next(nil)
	})

	app.Get("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))
	app.Post("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))

	return server
}

// Broadcaster publishes service events to socket.io rooms named after channels.
type Broadcaster struct {
	server *socket.Server
}

func NewBroadcaster(server *socket.Server) *Broadcaster {
	return &Broadcaster{server: server}
}

func (b *Broadcaster) Publish(ctx context.Context, channel, event string, payload any) error {
	done := make(chan error, 1)
	go func() {
		done <- b.server.To(socket.Room(channel)).Emit(event, payload)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
