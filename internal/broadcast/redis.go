package broadcast

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"

	"rescuefusion/internal/config"
)

// Redis publishes each event on channel prefix+topic.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(cfg config.RedisBroadcastConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisClient(client, cfg.ChannelPrefix)
}

func NewRedisClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Ping(ctx context.Context) error {
	return eris.Wrap(r.client.Ping(ctx).Err(), "redis ping")
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.prefix+ev.Topic, data).Err(); err != nil {
		return eris.Wrapf(err, "redis publish %s", ev.Topic)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
