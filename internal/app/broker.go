package app

import (
	"fmt"

	"github.com/jwalitptl/massage-booking/internal/config"
	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/messaging"
	"github.com/jwalitptl/massage-booking/pkg/messaging/rabbitmq"
	"github.com/jwalitptl/massage-booking/pkg/messaging/redis"
)

// NewBroker picks the broker driver named in broker.driver.
func NewBroker(cfg *config.Config, log *logger.Logger) (messaging.Broker, error) {
	switch cfg.Broker.Driver {
	case "redis":
		b, err := redis.NewRedisBroker(redis.Config{URL: cfg.Redis.URL}, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "rabbitmq":
		b, err := rabbitmq.NewBroker(rabbitmq.Config{
			URL:         cfg.Broker.RabbitURL,
			Exchange:    cfg.Broker.Exchange,
			Queue:       cfg.Broker.Queue,
			ConsumerTag: cfg.Broker.ConsumerTag,
		}, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "memory":
		return messaging.NewMemoryBroker(256), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}
