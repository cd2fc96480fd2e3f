package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/checkinhub/pkg/channels/gochannel"
	"github.com/dukex/checkinhub/pkg/channels/kafka"
	"github.com/dukex/checkinhub/pkg/eventbus"
)

// NewEventBus builds the event bus for provider: "gochannel" (in process) or "kafka".
func NewEventBus(provider string, kafkaBrokers string, logger *slog.Logger) (eventbus.EventBus, error) {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub := gochannel.CreateChannel(watermillLogger)

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, kafka.ParseBrokers(kafkaBrokers), "checkinhub")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
