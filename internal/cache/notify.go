package cache

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// InfraChannel carries infrastructure change notifications
const InfraChannel = "railsim:infrastructure"

// PublishInfraChange tells running engines that tracks, stations, vehicles, routes
// or trains were modified
func PublishInfraChange(ctx context.Context, rdb *redis.Client, reason string) error {
	if err := rdb.Publish(ctx, InfraChannel, reason).Err(); err != nil {
		return fmt.Errorf("failed to publish infrastructure change: %w", err)
	}
	return nil
}

// SubscribeInfraChanges calls onChange for every notification until ctx is done.
// The subscription is confirmed before it returns.
func SubscribeInfraChanges(ctx context.Context, rdb *redis.Client, onChange func(reason string)) error {
	pubsub := rdb.Subscribe(ctx, InfraChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", InfraChannel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					log.Printf("Warning: infrastructure subscription closed")
					return
				}
				onChange(msg.Payload)
			}
		}
	}()
	return nil
}
