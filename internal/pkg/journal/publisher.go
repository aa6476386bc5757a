package journal

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

type Publisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Close()
}

// ValkeyPublisher fans events out over valkey pub/sub.
type ValkeyPublisher struct {
	client valkey.Client
}

func NewValkeyPublisher(addr string) (*ValkeyPublisher, error) {
	//nolint:exhaustruct
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", addr, err)
	}

	return &ValkeyPublisher{
		client: client,
	}, nil
}

func (p *ValkeyPublisher) Publish(ctx context.Context, channel string, message []byte) error {
	cmd := p.client.B().Publish().Channel(channel).Message(valkey.BinaryString(message)).Build()

	err := p.client.Do(ctx, cmd).Error()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	return nil
}

func (p *ValkeyPublisher) Close() {
	p.client.Close()
}
