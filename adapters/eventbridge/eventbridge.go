package eventbridge

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/pentops/log.go/log"
	"github.com/pentops/stdin-amqp/adapters/msgconvert"
	"github.com/pentops/stdin-amqp/apps/forwarder"
)

type EventBridgeConfig struct {
	BusARN string `env:"EVENTBRIDGE_ARN" flag:"eventbridge-arn" default:""`
	Source string `env:"EVENTBRIDGE_SOURCE" flag:"eventbridge-source" default:"stdin-amqp"`
}

type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// ClientProvider builds the client on Connect, so AWS config is only loaded
// when this publisher is in use.
type ClientProvider func(ctx context.Context) (EventBridgeAPI, error)

type EventBridgePublisher struct {
	provider  ClientProvider
	converter *msgconvert.Converter
	EventBridgeConfig

	client EventBridgeAPI
}

var _ forwarder.Broker = (*EventBridgePublisher)(nil)

func NewEventBridgePublisher(provider ClientProvider, config EventBridgeConfig, converter *msgconvert.Converter) (*EventBridgePublisher, error) {
	if config.BusARN == "" {
		return nil, fmt.Errorf("missing $EVENTBRIDGE_ARN")
	}
	if config.Source == "" {
		config.Source = "stdin-amqp"
	}
	if converter == nil {
		return nil, fmt.Errorf("eventbridge publisher requires a converter")
	}

	return &EventBridgePublisher{
		provider:          provider,
		converter:         converter,
		EventBridgeConfig: config,
	}, nil
}

func (p *EventBridgePublisher) Connect(ctx context.Context) error {
	client, err := p.provider(ctx)
	if err != nil {
		log.WithField(ctx, "eventBusArn", p.BusARN).Error("cannot build EventBridge client")
		return fmt.Errorf("getting eventbridge client: %w", err)
	}
	p.client = client

	log.WithField(ctx, "eventBusArn", p.BusARN).Info("publishing to EventBridge")
	return nil
}

// Publish sends one event per message. Entry failures are rejections, a
// failed API call means the bus is unreachable.
func (p *EventBridgePublisher) Publish(ctx context.Context, msg forwarder.Message) forwarder.PublishResult {
	if p.client == nil {
		return forwarder.ConnectionLost(fmt.Errorf("eventbridge publisher is not connected"))
	}

	detail, err := p.converter.EventDetail(msg)
	if err != nil {
		return forwarder.Rejected(err)
	}

	res, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			Detail:       aws.String(detail),
			DetailType:   aws.String(p.converter.ContentType()),
			Source:       aws.String(p.Source),
			EventBusName: aws.String(p.BusARN),
		}},
	})
	if err != nil {
		return forwarder.ConnectionLost(err)
	}

	if len(res.Entries) != 1 {
		return forwarder.Rejected(fmt.Errorf("expected 1 result entry, got %d", len(res.Entries)))
	}

	entry := res.Entries[0]
	if entry.ErrorCode != nil {
		log.WithFields(ctx, map[string]any{
			"eventBusArn":  p.BusARN,
			"sequence":     msg.Sequence,
			"errorCode":    aws.ToString(entry.ErrorCode),
			"errorMessage": aws.ToString(entry.ErrorMessage),
		}).Error("Failed to PutEvent to EventBus")

		return forwarder.Rejected(fmt.Errorf("%s: %s", aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage)))
	}

	return forwarder.Delivered()
}

func (p *EventBridgePublisher) Close() error {
	p.client = nil
	return nil
}
