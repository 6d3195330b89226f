package entrypoint

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebadapter "github.com/pentops/stdin-amqp/adapters/eventbridge"
)

type configLoaderFunc func(ctx context.Context) (aws.Config, error)

// AWSConfigBuilder loads the AWS config the first time a client is asked
// for, so runs which only use AMQP never touch AWS.
type AWSConfigBuilder struct {
	config       *aws.Config
	configLoader configLoaderFunc
}

var _ AWSProvider = (*AWSConfigBuilder)(nil)

func NewAWSConfigBuilder(provided configLoaderFunc) *AWSConfigBuilder {
	return &AWSConfigBuilder{configLoader: provided}
}

func NewDefaultAWSConfigBuilder() *AWSConfigBuilder {
	return NewAWSConfigBuilder(func(ctx context.Context) (aws.Config, error) {
		return config.LoadDefaultConfig(ctx)
	})
}

func (acb *AWSConfigBuilder) getConfig(ctx context.Context) (aws.Config, error) {
	if acb.config == nil {
		cfg, err := acb.configLoader(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("couldn't load aws config: %w", err)
		}
		acb.config = &cfg
	}
	return *acb.config, nil
}

func (acb *AWSConfigBuilder) EventBridge(ctx context.Context) (ebadapter.EventBridgeAPI, error) {
	config, err := acb.getConfig(ctx)
	if err != nil {
		return nil, err
	}
	return eventbridge.NewFromConfig(config), nil
}

type AWSProvider interface {
	EventBridge(context.Context) (ebadapter.EventBridgeAPI, error)
}
