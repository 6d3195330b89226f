package msgconvert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pentops/stdin-amqp/apps/forwarder"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	FormatJSON    = "json"
	FormatMessage = "msg"

	ContentTypeJSON  = "text/json"
	ContentTypePlain = "text/plain"
)

type FormatConfig struct {
	// Format of the input lines, msg or json. Only used for the content type.
	Format string `env:"INPUT_FORMAT" flag:"format" default:"json"`
}

// Converter applies the run-wide content type and delivery policy to each
// message.
type Converter struct {
	format      string
	contentType string
	appID       string

	now   func() time.Time
	newID func() string
}

func NewConverter(config FormatConfig, appID string) (*Converter, error) {
	var contentType string
	switch config.Format {
	case FormatJSON, "":
		config.Format = FormatJSON
		contentType = ContentTypeJSON
	case FormatMessage:
		contentType = ContentTypePlain
	default:
		return nil, fmt.Errorf("unknown input format %q, expected %q or %q", config.Format, FormatMessage, FormatJSON)
	}

	return &Converter{
		format:      config.Format,
		contentType: contentType,
		appID:       appID,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

func (cc *Converter) ContentType() string {
	return cc.contentType
}

func (cc *Converter) Format() string {
	return cc.format
}

// AMQPPublishing builds a non-persistent publishing for the message.
func (cc *Converter) AMQPPublishing(msg forwarder.Message) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  cc.contentType,
		DeliveryMode: amqp.Transient,
		MessageId:    cc.newID(),
		Timestamp:    cc.now(),
		AppId:        cc.appID,
		Body:         msg.Body,
	}
}

type wrappedLine struct {
	Message string `json:"message"`
}

// EventDetail returns a JSON object for the message. JSON input must already
// be an object; plain lines are wrapped.
func (cc *Converter) EventDetail(msg forwarder.Message) (string, error) {
	if cc.format == FormatJSON {
		trimmed := bytes.TrimSpace(msg.Body)
		if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
			return "", fmt.Errorf("line %d is not a JSON object", msg.Sequence)
		}
		return string(trimmed), nil
	}

	detail, err := json.Marshal(wrappedLine{Message: string(msg.Body)})
	if err != nil {
		return "", err
	}
	return string(detail), nil
}
