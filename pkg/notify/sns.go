package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rtemka/foodoo/pkg/intake"
)

// Publisher - часть клиента SNS, которая нужна SNS.
type Publisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS публикует уведомления в топик AWS SNS.
type SNS struct {
	client   Publisher
	topicArn string
}

func NewSNS(client Publisher, topicArn string) *SNS {
	return &SNS{client: client, topicArn: topicArn}
}

// NewSNSFromEnv создает клиента по стандартной цепочке
// учетных данных AWS.
func NewSNSFromEnv(ctx context.Context, region, topicArn string) (*SNS, error) {
	if region == "" {
		region = "eu-central-1"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNS(sns.NewFromConfig(cfg), topicArn), nil
}

// Send публикует уведомление, Subject - заголовок, Message - JSON.
func (s *SNS) Send(ctx context.Context, n intake.Notification) error {
	body, err := json.Marshal(Event{Kind: KindNotification, Notification: &n})
	if err != nil {
		return err
	}
	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicArn),
		Subject:  aws.String(n.Title),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

// Cancel ничего не делает: опубликованное сообщение не отозвать.
func (s *SNS) Cancel(context.Context) error { return nil }
