package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/signalsfoundry/safespaces/internal/logging"
	"github.com/signalsfoundry/safespaces/model"
)

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	ListEndpointsByPlatformApplication(ctx context.Context, params *sns.ListEndpointsByPlatformApplicationInput, optFns ...func(*sns.Options)) (*sns.ListEndpointsByPlatformApplicationOutput, error)
}

// SNSConfig configures the SNS backend.
type SNSConfig struct {
	Region                 string
	PlatformApplicationARN string
}

// NewSNSClient loads the default AWS credential chain for region.
func NewSNSClient(ctx context.Context, region string) (*sns.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sns.NewFromConfig(cfg), nil
}

type apsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type aps struct {
	Alert apsAlert `json:"alert"`
	Sound string   `json:"sound"`
	Badge int      `json:"badge"`
}

type apnsPayload struct {
	APS aps `json:"aps"`
}

// SNSMessage builds the MessageStructure=json body: a plain default plus
// APNS and APNS_SANDBOX alert payloads.
func SNSMessage(title, body string) (string, error) {
	inner, err := json.Marshal(apnsPayload{APS: aps{
		Alert: apsAlert{Title: title, Body: body},
		Sound: "default",
		Badge: 1,
	}})
	if err != nil {
		return "", err
	}
	outer, err := json.Marshal(map[string]string{
		"default":      body,
		"APNS":         string(inner),
		"APNS_SANDBOX": string(inner),
	})
	if err != nil {
		return "", err
	}
	return string(outer), nil
}

// SNSPublisher delivers remote notifications as SNS mobile push messages.
type SNSPublisher struct {
	client SNSAPI
}

// NewSNSPublisher returns a publisher using client.
func NewSNSPublisher(client SNSAPI) *SNSPublisher {
	return &SNSPublisher{client: client}
}

// Publish implements RemotePublisher. endpoint is the target endpoint ARN.
func (p *SNSPublisher) Publish(ctx context.Context, endpoint string, msg Message) error {
	body, err := SNSMessage(msg.Title, msg.Body)
	if err != nil {
		return fmt.Errorf("encode sns message: %w", err)
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(endpoint),
		Message:          aws.String(body),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

// SNSResolver finds a guardian's endpoint by scanning the platform
// application's endpoints for an enabled one whose CustomUserData is the
// guardian's phone number.
type SNSResolver struct {
	client         SNSAPI
	applicationARN string
	log            logging.Logger
}

// NewSNSResolver returns a resolver over the given platform application.
func NewSNSResolver(client SNSAPI, applicationARN string, log logging.Logger) *SNSResolver {
	if log == nil {
		log = logging.Noop()
	}
	return &SNSResolver{client: client, applicationARN: applicationARN, log: log}
}

// Resolve implements EndpointResolver.
func (r *SNSResolver) Resolve(ctx context.Context, g model.Guardian) (string, error) {
	if g.Endpoint != "" {
		return g.Endpoint, nil
	}
	if g.Phone == "" {
		return "", fmt.Errorf("guardian %q has no phone: %w", g.Name, ErrEndpointNotFound)
	}

	in := &sns.ListEndpointsByPlatformApplicationInput{
		PlatformApplicationArn: aws.String(r.applicationARN),
	}
	pages := 0
	for {
		out, err := r.client.ListEndpointsByPlatformApplication(ctx, in)
		if err != nil {
			return "", fmt.Errorf("list sns endpoints: %w", err)
		}
		pages++
		for _, ep := range out.Endpoints {
			if ep.Attributes["Enabled"] != "true" {
				continue
			}
			if ep.Attributes["CustomUserData"] == g.Phone {
				return aws.ToString(ep.EndpointArn), nil
			}
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		in.NextToken = out.NextToken
	}

	r.log.Debug(ctx, "no enabled sns endpoint for guardian",
		logging.String("guardian", g.Name), logging.Int("pages", pages))
	return "", fmt.Errorf("guardian %q: %w", g.Ref(), ErrEndpointNotFound)
}
