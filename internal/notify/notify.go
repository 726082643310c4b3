// Package notify emails a plain-text report when an import session
// concludes. Delivery problems are logged and swallowed; a missing
// report must never affect the import itself.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/osteele/liquid"

	"github.com/ignite/list-loader/internal/importer"
	"github.com/ignite/list-loader/internal/pkg/logger"
)

// Config enables and addresses the report mail. AccessKey and
// SecretKey are optional; when empty the default credential chain
// (IAM role on ECS) is used.
type Config struct {
	Enabled   bool
	Region    string
	AccessKey string
	SecretKey string
	From      string
	To        []string
}

const reportTemplate = `Import session {{ session_id }} finished with status {{ status }}.

Source:      {{ source }}
Records:     {{ processed }} of {{ total }} processed
Succeeded:   {{ succeeded }}
Failed:      {{ failed }}
Duplicates:  {{ duplicates }}
Suppressed:  {{ suppressed }}
Invalid:     {{ invalid }}
Batches:     {{ batches }}
Throughput:  {{ throughput }} records/s
Duration:    {{ duration }}
{% if failed > 0 %}
{{ failed }} records were rejected by the audience service. Resubmitting
the same session retries only what has not succeeded yet.
{% endif %}`

// sesSender is the part of the SES v2 client the notifier uses.
type sesSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Notifier renders and sends session reports.
type Notifier struct {
	cfg    Config
	engine *liquid.Engine
	client sesSender
	log    *logger.Logger
}

// New builds a notifier. A disabled config yields a notifier whose
// SessionConcluded is a no-op, so callers never branch.
func New(ctx context.Context, cfg Config) (*Notifier, error) {
	n := &Notifier{
		cfg:    cfg,
		engine: liquid.NewEngine(),
		log:    logger.With("notify"),
	}
	if !cfg.Enabled {
		return n, nil
	}

	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("notify: enabled but from/to not configured")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
		n.cfg.Region = cfg.Region
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: load aws config: %w", err)
	}
	n.client = sesv2.NewFromConfig(awsCfg)
	return n, nil
}

// SetClient swaps the SES client, for tests.
func (n *Notifier) SetClient(c sesSender) { n.client = c }

// SessionConcluded sends the report for a finished run. Never fatal:
// render and send problems are logged and dropped.
func (n *Notifier) SessionConcluded(ctx context.Context, summary *importer.Summary, sourceName string) {
	if !n.cfg.Enabled || n.client == nil || summary == nil {
		return
	}

	body, err := n.render(summary, sourceName)
	if err != nil {
		n.log.Warn("report render failed", "session_id", summary.SessionID, "error", err.Error())
		return
	}
	subject := fmt.Sprintf("[list-loader] import %s %s", summary.SessionID, summary.Status)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.cfg.From),
		Destination:      &types.Destination{ToAddresses: n.cfg.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	out, err := n.client.SendEmail(ctx, input)
	if err != nil {
		n.log.Warn("report send failed", "session_id", summary.SessionID, "error", err.Error())
		return
	}
	messageID := ""
	if out != nil && out.MessageId != nil {
		messageID = *out.MessageId
	}
	n.log.Info("session report sent",
		"session_id", summary.SessionID, "recipients", len(n.cfg.To), "message_id", messageID)
}

func (n *Notifier) render(summary *importer.Summary, sourceName string) (string, error) {
	throughput := 0.0
	if secs := summary.Duration.Seconds(); secs > 0 {
		throughput = float64(summary.Processed) / secs
	}

	bindings := map[string]interface{}{
		"session_id": summary.SessionID,
		"status":     string(summary.Status),
		"source":     sourceName,
		"total":      summary.Total,
		"processed":  summary.Processed,
		"succeeded":  summary.Succeeded,
		"failed":     summary.Failed,
		"duplicates": summary.Duplicates,
		"suppressed": summary.Suppressed,
		"invalid":    summary.Invalid,
		"batches":    summary.Batches,
		"throughput": fmt.Sprintf("%.1f", throughput),
		"duration":   summary.Duration.Round(time.Millisecond).String(),
	}
	return n.engine.ParseAndRenderString(reportTemplate, bindings)
}
