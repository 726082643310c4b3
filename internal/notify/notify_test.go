package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/osteele/liquid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/importer"
	"github.com/ignite/list-loader/internal/pkg/logger"
)

type fakeSES struct {
	mu     sync.Mutex
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func (f *fakeSES) sent() []*sesv2.SendEmailInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*sesv2.SendEmailInput(nil), f.inputs...)
}

func testSummary() *importer.Summary {
	return &importer.Summary{
		SessionID:  "sess-report",
		Status:     domain.SessionCompleted,
		Total:      1000,
		Processed:  980,
		Succeeded:  975,
		Failed:     5,
		Duplicates: 12,
		Suppressed: 6,
		Invalid:    2,
		Batches:    10,
		Duration:   42 * time.Second,
	}
}

func enabledNotifier(t *testing.T, ses sesSender) *Notifier {
	t.Helper()
	return &Notifier{
		cfg: Config{
			Enabled: true,
			From:    "imports@example.com",
			To:      []string{"ops@example.com"},
		},
		engine: liquid.NewEngine(),
		client: ses,
		log:    logger.With("notify"),
	}
}

func TestReportRenders(t *testing.T) {
	n := enabledNotifier(t, nil)

	body, err := n.render(testSummary(), "s3://lists/march.csv")
	require.NoError(t, err)

	assert.Contains(t, body, "sess-report")
	assert.Contains(t, body, "completed")
	assert.Contains(t, body, "s3://lists/march.csv")
	assert.Contains(t, body, "980 of 1000 processed")
	assert.Contains(t, body, "Duplicates:  12")
	assert.Contains(t, body, "Suppressed:  6")
	assert.Contains(t, body, "23.3 records/s")
	assert.Contains(t, body, "5 records were rejected")
}

func TestReportOmitsFailureNoteWhenClean(t *testing.T) {
	n := enabledNotifier(t, nil)
	summary := testSummary()
	summary.Failed = 0
	summary.Succeeded = 980

	body, err := n.render(summary, "list.csv")
	require.NoError(t, err)
	assert.NotContains(t, body, "rejected by the audience service")
}

func TestSessionConcludedSendsEmail(t *testing.T) {
	ses := &fakeSES{}
	n := enabledNotifier(t, ses)

	n.SessionConcluded(context.Background(), testSummary(), "list.csv")

	sent := ses.sent()
	require.Len(t, sent, 1)
	input := sent[0]
	assert.Equal(t, "imports@example.com", aws.ToString(input.FromEmailAddress))
	assert.Equal(t, []string{"ops@example.com"}, input.Destination.ToAddresses)
	assert.Contains(t, aws.ToString(input.Content.Simple.Subject.Data), "sess-report")
	assert.Contains(t, aws.ToString(input.Content.Simple.Subject.Data), "completed")
	assert.Contains(t, aws.ToString(input.Content.Simple.Body.Text.Data), "Records:")
}

func TestDisabledNotifierSkipsSend(t *testing.T) {
	n, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ses := &fakeSES{}
	n.SetClient(ses)

	n.SessionConcluded(context.Background(), testSummary(), "list.csv")
	assert.Empty(t, ses.sent())
}

func TestSendFailureIsSwallowed(t *testing.T) {
	ses := &fakeSES{err: fmt.Errorf("throttled")}
	n := enabledNotifier(t, ses)

	n.SessionConcluded(context.Background(), testSummary(), "list.csv")
	assert.Len(t, ses.sent(), 1)
}

func TestNewRejectsEnabledWithoutAddresses(t *testing.T) {
	_, err := New(context.Background(), Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from/to not configured")
}
