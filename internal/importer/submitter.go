package importer

import (
	"context"

	"github.com/ignite/list-loader/internal/audienceapi"
	"github.com/ignite/list-loader/internal/domain"
)

// Submitter is the submission boundary. The pipeline depends only on
// this shape; errors it returns are interpreted by the retry
// classifier, so transports should surface classifiable errors.
type Submitter interface {
	Submit(ctx context.Context, record domain.ImportRecord) error
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, record domain.ImportRecord) error

func (f SubmitterFunc) Submit(ctx context.Context, record domain.ImportRecord) error {
	return f(ctx, record)
}

// NewAPISubmitter submits records to the audience service one contact
// per operation. overwrite controls whether existing contacts are
// updated in place.
func NewAPISubmitter(client *audienceapi.Client, overwrite bool) Submitter {
	return SubmitterFunc(func(ctx context.Context, record domain.ImportRecord) error {
		_, err := client.SubmitContact(ctx, record, overwrite)
		return err
	})
}
