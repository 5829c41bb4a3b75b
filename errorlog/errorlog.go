// Package errorlog defines the append-only diagnostic record every
// component writes to on failure, and the narrow interface backing the
// external error-log store.
package errorlog

import (
	"context"
	"time"

	"github.com/brinkhollow/ingestor/idgen"
	"github.com/brinkhollow/ingestor/model"
)

// Appender is the narrow interface to the external error-log store.
// The store's implementation (persistence, retention, alerting) lives
// outside this module.
type Appender interface {
	Append(ctx context.Context, record model.ErrorLogRecord) error
}

// Builder accumulates the fields common to a stage of the pipeline so
// callers don't have to repeat SourceID/SourceURL/Method at every call
// site.
type Builder struct {
	appender  Appender
	sourceID  string
	sourceURL string
	method    string
}

// NewBuilder returns a Builder scoped to a single source and fetch method.
func NewBuilder(appender Appender, sourceID, sourceURL, method string) *Builder {
	return &Builder{appender: appender, sourceID: sourceID, sourceURL: sourceURL, method: method}
}

// Log appends a record with the given kind/step/message, tagging it with
// the builder's source context.
func (b *Builder) Log(ctx context.Context, kind model.ErrorKind, step, articleURL, message string, retryCount int, details string) error {
	if b == nil || b.appender == nil {
		return nil
	}
	record := model.ErrorLogRecord{
		ID:         idgen.New(),
		SourceID:   b.sourceID,
		SourceURL:  b.sourceURL,
		ArticleURL: articleURL,
		Kind:       kind,
		Message:    message,
		Method:     b.method,
		Step:       step,
		RetryCount: retryCount,
		Details:    details,
		Timestamp:  time.Now(),
	}
	return b.appender.Append(ctx, record)
}

// New constructs a standalone ErrorLogRecord without a Builder, for
// one-off call sites (e.g. the scheduler's run-level failures).
func New(kind model.ErrorKind, sourceID, sourceURL, step, message string) model.ErrorLogRecord {
	return model.ErrorLogRecord{
		ID:        idgen.New(),
		SourceID:  sourceID,
		SourceURL: sourceURL,
		Kind:      kind,
		Message:   message,
		Step:      step,
		Timestamp: time.Now(),
	}
}
