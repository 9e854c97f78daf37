package model

import "context"

// Reporter receives the JSON encoded Summary of every finished run.
type Reporter interface {
	Report(ctx context.Context, raw []byte) error
}

type ReportCloser interface {
	Reporter
	Close() error
}
