package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/CZERTAINLY/Trainer/internal/model"
)

// reporters returns the reporters configured in service. Stdout is used when
// no other reporter is enabled.
func reporters(_ context.Context, cfg model.Service) ([]model.Reporter, error) {
	webhook := cfg.Webhook != nil && cfg.Webhook.Enabled
	if cfg.Dir == "" && !webhook {
		return []model.Reporter{NewWriteReporter(os.Stdout)}, nil
	}
	var ret []model.Reporter
	if cfg.Dir != "" {
		r, err := NewOSRootReporter(cfg.Dir)
		if err != nil {
			return nil, err
		}
		ret = append(ret, r)
	}
	if webhook {
		r, err := NewWebhookReporter(cfg.Webhook.URL)
		if err != nil {
			return nil, err
		}
		ret = append(ret, r)
	}
	return ret, nil
}

type WriteReporter struct {
	w io.Writer
}

func NewWriteReporter(w io.Writer) WriteReporter {
	return WriteReporter{w: w}
}

func (r WriteReporter) Report(_ context.Context, raw []byte) error {
	if r.w == nil {
		r.w = os.Stdout
	}
	_, err := r.w.Write(append(raw, '\n'))
	return err
}

// OSRootReporter stores every summary as a new file in a directory.
type OSRootReporter struct {
	root *os.Root
	now  func() time.Time
}

func NewOSRootReporter(path string) (*OSRootReporter, error) {
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, fmt.Errorf("opening report dir: %w", err)
	}
	return &OSRootReporter{root: root, now: time.Now}, nil
}

func (r *OSRootReporter) Report(ctx context.Context, raw []byte) error {
	if r.root == nil {
		return errors.New("reporter already closed")
	}

	path := "trainer-" + r.now().Format("2006-01-02-15-04-05.000") + ".json"
	f, err := r.root.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating run report: %w", err)
	}
	_, err = f.Write(raw)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("saving run report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing run report: %w", err)
	}
	slog.InfoContext(ctx, "run report saved", "path", path)
	return nil
}

func (r *OSRootReporter) Close() error {
	if r.root == nil {
		return errors.New("reporter already closed")
	}
	err := r.root.Close()
	r.root = nil
	return err
}
