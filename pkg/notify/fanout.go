package notify

import (
	"context"
	"errors"

	"github.com/rtemka/foodoo/pkg/intake"
)

// Fanout отправляет уведомление каждому получателю.
type Fanout []intake.Notifier

func (f Fanout) Send(ctx context.Context, n intake.Notification) error {
	var errs []error
	for _, nt := range f {
		if err := nt.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Cancel(ctx context.Context) error {
	var errs []error
	for _, nt := range f {
		if err := nt.Cancel(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
