package events

import (
	"context"

	"github.com/hashicorp/go-multierror"
)

// MultiPublisher fans one event out to several sinks. Every sink sees
// the event even when an earlier one fails; the failures are collected.
type MultiPublisher []Publisher

// Publish implements Publisher.
func (m MultiPublisher) Publish(ctx context.Context, ev Event) error {
	var result *multierror.Error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
