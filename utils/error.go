package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datazip-inc/olake-scaling/constants"
	"github.com/datazip-inc/olake-scaling/utils/logger"
	"github.com/hashicorp/go-multierror"
)

// ErrExecSequential executes a list of functions sequentially, accumulating errors if any occur.
func ErrExecSequential(functions ...func() error) error {
	var multErr error

	for _, one := range functions {
		if err := one(); err != nil {
			multErr = multierror.Append(multErr, err)
		}
	}

	return multErr
}

// ErrExecFormat formats the error returned from a function according to the provided format string.
func ErrExecFormat(format string, function func() error) func() error {
	return func() error {
		if err := function(); err != nil {
			return fmt.Errorf(format, err)
		}
		return nil
	}
}

// RetryOnBackoff runs f up to attempts times, doubling the wait after every
// failure. Non-retryable errors and context cancellation end the loop at once.
func RetryOnBackoff(ctx context.Context, attempts int, sleep time.Duration, retryable func(error) bool, f func() error) (err error) {
	if attempts < 1 {
		attempts = 1
	}
	for cur := 0; cur < attempts; cur++ {
		if err = f(); err == nil {
			return nil
		}
		if errors.Is(err, constants.ErrNonRetryable) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return err
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if cur != attempts-1 {
			logger.Infof("retry attempt[%d], retrying after %.2f seconds due to err: %s", cur+1, sleep.Seconds(), err)
			select {
			case <-ctx.Done():
				return err
			case <-time.After(sleep):
			}
			sleep = sleep * 2
		}
	}

	return err
}
