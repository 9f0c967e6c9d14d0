package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"auction-sync/internal/domain"

	"github.com/stretchr/testify/require"
)

type statusError struct {
	code int
}

func (e statusError) Error() string   { return fmt.Sprintf("handshake status %d", e.code) }
func (e statusError) HTTPStatus() int { return e.code }

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want domain.ErrorCategory
	}{
		{"nil", nil, domain.ErrorNone},
		{"status 401", statusError{401}, domain.ErrorAuthentication},
		{"status 403 wrapped", fmt.Errorf("start: %w", statusError{403}), domain.ErrorAuthentication},
		{"status 503", statusError{503}, domain.ErrorServer},
		{"offline", fmt.Errorf("connect: %w", ErrOffline), domain.ErrorNetwork},
		{"deadline", context.DeadlineExceeded, domain.ErrorNetwork},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("boom")}, domain.ErrorNetwork},
		{"token text", errors.New("invalid token"), domain.ErrorAuthentication},
		{"server text", errors.New("502 Bad Gateway"), domain.ErrorServer},
		{"refused text", errors.New("connection refused"), domain.ErrorNetwork},
		{"other", errors.New("something odd"), domain.ErrorUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestClassifyErrorPrefersStatusOverText(t *testing.T) {
	// The message mentions a timeout but the status code decides.
	err := fmt.Errorf("timeout waiting: %w", statusError{401})
	require.Equal(t, domain.ErrorAuthentication, ClassifyError(err))
}
