package services

import (
	"context"
	"errors"
	"net"
	"strings"

	"auction-sync/internal/domain"
)

var (
	ErrNotConfigured         = errors.New("connection manager is not configured")
	ErrConnectionUnavailable = errors.New("connection unavailable")
	ErrManagerClosed         = errors.New("connection manager destroyed")
	ErrBiddingUnavailable    = errors.New("bidding unavailable while not connected")
	ErrOffline               = errors.New("offline")
)

type httpStatusError interface {
	HTTPStatus() int
}

var (
	authPatterns    = []string{"401", "403", "unauthorized", "forbidden", "authentication", "token"}
	serverPatterns  = []string{"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable"}
	networkPatterns = []string{"offline", "network", "dial", "timeout", "refused", "reset by peer",
		"no such host", "eof", "broken pipe", "unreachable", "connection lost"}
)

// ClassifyError maps a connection failure to a coarse category for display.
// The result is advisory and never drives control flow.
func ClassifyError(err error) domain.ErrorCategory {
	if err == nil {
		return domain.ErrorNone
	}

	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.HTTPStatus(); {
		case code == 401 || code == 403:
			return domain.ErrorAuthentication
		case code >= 500:
			return domain.ErrorServer
		}
	}

	if errors.Is(err, ErrOffline) || errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.ErrorNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, authPatterns):
		return domain.ErrorAuthentication
	case containsAny(msg, serverPatterns):
		return domain.ErrorServer
	case containsAny(msg, networkPatterns):
		return domain.ErrorNetwork
	default:
		return domain.ErrorUnknown
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
