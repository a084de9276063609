package application

import (
	"errors"
	"strings"
	"testing"

	"admission-gateway/middleware/pipeline/domain"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestErrorTranslator_UnhandledHidesInternalText(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tr := ErrorTranslator{Log: logger}

	status, env := tr.Translate(errors.New("pq: password authentication failed for user admin"))
	if status != 500 {
		t.Fatalf("expected 500, got %d", status)
	}
	if env.Success || env.Error.Code != 500 {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if strings.Contains(env.Error.Message, "password") || env.Error.Message == "" {
		t.Fatalf("expected generic message, got %q", env.Error.Message)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected the internal error to be logged at error level")
	}
	if err, _ := entry.Data[logrus.ErrorKey].(error); err == nil || !strings.Contains(err.Error(), "password") {
		t.Fatalf("expected original error in the log entry, got %v", entry.Data)
	}
}

func TestErrorTranslator_UnhandledFailureMessageIsNotEchoed(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, env := ErrorTranslator{Log: logger}.Translate(&domain.Failure{Kind: domain.KindUnhandled, Message: "disk /dev/sda1 full"})
	if env.Error.Message != "internal server error" {
		t.Fatalf("expected generic message, got %q", env.Error.Message)
	}
}

func TestErrorTranslator_KindsMapToStatus(t *testing.T) {
	cases := []struct {
		kind   domain.Kind
		status int
	}{
		{domain.KindRateLimitExceeded, 429},
		{domain.KindUnauthorized, 401},
		{domain.KindForbidden, 403},
		{domain.KindValidationFailed, 400},
		{domain.KindNotFound, 404},
		{domain.KindTimeout, 504},
		{domain.KindShuttingDown, 503},
		{domain.KindUnavailable, 503},
		{domain.KindPayloadTooLarge, 413},
	}
	tr := ErrorTranslator{}
	for _, c := range cases {
		status, env := tr.Translate(&domain.Failure{Kind: c.kind})
		if status != c.status || env.Error.Code != c.status {
			t.Fatalf("%s: expected %d, got %d/%d", c.kind, c.status, status, env.Error.Code)
		}
		if env.Error.Message == "" {
			t.Fatalf("%s: expected non-empty default message", c.kind)
		}
		if env.Error.Details != nil {
			t.Fatalf("%s: expected no details, got %+v", c.kind, env.Error.Details)
		}
	}
}

func TestErrorTranslator_ValidationCarriesDetails(t *testing.T) {
	f := &domain.Failure{
		Kind:       domain.KindValidationFailed,
		Message:    "request validation failed",
		Violations: []domain.Violation{{Field: "age", Message: "must be a number"}},
	}
	status, env := ErrorTranslator{}.Translate(f)
	if status != 400 || len(env.Error.Details) != 1 || env.Error.Details[0].Field != "age" {
		t.Fatalf("unexpected translation %d %+v", status, env)
	}
}

func TestErrorTranslator_ErrNotFoundSentinel(t *testing.T) {
	status, _ := ErrorTranslator{}.Translate(errors.Join(errors.New("user 7"), domain.ErrNotFound))
	if status != 404 {
		t.Fatalf("expected 404 for ErrNotFound, got %d", status)
	}
}
