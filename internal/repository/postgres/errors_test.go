package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain/appointment"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestTranslate(t *testing.T) {
	other := errors.New("connection reset")
	conflict := &appointment.ConflictError{Reasons: []appointment.ConflictReason{appointment.ReasonDoctorBusy}}

	tests := []struct {
		name     string
		in       error
		wantBusy bool
		wantSame bool
	}{
		{"lock timeout", fmt.Errorf("locking: %w", &pgconn.PgError{Code: codeLockNotAvailable}), true, false},
		{"serialization failure", &pgconn.PgError{Code: codeSerializationFailure}, true, false},
		{"deadlock", &pgconn.PgError{Code: codeDeadlockDetected}, true, false},
		{"context deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true, false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false, true},
		{"plain error", other, false, true},
		{"domain conflict", conflict, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.in)
			if errors.Is(got, appointment.ErrBusy) != tt.wantBusy {
				t.Errorf("translate(%v) = %v, busy=%v", tt.in, got, tt.wantBusy)
			}
			if tt.wantSame && got != tt.in {
				t.Errorf("expected error to pass through unchanged, got %v", got)
			}
		})
	}

	if translate(nil) != nil {
		t.Error("nil must stay nil")
	}
}
