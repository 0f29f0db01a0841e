package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const allocateTokenQuery = `
	INSERT INTO token_counters (hospital_id, doctor_id, queue_day, last_token, updated_at)
	VALUES ($1, $2, $3, 1, NOW())
	ON CONFLICT (hospital_id, doctor_id, queue_day)
	DO UPDATE SET last_token = token_counters.last_token + 1, updated_at = NOW()
	RETURNING last_token
`

// allocateToken hands out the next token for a doctor's queue day. The
// counter row stays locked until tx ends, so concurrent check-ins for the
// same queue are serialized and a rollback returns the number.
func allocateToken(ctx context.Context, tx *sqlx.Tx, hospitalID, doctorID uuid.UUID, day time.Time) (int, error) {
	var token int
	if err := tx.GetContext(ctx, &token, allocateTokenQuery, hospitalID, doctorID, day); err != nil {
		return 0, fmt.Errorf("failed to allocate token: %w", err)
	}
	return token, nil
}
