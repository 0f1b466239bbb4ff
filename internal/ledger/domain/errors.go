package domain

import "github.com/smallbiznis/stitchery/internal/apperror"

var (
	ErrInvalidUser           = apperror.Validation("user_id", "invalid_user")
	ErrInvalidAmount         = apperror.Validation("amount", "invalid_amount")
	ErrInvalidKind           = apperror.Validation("kind", "invalid_kind")
	ErrTransactionNotFound   = apperror.New(apperror.ErrNotFound, "transaction_not_found")
	ErrRefundTargetInvalid   = apperror.New(apperror.ErrInvalidState, "refund_target_invalid")
	ErrRefundExceedsOriginal = apperror.New(apperror.ErrInvalidState, "refund_exceeds_original")
	ErrIdempotencyConflict   = apperror.New(apperror.ErrInvalidState, "idempotency_key_conflict")
)
