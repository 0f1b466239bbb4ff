package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/apperror"
	"github.com/smallbiznis/stitchery/internal/clock"
	ledgerdomain "github.com/smallbiznis/stitchery/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/stitchery/internal/observability/metrics"
	pkgdb "github.com/smallbiznis/stitchery/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxListLimit = 200

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       ledgerdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      clk,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) WithTx(tx *gorm.DB) ledgerdomain.Service {
	clone := *s
	clone.db = tx
	return &clone
}

func (s *Service) EnsureAccount(ctx context.Context, userID snowflake.ID) (*ledgerdomain.Account, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	now := s.clock.Now()
	if err := s.repo.EnsureAccount(ctx, s.db, &ledgerdomain.Account{UserID: userID, CreatedAt: now, UpdatedAt: now}); err != nil {
		return nil, err
	}
	return s.repo.FindAccount(ctx, s.db, userID)
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, ledgerdomain.ErrInvalidUser
	}
	account, err := s.repo.FindAccount(ctx, s.db, userID)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, nil
	}
	return account.Balance, nil
}

func (s *Service) Credit(ctx context.Context, req ledgerdomain.PostingRequest) (*ledgerdomain.Posting, error) {
	if err := validatePosting(req); err != nil {
		return nil, err
	}
	if req.Kind.Direction() != ledgerdomain.DirectionCredit || req.Kind.IsRefund() {
		return nil, ledgerdomain.ErrInvalidKind
	}
	return s.post(ctx, entry{
		userID:         req.UserID,
		kind:           req.Kind,
		delta:          req.Amount,
		description:    req.Description,
		referenceType:  req.ReferenceType,
		referenceID:    req.ReferenceID,
		idempotencyKey: req.IdempotencyKey,
	})
}

func (s *Service) Debit(ctx context.Context, req ledgerdomain.PostingRequest) (*ledgerdomain.Posting, error) {
	if err := validatePosting(req); err != nil {
		return nil, err
	}
	if req.Kind.Direction() != ledgerdomain.DirectionDebit {
		return nil, ledgerdomain.ErrInvalidKind
	}
	return s.post(ctx, entry{
		userID:         req.UserID,
		kind:           req.Kind,
		delta:          -req.Amount,
		description:    req.Description,
		referenceType:  req.ReferenceType,
		referenceID:    req.ReferenceID,
		idempotencyKey: req.IdempotencyKey,
	})
}

func (s *Service) Refund(ctx context.Context, req ledgerdomain.RefundRequest) (*ledgerdomain.Posting, error) {
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if !req.Kind.IsRefund() {
		return nil, ledgerdomain.ErrInvalidKind
	}
	if req.TransactionID == 0 {
		return nil, ledgerdomain.ErrTransactionNotFound
	}

	return s.post(ctx, entry{
		userID:         req.UserID,
		kind:           req.Kind,
		delta:          req.Amount,
		referenceType:  req.ReferenceType,
		referenceID:    req.ReferenceID,
		idempotencyKey: req.IdempotencyKey,
		refundOf:       req.TransactionID,
		note:           req.Note,
	})
}

func (s *Service) ListTransactions(ctx context.Context, req ledgerdomain.ListTransactionsRequest) ([]ledgerdomain.Transaction, error) {
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if req.Kind != "" && !req.Kind.Valid() {
		return nil, ledgerdomain.ErrInvalidKind
	}
	if req.Limit <= 0 || req.Limit > maxListLimit {
		req.Limit = maxListLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	return s.repo.ListTransactions(ctx, s.db, req)
}

func (s *Service) Reconcile(ctx context.Context, userID snowflake.ID) (*ledgerdomain.Reconciliation, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum, count, err := s.repo.SumTransactions(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	return &ledgerdomain.Reconciliation{
		UserID:           userID,
		Balance:          balance,
		TransactionSum:   sum,
		TransactionCount: count,
		Balanced:         balance == sum,
	}, nil
}

func (s *Service) ListAccountIDs(ctx context.Context, after snowflake.ID, limit int) ([]snowflake.ID, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListAccountIDs(ctx, s.db, after, limit)
}

type entry struct {
	userID         snowflake.ID
	kind           ledgerdomain.TransactionKind
	delta          int64
	description    string
	referenceType  string
	referenceID    *snowflake.ID
	idempotencyKey string
	refundOf       snowflake.ID
	note           string
}

var errKeyRace = errors.New("idempotency key inserted concurrently")

// post applies one balance change and its transaction row atomically.
// When the ledger is bound to an outer transaction the work runs in a savepoint.
func (s *Service) post(ctx context.Context, e entry) (*ledgerdomain.Posting, error) {
	var posting *ledgerdomain.Posting
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if e.idempotencyKey != "" {
			replayed, err := s.replay(ctx, tx, e)
			if err != nil {
				return err
			}
			if replayed != nil {
				posting = replayed
				return nil
			}
		}

		now := s.clock.Now()
		if err := s.repo.EnsureAccount(ctx, tx, &ledgerdomain.Account{UserID: e.userID, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		account, err := s.repo.LockAccount(ctx, tx, e.userID)
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("token account %s vanished", e.userID)
		}

		if e.refundOf != 0 {
			description, err := s.checkRefund(ctx, tx, e)
			if err != nil {
				return err
			}
			e.description = description
		}

		if account.Balance+e.delta < 0 {
			return apperror.InsufficientFunds(-e.delta, account.Balance)
		}

		applied, err := s.repo.ApplyDelta(ctx, tx, e.userID, e.delta, now)
		if err != nil {
			return err
		}
		if !applied {
			current, err := s.repo.FindAccount(ctx, tx, e.userID)
			if err != nil {
				return err
			}
			available := int64(0)
			if current != nil {
				available = current.Balance
			}
			return apperror.InsufficientFunds(-e.delta, available)
		}

		txn := ledgerdomain.Transaction{
			ID:            s.genID.Generate(),
			UserID:        e.userID,
			Kind:          e.kind,
			Amount:        e.delta,
			BalanceAfter:  account.Balance + e.delta,
			Description:   strings.TrimSpace(e.description),
			ReferenceType: strings.TrimSpace(e.referenceType),
			ReferenceID:   e.referenceID,
			CreatedAt:     now,
		}
		if e.refundOf != 0 {
			refundOf := e.refundOf
			txn.RefundOf = &refundOf
		}
		if e.idempotencyKey != "" {
			key := e.idempotencyKey
			txn.IdempotencyKey = &key
		}

		if err := s.repo.InsertTransaction(ctx, tx, &txn); err != nil {
			if e.idempotencyKey != "" && pkgdb.IsDuplicateKeyErr(err) {
				return errKeyRace
			}
			return err
		}

		posting = &ledgerdomain.Posting{Transaction: txn, Balance: txn.BalanceAfter}
		return nil
	})
	if errors.Is(err, errKeyRace) {
		return s.replayAfterRace(ctx, e)
	}
	if err != nil {
		return nil, err
	}

	if !posting.Replayed {
		s.obsMetrics.RecordLedgerPosting(ctx, string(e.kind), string(e.kind.Direction()))
		s.log.Info("ledger posting",
			zap.String("user_id", e.userID.String()),
			zap.String("kind", string(e.kind)),
			zap.Int64("amount", e.delta),
			zap.Int64("balance", posting.Balance),
			zap.String("transaction_id", posting.Transaction.ID.String()),
		)
	}
	return posting, nil
}

func (s *Service) replay(ctx context.Context, tx *gorm.DB, e entry) (*ledgerdomain.Posting, error) {
	existing, err := s.repo.FindTransactionByKey(ctx, tx, e.idempotencyKey)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.UserID != e.userID || existing.Kind != e.kind || existing.Amount != e.delta {
		return nil, ledgerdomain.ErrIdempotencyConflict.WithDetails(map[string]any{
			"idempotency_key": e.idempotencyKey,
		})
	}
	account, err := s.repo.FindAccount(ctx, tx, e.userID)
	if err != nil {
		return nil, err
	}
	balance := existing.BalanceAfter
	if account != nil {
		balance = account.Balance
	}
	return &ledgerdomain.Posting{Transaction: *existing, Balance: balance, Replayed: true}, nil
}

func (s *Service) replayAfterRace(ctx context.Context, e entry) (*ledgerdomain.Posting, error) {
	posting, err := s.replay(ctx, s.db.WithContext(ctx), e)
	if err != nil {
		return nil, err
	}
	if posting == nil {
		return nil, fmt.Errorf("idempotency key %q conflicted but no posting found", e.idempotencyKey)
	}
	return posting, nil
}

// checkRefund validates the reversed debit and derives the refund description from it.
func (s *Service) checkRefund(ctx context.Context, tx *gorm.DB, e entry) (string, error) {
	original, err := s.repo.FindTransaction(ctx, tx, e.refundOf)
	if err != nil {
		return "", err
	}
	if original == nil || original.UserID != e.userID {
		return "", ledgerdomain.ErrTransactionNotFound
	}
	if original.Amount >= 0 || !e.kind.Reverses(original.Kind) {
		return "", ledgerdomain.ErrRefundTargetInvalid.WithDetails(map[string]any{
			"transaction_id": original.ID.String(),
			"kind":           string(original.Kind),
		})
	}

	refunded, err := s.repo.SumRefunds(ctx, tx, original.ID)
	if err != nil {
		return "", err
	}
	remaining := -original.Amount - refunded
	if e.delta > remaining {
		return "", ledgerdomain.ErrRefundExceedsOriginal.WithDetails(map[string]any{
			"transaction_id": original.ID.String(),
			"requested":      e.delta,
			"refundable":     remaining,
		})
	}

	description := "refund: " + original.Description
	if note := strings.TrimSpace(e.note); note != "" {
		description += " (" + note + ")"
	}
	return description, nil
}

func validatePosting(req ledgerdomain.PostingRequest) error {
	if req.UserID == 0 {
		return ledgerdomain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	if !req.Kind.Valid() {
		return ledgerdomain.ErrInvalidKind
	}
	return nil
}
