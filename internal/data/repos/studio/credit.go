package studio

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/platform/dbctx"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

type CreditRepo interface {
	// GetOrCreate returns the account, opening it with initialBalance on first use.
	GetOrCreate(dbc dbctx.Context, userID uuid.UUID, initialBalance int64) (*types.CreditAccount, error)
	// Debit subtracts amount only if the balance covers it. Reports whether it did.
	Debit(dbc dbctx.Context, userID uuid.UUID, amount int64) (bool, error)
	Grant(dbc dbctx.Context, userID uuid.UUID, amount int64) error
}

type creditRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCreditRepo(db *gorm.DB, baseLog *logger.Logger) CreditRepo {
	return &creditRepo{
		db:  db,
		log: baseLog.With("repo", "CreditRepo"),
	}
}

func (r *creditRepo) GetOrCreate(dbc dbctx.Context, userID uuid.UUID, initialBalance int64) (*types.CreditAccount, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	acct := types.CreditAccount{}
	if err := transaction.WithContext(dbc.Ctx).
		Where(types.CreditAccount{UserID: userID}).
		Attrs(types.CreditAccount{Balance: initialBalance}).
		FirstOrCreate(&acct).Error; err != nil {
		return nil, mapError("get credit account", err)
	}
	return &acct, nil
}

func (r *creditRepo) Debit(dbc dbctx.Context, userID uuid.UUID, amount int64) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if amount <= 0 {
		return true, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.CreditAccount{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, mapError("debit credits", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *creditRepo) Grant(dbc dbctx.Context, userID uuid.UUID, amount int64) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if amount <= 0 {
		return nil
	}
	if _, err := r.GetOrCreate(dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}, userID, 0); err != nil {
		return err
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.CreditAccount{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now(),
		})
	return mapError("grant credits", res.Error)
}
