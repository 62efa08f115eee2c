package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/talkinghead-backend/internal/credits"
	"github.com/yungbote/talkinghead-backend/internal/data/repos"
	"github.com/yungbote/talkinghead-backend/internal/platform/dbctx"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

type CreditService interface {
	// Balance opens the account with the configured starting balance on first use.
	Balance(ctx context.Context, userID uuid.UUID) (credits.Amount, error)
	Grant(ctx context.Context, userID uuid.UUID, amount credits.Amount) error
}

type creditService struct {
	log     *logger.Logger
	credits repos.CreditRepo
	initial credits.Amount
}

func NewCreditService(log *logger.Logger, creditRepo repos.CreditRepo, initial credits.Amount) CreditService {
	return &creditService{
		log:     log.With("service", "CreditService"),
		credits: creditRepo,
		initial: initial,
	}
}

func (s *creditService) Balance(ctx context.Context, userID uuid.UUID) (credits.Amount, error) {
	acct, err := s.credits.GetOrCreate(dbctx.Of(ctx), userID, int64(s.initial))
	if err != nil {
		return 0, err
	}
	return credits.Amount(acct.Balance), nil
}

func (s *creditService) Grant(ctx context.Context, userID uuid.UUID, amount credits.Amount) error {
	return s.credits.Grant(dbctx.Of(ctx), userID, int64(amount))
}
