package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
)

// SeedPipeline inserts a pipeline with one empty slot per stage of its type.
func SeedPipeline(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID, typ types.PipelineType) *types.Pipeline {
	tb.Helper()
	p := &types.Pipeline{
		OwnerUserID:   ownerUserID,
		ProjectID:     uuid.New(),
		Name:          "Untitled",
		DisplayStatus: types.DisplayStatusBacklog,
		PipelineType:  typ,
		CurrentStage:  typ.Stages()[0],
		Status:        types.PipelineStatusDraft,
	}
	if err := tx.WithContext(ctx).Omit("Stages").Create(p).Error; err != nil {
		tb.Fatalf("seed pipeline: %v", err)
	}
	for _, key := range typ.Stages() {
		s := &types.PipelineStage{PipelineID: p.ID, StageKey: key}
		if err := tx.WithContext(ctx).Create(s).Error; err != nil {
			tb.Fatalf("seed stage %s: %v", key, err)
		}
		p.Stages = append(p.Stages, s)
	}
	return p
}

func SeedCredits(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, balance int64) *types.CreditAccount {
	tb.Helper()
	acct := &types.CreditAccount{UserID: userID, Balance: balance}
	if err := tx.WithContext(ctx).Create(acct).Error; err != nil {
		tb.Fatalf("seed credits: %v", err)
	}
	return acct
}
