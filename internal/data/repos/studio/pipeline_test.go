package studio

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/talkinghead-backend/internal/data/repos/testutil"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/platform/dbctx"
)

func TestPipelineRepoCreateSeedsStageSlots(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewPipelineRepo(db, testutil.Logger(t))
	owner := uuid.New()

	p, err := repo.Create(dbctx.Context{Ctx: ctx}, &types.Pipeline{
		OwnerUserID:   owner,
		ProjectID:     uuid.New(),
		Name:          "Launch teaser",
		DisplayStatus: types.DisplayStatusBacklog,
		PipelineType:  types.PipelineTypeBroll,
		CurrentStage:  types.StageFirstFrame,
		Status:        types.PipelineStatusDraft,
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, p.ID)

	got, err := repo.GetByIDForOwner(dbctx.Context{Ctx: ctx}, owner, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Stages, 4)
	for _, key := range types.PipelineTypeBroll.Stages() {
		s := got.Stage(key)
		require.NotNil(t, s, "missing slot %s", key)
		assert.Equal(t, types.StageStatusIdle, s.Status)
		assert.False(t, s.Complete)
		assert.False(t, s.HasOutput())
	}
	assert.Empty(t, got.TagIDList())

	_, err = repo.GetByIDForOwner(dbctx.Context{Ctx: ctx}, uuid.New(), p.ID)
	assert.True(t, errors.Is(err, ErrNotFound), "want ErrNotFound, got %v", err)
}

func TestPipelineRepoUpdateFields(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewPipelineRepo(db, testutil.Logger(t))
	p := testutil.SeedPipeline(t, ctx, db, uuid.New(), types.PipelineTypeTalkingHead)

	tagID := uuid.New()
	require.NoError(t, repo.UpdateFields(dbctx.Context{Ctx: ctx}, p.ID, map[string]interface{}{
		"name":           "Renamed",
		"tag_ids":        types.EncodeTagIDs([]uuid.UUID{tagID}),
		"display_status": types.DisplayStatusReview,
	}))
	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, []uuid.UUID{tagID}, got.TagIDList())
	assert.Equal(t, types.DisplayStatusReview, got.DisplayStatus)

	err = repo.UpdateFields(dbctx.Context{Ctx: ctx}, uuid.New(), map[string]interface{}{"name": "x"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPipelineRepoListByOwner(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewPipelineRepo(db, testutil.Logger(t))
	owner := uuid.New()
	a := testutil.SeedPipeline(t, ctx, db, owner, types.PipelineTypeTalkingHead)
	testutil.SeedPipeline(t, ctx, db, owner, types.PipelineTypeBroll)
	testutil.SeedPipeline(t, ctx, db, uuid.New(), types.PipelineTypeBroll)

	all, err := repo.ListByOwner(dbctx.Context{Ctx: ctx}, owner, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := repo.ListByOwner(dbctx.Context{Ctx: ctx}, owner, &a.ProjectID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, a.ID, scoped[0].ID)
}

func TestStageRepoGuards(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewStageRepo(db, testutil.Logger(t))
	p := testutil.SeedPipeline(t, ctx, db, uuid.New(), types.PipelineTypeTalkingHead)
	dbc := dbctx.Context{Ctx: ctx}

	attempt := uuid.New()
	require.NoError(t, repo.UpdateFields(dbc, p.ID, types.StageVoice, map[string]interface{}{
		"status":     types.StageStatusProcessing,
		"attempt_id": attempt,
	}))

	ok, err := repo.UpdateFieldsUnlessStatus(dbc, p.ID, types.StageVoice,
		[]types.StageStatus{types.StageStatusQueued, types.StageStatusProcessing},
		map[string]interface{}{"input": datatypes.JSON([]byte(`{"text":"late"}`))})
	require.NoError(t, err)
	assert.False(t, ok, "input write must be refused while processing")

	ok, err = repo.UpdateFieldsIfAttempt(dbc, p.ID, types.StageVoice, uuid.New(), map[string]interface{}{"status": types.StageStatusCompleted})
	require.NoError(t, err)
	assert.False(t, ok, "stale attempt must not write")

	out := datatypes.JSON([]byte(`{"audio_url":"https://cdn/a.mp3"}`))
	ok, err = repo.UpdateFieldsIfAttempt(dbc, p.ID, types.StageVoice, attempt, map[string]interface{}{
		"status":   types.StageStatusCompleted,
		"output":   out,
		"complete": true,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.Get(dbc, p.ID, types.StageVoice)
	require.NoError(t, err)
	assert.True(t, got.Complete)
	assert.Equal(t, types.StageStatusCompleted, got.Status)
	assert.Equal(t, "https://cdn/a.mp3", got.OutputMap()["audio_url"])

	_, err = repo.Get(dbc, p.ID, types.StageFinalVideo)
	assert.True(t, errors.Is(err, ErrNotFound))
}
