package studio

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/talkinghead-backend/internal/data/repos/testutil"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/platform/dbctx"
)

func TestTagRepoCreateConflictAndDelete(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewTagRepo(db, testutil.Logger(t))
	owner := uuid.New()

	a, err := repo.Create(dbc, &types.Tag{OwnerUserID: owner, Name: "Client Work", Color: "#ff0000"})
	require.NoError(t, err)

	_, err = repo.Create(dbc, &types.Tag{OwnerUserID: owner, Name: "client   work", Color: "#00ff00"})
	assert.True(t, errors.Is(err, ErrConflict), "want ErrConflict, got %v", err)

	_, err = repo.Create(dbc, &types.Tag{OwnerUserID: uuid.New(), Name: "Client Work", Color: "#00ff00"})
	require.NoError(t, err, "same name under another owner is fine")

	b, err := repo.Create(dbc, &types.Tag{OwnerUserID: owner, Name: "Ads", Color: "#0000ff"})
	require.NoError(t, err)

	list, err := repo.ListByOwner(dbc, owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Ads", list[0].Name)

	got, err := repo.GetByIDs(dbc, owner, []uuid.UUID{a.ID, b.ID, uuid.New()})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, repo.Delete(dbc, owner, a.ID))
	assert.True(t, errors.Is(repo.Delete(dbc, owner, a.ID), ErrNotFound))
}
