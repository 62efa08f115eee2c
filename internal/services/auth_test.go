package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/talkinghead-backend/internal/data/repos/testutil"
	"github.com/yungbote/talkinghead-backend/internal/platform/ctxutil"
)

func TestAuthServiceAcceptsIssuedToken(t *testing.T) {
	as, err := NewAuthService(testutil.Logger(t), "s3cret", "")
	require.NoError(t, err)
	user, session := uuid.New(), uuid.New()
	tok, err := IssueToken("s3cret", user, session, time.Minute)
	require.NoError(t, err)

	ctx, err := as.SetContextFromToken(context.Background(), tok)
	require.NoError(t, err)
	rd := ctxutil.GetRequestData(ctx)
	require.NotNil(t, rd)
	assert.Equal(t, user, rd.UserID)
	assert.Equal(t, session, rd.SessionID)
}

func TestAuthServiceDerivesSessionWithoutSid(t *testing.T) {
	as, err := NewAuthService(testutil.Logger(t), "s3cret", "")
	require.NoError(t, err)
	tok, err := IssueToken("s3cret", uuid.New(), uuid.Nil, time.Minute)
	require.NoError(t, err)

	a, err := as.SetContextFromToken(context.Background(), tok)
	require.NoError(t, err)
	b, err := as.SetContextFromToken(context.Background(), tok)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, ctxutil.GetRequestData(a).SessionID)
	assert.Equal(t, ctxutil.GetRequestData(a).SessionID, ctxutil.GetRequestData(b).SessionID)
}

func TestAuthServiceRejects(t *testing.T) {
	as, err := NewAuthService(testutil.Logger(t), "s3cret", "")
	require.NoError(t, err)
	ctx := context.Background()

	wrongKey, err := IssueToken("other", uuid.New(), uuid.Nil, time.Minute)
	require.NoError(t, err)
	_, err = as.SetContextFromToken(ctx, wrongKey)
	assert.Error(t, err)

	expired, err := IssueToken("s3cret", uuid.New(), uuid.Nil, -time.Hour)
	require.NoError(t, err)
	_, err = as.SetContextFromToken(ctx, expired)
	assert.Error(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: uuid.NewString()}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = as.SetContextFromToken(ctx, noExp)
	assert.Error(t, err)

	badSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = as.SetContextFromToken(ctx, badSub)
	assert.Error(t, err)

	_, err = NewAuthService(testutil.Logger(t), "", "")
	assert.Error(t, err)
}
