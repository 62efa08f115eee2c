package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/talkinghead-backend/internal/platform/gcp"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

func TestClassifyStorageProviderBootstrapError(t *testing.T) {
	cases := map[gcp.ObjectStorageConfigErrorCode]StorageProviderBootstrapErrorCode{
		gcp.ObjectStorageConfigErrorInvalidMode:         StorageProviderBootstrapErrorInvalidMode,
		gcp.ObjectStorageConfigErrorMissingEmulatorHost: StorageProviderBootstrapErrorMissingEmulatorHost,
		gcp.ObjectStorageConfigErrorInvalidEmulatorHost: StorageProviderBootstrapErrorInvalidEmulatorHost,
	}
	storageCfg := gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCSEmulator, EmulatorHost: "fake-gcs:4443"}
	for src, want := range cases {
		err := classifyStorageProviderBootstrapError(storageCfg, &gcp.ObjectStorageConfigError{Code: src})
		var got *StorageProviderBootstrapError
		require.True(t, errors.As(err, &got))
		assert.Equal(t, want, got.Code, string(src))
		assert.Equal(t, "fake-gcs:4443", got.EmulatorHost)
	}

	err := classifyStorageProviderBootstrapError(gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCS}, errors.New("dial tcp: refused"))
	assert.Equal(t, StorageProviderBootstrapErrorConnectFailed, storageProviderBootstrapErrorCode(err))
	assert.Contains(t, err.Error(), "dial tcp: refused")
}

func TestResolveBucketServiceWrapsConnectFailure(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "gcs")
	t.Setenv("STORAGE_EMULATOR_HOST", "")

	orig := newBucketServiceWithConfig
	t.Cleanup(func() { newBucketServiceWithConfig = orig })
	newBucketServiceWithConfig = func(*logger.Logger, gcp.ObjectStorageConfig) (gcp.BucketService, error) {
		return nil, errors.New("no credentials")
	}

	_, err := ResolveBucketService(logger.NewNop())
	require.Error(t, err)
	assert.Equal(t, StorageProviderBootstrapErrorConnectFailed, storageProviderBootstrapErrorCode(err))
}

func TestResolveBucketServiceRejectsBadMode(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "s3")

	_, err := ResolveBucketService(logger.NewNop())
	require.Error(t, err)
	assert.Equal(t, StorageProviderBootstrapErrorInvalidMode, storageProviderBootstrapErrorCode(err))
}
