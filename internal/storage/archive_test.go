package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offcut-ledger-backend/internal/config"
)

func TestNewSourceArchiveDisabledWithoutEndpoint(t *testing.T) {
	a, err := NewSourceArchive(config.MinIOConfig{Bucket: "cutlists"})
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestNewSourceArchiveConfigured(t *testing.T) {
	a, err := NewSourceArchive(config.MinIOConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "cutlists",
	})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "cutlists", a.bucket)
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "cutlists/2024/03/tok/BO003643.txt", ObjectKey(at, "tok", "BO003643.txt"))
	assert.Equal(t, "cutlists/2024/03/tok/list.csv", ObjectKey(at, "tok", `C:\uploads\list.csv`))
	assert.Equal(t, "cutlists/2024/03/tok/list.csv", ObjectKey(at, "tok", "../../list.csv"))
}
