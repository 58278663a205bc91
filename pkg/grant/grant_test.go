package grant

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetgate/pkg/storage"
)

var (
	_ Minter = (*S3Presigner)(nil)
	_ Minter = (*StaticMinter)(nil)
)

func newOfflinePresigner(t *testing.T) *S3Presigner {
	t.Helper()
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
		BaseEndpoint: aws.String("http://localhost:9000"),
		UsePathStyle: true,
	})
	return NewS3PresignerFromClient(client, "assets")
}

func TestS3Presigner_MintGrant(t *testing.T) {
	p := newOfflinePresigner(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	grant, err := p.MintGrant(context.Background(), "models/helmet.glb", 5*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(grant.URL)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/assets/models/helmet.glb", u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, now.Add(5*time.Minute), grant.ExpiresAt)
}

func TestS3Presigner_ClampsTTL(t *testing.T) {
	p := newOfflinePresigner(t)

	grant, err := p.MintGrant(context.Background(), "/models/a.glb", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Contains(t, grant.URL, "X-Amz-Expires=604800")
	assert.Contains(t, grant.URL, "/assets/models/a.glb")
}

func TestS3Presigner_Validation(t *testing.T) {
	p := newOfflinePresigner(t)

	_, err := p.MintGrant(context.Background(), "", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidHandle)

	_, err = p.MintGrant(context.Background(), "a.glb", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestNewS3Presigner(t *testing.T) {
	cfg := storage.DefaultConfig()
	_, err := NewS3Presigner(context.Background(), cfg)
	assert.Error(t, err, "bucket is required")

	cfg.S3Bucket = "assets"
	cfg.S3Endpoint = "http://localhost:9000"
	cfg.S3UsePathStyle = true
	cfg.S3AccessKey = "minio"
	cfg.S3SecretKey = "minio123"

	p, err := NewS3Presigner(context.Background(), cfg)
	require.NoError(t, err)

	grant, err := p.MintGrant(context.Background(), "presets/p1.json", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(grant.URL, "http://localhost:9000/assets/presets/p1.json?"))
}

func TestStaticMinter(t *testing.T) {
	m, err := NewStaticMinter("https://cdn.example.com/assets")
	require.NoError(t, err)
	now := time.Unix(1700000000, 0)
	m.now = func() time.Time { return now }

	grant, err := m.MintGrant(context.Background(), "/parts/robot head.glb", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/assets/parts/robot%20head.glb?expires=1700000060", grant.URL)
	assert.Equal(t, now.Add(time.Minute), grant.ExpiresAt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.MintGrant(ctx, "a.glb", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewStaticMinter("not-a-url")
	assert.Error(t, err)
}
