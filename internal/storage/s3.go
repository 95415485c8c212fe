package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/profile"
)

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Endpoint        string // e.g., "http://localhost:9000" for MinIO
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	Expiry          time.Duration // lifetime of presigned avatar URLs
}

// Presigner signs object keys into time-limited URLs
type Presigner interface {
	PresignAvatar(ctx context.Context, key string) (string, error)
}

// AvatarSigner presigns avatar objects stored in S3
type AvatarSigner struct {
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
}

// NewAvatarSigner creates a new S3 avatar signer
func NewAvatarSigner(cfg S3Config) *AvatarSigner {
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		UsePathStyle: true, // Required for MinIO
	})
	if cfg.Expiry == 0 {
		cfg.Expiry = time.Hour
	}

	return &AvatarSigner{
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		expiry:  cfg.Expiry,
	}
}

// PresignAvatar returns a GET URL for key valid for the configured expiry
func (s *AvatarSigner) PresignAvatar(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("presigning avatar: %w", err)
	}
	return req.URL, nil
}

// AvatarResolver turns stored avatar keys on resolved profiles into
// presigned URLs. Values that are already URLs are left alone.
type AvatarResolver struct {
	next   profile.Resolver
	signer Presigner
	logger *slog.Logger
}

var _ profile.Resolver = (*AvatarResolver)(nil)

// NewAvatarResolver wraps next
func NewAvatarResolver(next profile.Resolver, signer Presigner, logger *slog.Logger) *AvatarResolver {
	return &AvatarResolver{next: next, signer: signer, logger: logger}
}

// Lookup resolves the profile and signs its avatar. A signing failure
// drops the avatar, never the profile.
func (r *AvatarResolver) Lookup(ctx context.Context, id string) (*entity.ProfileSummary, error) {
	p, err := r.next.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.AvatarURL == "" || isURL(p.AvatarURL) {
		return p, nil
	}

	out := *p
	url, err := r.signer.PresignAvatar(ctx, p.AvatarURL)
	if err != nil {
		r.logger.Warn("failed to sign avatar", "profile_id", id, "error", err)
		out.AvatarURL = ""
		return &out, nil
	}
	out.AvatarURL = url
	return &out, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
