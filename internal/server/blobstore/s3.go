package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/filex"
	"github.com/Fides-Storage/Server-sub000/internal/server/transfer"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// S3Config describes an S3-compatible bucket used as blob storage.
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
	// StagingDir is a local directory for uploads in flight. Content is
	// only sent to the bucket once the quota-checked copy has completed.
	StagingDir string
	ChunkSize  int
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Store keeps blobs as objects <prefix>blobs/<id>.
type S3Store struct {
	client     *s3.Client
	bucket     string
	prefix     string
	stagingDir string
	chunkSize  int
}

var _ Store = (*S3Store)(nil)

func NewS3Store(ctx context.Context, c S3Config) (*S3Store, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")),
		config.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
		config.WithResponseChecksumValidation(aws.ResponseChecksumValidationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("blobstore: aws config: %w", err)
	}
	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	stagingDir, err := filex.EnsureDir(c.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("blobstore: %w", err)
	}
	return &S3Store{
		client:     client,
		bucket:     c.Bucket,
		prefix:     c.Prefix,
		stagingDir: stagingDir,
		chunkSize:  c.ChunkSize,
	}, nil
}

func (s *S3Store) key(id string) string {
	return s.prefix + "blobs/" + id
}

func (s *S3Store) backupKey(id string) string {
	return s.prefix + "backup/" + id + "-" + uuid.NewString()
}

func (s *S3Store) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("blobstore: head %s: %w", key, err)
	}
	return out, nil
}

func (s *S3Store) Allocate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		id := newID()
		if err := ValidateID(id); err != nil {
			return "", err
		}
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        &s.bucket,
			Key:           aws.String(s.key(id)),
			Body:          bytes.NewReader(nil),
			ContentLength: aws.Int64(0),
			IfNoneMatch:   aws.String("*"),
		})
		if isPreconditionFailed(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("blobstore: allocate: %w", err)
		}
		return id, nil
	}
	return "", common.ErrorIdentifierExhausted
}

func (s *S3Store) Exists(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	_, err := s.head(ctx, s.key(id))
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3Store) Size(ctx context.Context, id string) (int64, error) {
	if err := ValidateID(id); err != nil {
		return 0, err
	}
	out, err := s.head(ctx, s.key(id))
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *S3Store) Stage(ctx context.Context, id string, src io.Reader, guard transfer.Guard) (Staged, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	tmp, n, err := stageLocal(ctx, s.stagingDir, id, src, guard, s.chunkSize)
	if err != nil {
		return nil, err
	}
	return &s3Staged{store: s, id: id, tmp: tmp, size: n}, nil
}

func (s *S3Store) Read(ctx context.Context, id string, w io.Writer) (int64, error) {
	if err := ValidateID(id); err != nil {
		return 0, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: aws.String(s.key(id))})
	if err != nil {
		if isNotFound(err) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("blobstore: get %s: %w", id, err)
	}
	defer out.Body.Close()
	chunk := s.chunkSize
	if chunk <= 0 {
		chunk = common.DefaultChunkSize
	}
	n, err := io.CopyBuffer(w, struct{ io.Reader }{out.Body}, make([]byte, chunk))
	if err != nil {
		return n, fmt.Errorf("blobstore: read %s: %w", id, err)
	}
	return n, nil
}

func (s *S3Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	if _, err := s.head(ctx, s.key(id)); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.deleteKey(ctx, s.key(id)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3Store) deleteKey(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: aws.String(key)})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("blobstore: delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) copyKey(ctx context.Context, from, to string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &s.bucket,
		Key:        aws.String(to),
		CopySource: aws.String(s.bucket + "/" + from),
	})
	if err != nil {
		return fmt.Errorf("blobstore: copy %s to %s: %w", from, to, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context) ([]Info, error) {
	prefix := s.prefix + "blobs/"
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: aws.String(prefix),
	})
	var out []Info
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("blobstore: list: %w", err)
		}
		for _, obj := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if ValidateID(id) != nil {
				continue
			}
			out = append(out, Info{ID: id, Size: aws.ToInt64(obj.Size), ModTime: aws.ToTime(obj.LastModified)})
		}
	}
	return out, nil
}

// CleanStaging removes local staging files and <prefix>backup/ objects
// older than cutoff.
func (s *S3Store) CleanStaging(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := cleanStagingDir(ctx, s.stagingDir, cutoff)
	if err != nil {
		return n, err
	}
	m, err := s.cleanBackups(ctx, cutoff)
	return n + m, err
}

func (s *S3Store) cleanBackups(ctx context.Context, cutoff time.Time) (int, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: aws.String(s.prefix + "backup/"),
	})
	removed := 0
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("blobstore: list backups: %w", err)
		}
		for _, obj := range page.Contents {
			if !aws.ToTime(obj.LastModified).Before(cutoff) {
				continue
			}
			if err := s.deleteKey(ctx, aws.ToString(obj.Key)); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

type s3Staged struct {
	store *S3Store
	id    string
	tmp   string
	size  int64
}

func (st *s3Staged) Size() int64 { return st.size }

func (st *s3Staged) Publish(ctx context.Context) (Publication, error) {
	s := st.store
	key := s.key(st.id)

	backup := ""
	if _, err := s.head(ctx, key); err == nil {
		backup = s.backupKey(st.id)
		if err := s.copyKey(ctx, key, backup); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	f, err := os.Open(st.tmp)
	if err != nil {
		st.dropBackup(ctx, backup)
		return nil, fmt.Errorf("blobstore: publish %s: %w", st.id, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.size),
	})
	f.Close()
	if err != nil {
		st.dropBackup(ctx, backup)
		return nil, fmt.Errorf("blobstore: publish %s: %w", st.id, err)
	}
	_ = os.Remove(st.tmp)
	return &s3Publication{store: s, key: key, backup: backup}, nil
}

func (st *s3Staged) dropBackup(ctx context.Context, backup string) {
	if backup != "" {
		_ = st.store.deleteKey(ctx, backup)
	}
}

func (st *s3Staged) Discard() error {
	err := os.Remove(st.tmp)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type s3Publication struct {
	once   sync.Once
	store  *S3Store
	key    string
	backup string
}

func (p *s3Publication) Commit(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		if p.backup != "" {
			err = p.store.deleteKey(ctx, p.backup)
		}
	})
	return err
}

func (p *s3Publication) Revert(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		if p.backup == "" {
			err = p.store.deleteKey(ctx, p.key)
			return
		}
		if err = p.store.copyKey(ctx, p.backup, p.key); err == nil {
			err = p.store.deleteKey(ctx, p.backup)
		}
	})
	return err
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}
