package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"dice-duel/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver stores terminal session records.
type Archiver interface {
	Archive(ctx context.Context, rec models.SessionRecord) error
}

// ObjectPutter is the slice of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes records as JSON objects under prefix/YYYY/MM/<id>.json.
type S3Archiver struct {
	Client ObjectPutter
	Bucket string
	Prefix string
}

func ArchiveKey(prefix string, rec models.SessionRecord) string {
	at := rec.CreatedAt.UTC()
	return path.Join(prefix, fmt.Sprintf("%04d", at.Year()), fmt.Sprintf("%02d", int(at.Month())), rec.ID+".json")
}

func (a *S3Archiver) Archive(ctx context.Context, rec models.SessionRecord) error {
	// tokens are useless once the session is over
	rec.ContinuityTokens = map[string]models.TokenRecord{}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	key := ArchiveKey(a.Prefix, rec)
	_, err = a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

type noopArchiver struct{}

func (noopArchiver) Archive(context.Context, models.SessionRecord) error { return nil }
