// internal/storage/s3.go
package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"bizmatch/internal/config"
)

// ErrNotConfigured is returned by NewS3Service when no bucket is set.
var ErrNotConfigured = errors.New("s3 storage is not configured")

type S3Service struct {
	client        *s3.Client
	uploader      *manager.Uploader
	downloader    *manager.Downloader
	bucket        string
	region        string
	encryptionKey []byte // 32-byte AES-256 key, nil disables client-side encryption
}

type UploadResult struct {
	S3Key      string
	S3Bucket   string
	FileHash   string // SHA-256 hash of original file
	FileSize   int64
	MimeType   string
	UploadedAt time.Time
}

type DownloadResult struct {
	Data     []byte
	FileHash string
	FileSize int64
	MimeType string
}

// NewS3Service creates a new S3 service instance with MinIO support
func NewS3Service(ctx context.Context, cfg config.S3) (*S3Service, error) {
	if cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}

	encryptionKey, err := parseEncryptionKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true // MinIO requires path-style addressing
		}
	})

	return &S3Service{
		client:        client,
		uploader:      manager.NewUploader(client),
		downloader:    manager.NewDownloader(client),
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		encryptionKey: encryptionKey,
	}, nil
}

func parseEncryptionKey(keyHex string) ([]byte, error) {
	if keyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key format: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (64 hex characters)")
	}
	return key, nil
}

// InvoiceKey is the object key of an invoice document.
func InvoiceKey(invoiceID string) string {
	return fmt.Sprintf("invoices/%s.pdf", invoiceID)
}

// RevisionKey is the object key of a re-issued invoice document. Each
// revision gets its own key so the previous one stays readable until the
// new one is committed.
func RevisionKey(invoiceID, revision string) string {
	return fmt.Sprintf("invoices/%s-%s.pdf", invoiceID, revision)
}

func (s *S3Service) Scheme() string { return "s3" }

// Put stores a PDF under key and returns its s3:// reference.
func (s *S3Service) Put(ctx context.Context, key string, data []byte) (string, error) {
	res, err := s.UploadInvoice(ctx, key, data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", res.S3Bucket, res.S3Key), nil
}

func (s *S3Service) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := s.DownloadFile(ctx, key)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (s *S3Service) Delete(ctx context.Context, key string) error {
	return s.DeleteFile(ctx, key)
}

// UploadInvoice uploads a generated invoice PDF, encrypting it when a key is configured
func (s *S3Service) UploadInvoice(ctx context.Context, s3Key string, data []byte) (*UploadResult, error) {
	hash := sha256.Sum256(data)
	fileHash := hex.EncodeToString(hash[:])

	body := data
	encrypted := "false"
	if s.encryptionKey != nil {
		var err error
		body, err = encryptData(s.encryptionKey, data)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt invoice: %w", err)
		}
		encrypted = "true"
	}

	uploadInput := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/pdf"),
		Metadata: map[string]string{
			"document-hash": fileHash,
			"encrypted":     encrypted,
			"document-type": "invoice",
		},
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	}

	if _, err := s.uploader.Upload(ctx, uploadInput); err != nil {
		return nil, fmt.Errorf("failed to upload invoice to S3: %w", err)
	}

	return &UploadResult{
		S3Key:      s3Key,
		S3Bucket:   s.bucket,
		FileHash:   fileHash,
		FileSize:   int64(len(data)),
		MimeType:   "application/pdf",
		UploadedAt: time.Now().UTC(),
	}, nil
}

// DownloadFile downloads and decrypts a file from S3
func (s *S3Service) DownloadFile(ctx context.Context, s3Key string) (*DownloadResult, error) {
	buf := manager.NewWriteAtBuffer([]byte{})

	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s3Key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%s: %w", s3Key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}

	data := buf.Bytes()
	if s.encryptionKey != nil {
		data, err = decryptData(s.encryptionKey, data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt file: %w", err)
		}
	}

	hash := sha256.Sum256(data)
	return &DownloadResult{
		Data:     data,
		FileHash: hex.EncodeToString(hash[:]),
		FileSize: int64(len(data)),
		MimeType: "application/pdf",
	}, nil
}

// GeneratePresignedURL generates a presigned URL for temporary access (for previews, etc.)
func (s *S3Service) GeneratePresignedURL(ctx context.Context, s3Key string, expiration time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)

	request, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s3Key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiration
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return request.URL, nil
}

// DeleteFile deletes a file from S3
func (s *S3Service) DeleteFile(ctx context.Context, s3Key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s3Key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}
	return nil
}

// CheckFileExists checks if a file exists in S3
func (s *S3Service) CheckFileExists(ctx context.Context, s3Key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s3Key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// encryptData encrypts data using AES-256-GCM
func encryptData(key, data []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

// decryptData decrypts data using AES-256-GCM
func decryptData(key, encryptedData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(encryptedData) < nonceSize {
		return nil, fmt.Errorf("encrypted data too short")
	}

	nonce, ciphertext := encryptedData[:nonceSize], encryptedData[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// ValidateFileIntegrity validates a file against its stored hash
func ValidateFileIntegrity(data []byte, expectedHash string) error {
	hash := sha256.Sum256(data)
	actualHash := hex.EncodeToString(hash[:])

	if actualHash != expectedHash {
		return fmt.Errorf("file integrity check failed: expected %s, got %s", expectedHash, actualHash)
	}
	return nil
}
