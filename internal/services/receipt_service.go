package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dispatchly/internal/models"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const receiptBucket = "receipts"

// ReceiptService archives a receipt document per successful charge in object
// storage. Strictly best-effort from the orchestrator's point of view: the
// ledger history entry remains the source of truth.
type ReceiptService interface {
	StoreReceipt(ctx context.Context, entry *models.PaymentHistoryEntry, plan string) error
	ReceiptURL(tenantID, historyID uuid.UUID, expiry time.Duration) (string, error)
	EnsureBucket(ctx context.Context) error
}

type receiptService struct {
	client *minio.Client
}

func NewReceiptService(endpoint, accessKey, secretKey string, useSSL bool) (ReceiptService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}
	return &receiptService{client: client}, nil
}

func receiptObjectName(tenantID, historyID uuid.UUID) string {
	return fmt.Sprintf("%s/%s.json", tenantID.String(), historyID.String())
}

func (s *receiptService) StoreReceipt(ctx context.Context, entry *models.PaymentHistoryEntry, plan string) error {
	doc := map[string]interface{}{
		"receipt_id":         entry.ID.String(),
		"tenant_id":          entry.TenantID.String(),
		"plan":               plan,
		"amount_cents":       entry.AmountCents,
		"status":             entry.Status,
		"gateway_payment_id": entry.GatewayPaymentID,
		"description":        entry.Description,
		"issued_at":          time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, receiptBucket, receiptObjectName(entry.TenantID, entry.ID),
		bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

func (s *receiptService) ReceiptURL(tenantID, historyID uuid.UUID, expiry time.Duration) (string, error) {
	url, err := s.client.PresignedGetObject(context.Background(), receiptBucket, receiptObjectName(tenantID, historyID), expiry, nil)
	if err != nil {
		return "", err
	}
	return url.String(), nil
}

func (s *receiptService) EnsureBucket(ctx context.Context) error {
	found, err := s.client.BucketExists(ctx, receiptBucket)
	if err != nil {
		return err
	}
	if !found {
		return s.client.MakeBucket(ctx, receiptBucket, minio.MakeBucketOptions{})
	}
	return nil
}
