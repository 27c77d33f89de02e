package stores

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
)

type stubStoreRepo struct {
	store   *models.Store
	err     error
	updated *string
}

func (s *stubStoreRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.store == nil || s.store.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return s.store, nil
}

func (s *stubStoreRepo) UpdateWebhookSecret(ctx context.Context, id uuid.UUID, sealed *string) error {
	if s.store == nil || s.store.ID != id {
		return gorm.ErrRecordNotFound
	}
	s.updated = sealed
	s.store.WebhookSecret = sealed
	return nil
}

type reverseCipher struct{ fail bool }

func (c reverseCipher) Encrypt(plaintext string) (string, error) {
	return "sealed:" + plaintext, nil
}

func (c reverseCipher) Decrypt(sealed string) (string, error) {
	if c.fail {
		return "", errors.New("bad ciphertext")
	}
	return strings.TrimPrefix(sealed, "sealed:"), nil
}

func baseStore() *models.Store {
	return &models.Store{ID: uuid.New(), Name: "Chai Co", Email: "ops@chai.test"}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(nil, reverseCipher{}); err == nil {
		t.Fatal("expected error without repo")
	}
	if _, err := NewService(&stubStoreRepo{}, nil); err == nil {
		t.Fatal("expected error without cipher")
	}
}

func TestMerchantWebhookSecretRoundTrip(t *testing.T) {
	store := baseStore()
	repo := &stubStoreRepo{store: store}
	svc, err := NewService(repo, reverseCipher{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	secret, err := svc.MerchantWebhookSecret(context.Background(), store.ID)
	if err != nil || secret != "" {
		t.Fatalf("expected empty secret, got %q err=%v", secret, err)
	}

	if err := svc.SetWebhookSecret(context.Background(), store.ID, " whsec_merchant "); err != nil {
		t.Fatalf("set secret: %v", err)
	}
	if repo.updated == nil || *repo.updated != "sealed:whsec_merchant" {
		t.Fatalf("expected sealed secret persisted, got %v", repo.updated)
	}

	secret, err = svc.MerchantWebhookSecret(context.Background(), store.ID)
	if err != nil {
		t.Fatalf("get secret: %v", err)
	}
	if secret != "whsec_merchant" {
		t.Fatalf("expected decrypted secret, got %q", secret)
	}

	dto, err := svc.GetByID(context.Background(), store.ID)
	if err != nil {
		t.Fatalf("get store: %v", err)
	}
	if !dto.HasWebhookSecret {
		t.Fatal("expected has_webhook_secret true")
	}

	if err := svc.SetWebhookSecret(context.Background(), store.ID, ""); err != nil {
		t.Fatalf("clear secret: %v", err)
	}
	if repo.updated != nil {
		t.Fatal("expected secret cleared")
	}
}

func TestMerchantWebhookSecretUnknownStore(t *testing.T) {
	svc, _ := NewService(&stubStoreRepo{}, reverseCipher{})
	secret, err := svc.MerchantWebhookSecret(context.Background(), uuid.New())
	if err != nil || secret != "" {
		t.Fatalf("expected empty secret for unknown store, got %q err=%v", secret, err)
	}
}

func TestMerchantWebhookSecretDecryptFailure(t *testing.T) {
	store := baseStore()
	sealed := "sealed:whsec_x"
	store.WebhookSecret = &sealed
	svc, _ := NewService(&stubStoreRepo{store: store}, reverseCipher{fail: true})

	if _, err := svc.MerchantWebhookSecret(context.Background(), store.ID); pkgerrors.CodeOf(err) != pkgerrors.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestSetWebhookSecretValidation(t *testing.T) {
	store := baseStore()
	svc, _ := NewService(&stubStoreRepo{store: store}, reverseCipher{})

	if err := svc.SetWebhookSecret(context.Background(), store.ID, "plain"); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := svc.SetWebhookSecret(context.Background(), uuid.New(), "whsec_a"); pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	svc, _ := NewService(&stubStoreRepo{}, reverseCipher{})
	if _, err := svc.GetByID(context.Background(), uuid.New()); pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
