// Package keyring resolves and rotates organization signing keys.
package keyring

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/arcturusdc/orbit/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const secretBytes = 32

// KeyRing hands out signing material by org and key ID. Retired keys stay resolvable.
type KeyRing struct {
	orgs   repositories.OrganizationRepository
	keys   repositories.SigningKeyRepository
	txMgr  repositories.TransactionManager
	cache  *KeyCache
	logger *zap.Logger
}

// NewKeyRing creates a new KeyRing. A nil cache disables caching.
func NewKeyRing(
	orgs repositories.OrganizationRepository,
	keys repositories.SigningKeyRepository,
	txMgr repositories.TransactionManager,
	cache *KeyCache,
	logger *zap.Logger,
) *KeyRing {
	return &KeyRing{
		orgs:   orgs,
		keys:   keys,
		txMgr:  txMgr,
		cache:  cache,
		logger: logger,
	}
}

// ActiveKey returns the key new events of orgID are signed with
func (k *KeyRing) ActiveKey(ctx context.Context, orgID string) (*models.SigningKey, error) {
	cacheKey := CacheKey{OrgID: orgID}
	if cached := k.cached(cacheKey); cached != nil {
		return cached, nil
	}

	org, err := k.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, services.WrapInternal("failed to load organization", err)
	}
	if org == nil {
		return nil, services.ErrUnknownOrg
	}

	key, err := k.keys.GetActive(ctx, orgID)
	if err != nil {
		return nil, services.WrapInternal("failed to load signing key", err)
	}
	if key == nil {
		return nil, services.ErrNoSigningKey
	}

	k.store(cacheKey, key)
	return key, nil
}

// Key returns a specific key generation, nil if the org never had it
func (k *KeyRing) Key(ctx context.Context, orgID, keyID string) (*models.SigningKey, error) {
	cacheKey := CacheKey{OrgID: orgID, KeyID: keyID}
	if cached := k.cached(cacheKey); cached != nil {
		return cached, nil
	}

	key, err := k.keys.Get(ctx, orgID, keyID)
	if err != nil {
		return nil, services.WrapInternal("failed to load signing key", err)
	}
	if key != nil {
		k.store(cacheKey, key)
	}
	return key, nil
}

// Rotate retires every active key of orgID and installs a freshly generated one
func (k *KeyRing) Rotate(ctx context.Context, orgID string) (*models.SigningKey, error) {
	key, err := NewSigningKey(orgID)
	if err != nil {
		return nil, services.WrapInternal("failed to generate signing key", err)
	}

	err = services.WithTransaction(ctx, k.txMgr, func(ctx context.Context) error {
		org, err := k.orgs.GetByID(ctx, orgID)
		if err != nil {
			return services.WrapInternal("failed to load organization", err)
		}
		if org == nil {
			return services.ErrOrganizationNotFound
		}
		return k.install(ctx, key)
	})
	if err != nil {
		return nil, err
	}

	k.logger.Info("signing key rotated", zap.String("org_id", orgID), zap.String("key_id", key.KeyID))
	return key, nil
}

// Install retires the org's active keys and makes key the active one. Callers that
// already run inside a transaction pass its context.
func (k *KeyRing) Install(ctx context.Context, key *models.SigningKey) error {
	return services.WithTransaction(ctx, k.txMgr, func(ctx context.Context) error {
		return k.install(ctx, key)
	})
}

func (k *KeyRing) install(ctx context.Context, key *models.SigningKey) error {
	if err := k.keys.RetireAll(ctx, key.OrgID, key.CreatedAt); err != nil {
		return services.WrapInternal("failed to retire signing keys", err)
	}
	if err := k.keys.Create(ctx, key); err != nil {
		return services.WrapInternal("failed to store signing key", err)
	}
	if err := k.orgs.SetSigningKey(ctx, key.OrgID, key.KeyID); err != nil {
		return services.WrapInternal("failed to activate signing key", err)
	}
	k.Invalidate(key.OrgID)
	return nil
}

// Invalidate drops cached keys of an org
func (k *KeyRing) Invalidate(orgID string) {
	if k.cache != nil {
		k.cache.InvalidateOrg(orgID)
	}
}

func (k *KeyRing) cached(key CacheKey) *models.SigningKey {
	if k.cache == nil {
		return nil
	}
	return k.cache.Get(key)
}

func (k *KeyRing) store(key CacheKey, signingKey *models.SigningKey) {
	if k.cache != nil {
		k.cache.Set(key, signingKey)
	}
}

// NewSigningKey generates a random secret under a new key ID
func NewSigningKey(orgID string) (*models.SigningKey, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key id: %w", err)
	}

	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	return &models.SigningKey{
		OrgID:     orgID,
		KeyID:     "key_" + id.String(),
		Secret:    hex.EncodeToString(secret),
		CreatedAt: models.StoreTime(time.Now()),
	}, nil
}
