package account

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/pkg/errors"
	"github.com/relaynet/channel-bridge/entities"
	"go.uber.org/zap"
)

// HashChainLength is the number of times the origin is hashed before its result
// is committed on-chain.
const HashChainLength = 500

type SecretStore interface {
	GetOnChainSecret() (entities.OnChainSecret, error)
	SetOnChainSecret(secret entities.OnChainSecret) error
}

type SecretTransactor interface {
	SetHashedSecret(ctx context.Context, secret entities.Hash) error
}

type OnChainSecretReader interface {
	OnChainSecret(ctx context.Context, account entities.AccountId) (entities.Hash, error)
}

// HashedSecret owns the local hash chain whose head is committed on-chain.
// Each redeemed ticket reveals the predecessor of the committed value.
type HashedSecret struct {
	self       entities.AccountId
	store      SecretStore
	reader     OnChainSecretReader
	transactor SecretTransactor
	logger     *zap.SugaredLogger
	lock       sync.Mutex
}

func NewHashedSecret(self entities.AccountId, store SecretStore, reader OnChainSecretReader, transactor SecretTransactor, logger *zap.SugaredLogger) *HashedSecret {
	return &HashedSecret{
		self:       self,
		store:      store,
		reader:     reader,
		transactor: transactor,
		logger:     logger,
	}
}

func hashChain(origin entities.Hash, iterations uint32) entities.Hash {
	current := origin
	for i := uint32(0); i < iterations; i++ {
		current = entities.Keccak256(current[:])
	}
	return current
}

// Initialize makes sure a secret is committed on-chain and known locally. A
// secret that only exists on-chain cannot be recovered and is reported as
// entities.ErrSecretNotInDatabase.
func (h *HashedSecret) Initialize(ctx context.Context) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	onChain, err := h.reader.OnChainSecret(ctx, h.self)
	if err != nil {
		return errors.Wrap(err, "getting on-chain secret")
	}
	onChainPresent := onChain != entities.Hash{}

	local, err := h.store.GetOnChainSecret()
	localPresent := true
	if errors.Is(err, entities.ErrStoreEntityNotFound) {
		localPresent = false
	} else if err != nil {
		return errors.Wrap(err, "getting local secret")
	}

	switch {
	case onChainPresent && localPresent:
		return h.resync(local, onChain)
	case onChainPresent:
		return entities.ErrSecretNotInDatabase
	case localPresent:
		h.logger.Infow("Committing local secret on-chain", "account", h.self.Hex())
		return h.commit(ctx, local)
	default:
		return h.renew(ctx)
	}
}

// resync aligns the local head with the committed value, which can lag behind
// when a redemption confirmed while we were not running.
func (h *HashedSecret) resync(local entities.OnChainSecret, onChain entities.Hash) error {
	if hashChain(local.Origin, local.Index) == onChain {
		return nil
	}
	preImage, err := findPreImage(local, onChain)
	if err != nil {
		return entities.ErrSecretNotInDatabase
	}
	local.Index = preImage.Index + 1
	h.logger.Infow("Resynced local secret with on-chain value", "account", h.self.Hex(), "index", local.Index)
	return h.store.SetOnChainSecret(local)
}

func (h *HashedSecret) renew(ctx context.Context) error {
	var origin entities.Hash
	if _, err := rand.Read(origin[:]); err != nil {
		return errors.Wrap(err, "generating secret origin")
	}
	secret := entities.OnChainSecret{Origin: origin, Index: HashChainLength}
	if err := h.store.SetOnChainSecret(secret); err != nil {
		return errors.Wrap(err, "storing secret")
	}
	h.logger.Infow("Generated new secret", "account", h.self.Hex())
	return h.commit(ctx, secret)
}

func (h *HashedSecret) commit(ctx context.Context, secret entities.OnChainSecret) error {
	head := hashChain(secret.Origin, secret.Index)
	if err := h.transactor.SetHashedSecret(ctx, head); err != nil {
		return errors.Wrap(err, "setting hashed secret on-chain")
	}
	return nil
}

// Current returns the locally known head of the hash chain.
func (h *HashedSecret) Current() (entities.Hash, error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	local, err := h.store.GetOnChainSecret()
	if err != nil {
		return entities.Hash{}, errors.Wrap(err, "getting local secret")
	}
	return hashChain(local.Origin, local.Index), nil
}

// FindPreImage returns the chain element that hashes to target.
func (h *HashedSecret) FindPreImage(target entities.Hash) (entities.PreImage, error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	local, err := h.store.GetOnChainSecret()
	if err != nil {
		return entities.PreImage{}, errors.Wrap(err, "getting local secret")
	}
	return findPreImage(local, target)
}

func findPreImage(local entities.OnChainSecret, target entities.Hash) (entities.PreImage, error) {
	current := local.Origin
	for i := uint32(0); i < local.Index; i++ {
		next := entities.Keccak256(current[:])
		if next == target {
			return entities.PreImage{Hash: current, Index: i}, nil
		}
		current = next
	}
	return entities.PreImage{}, entities.ErrPreImageNotFound
}

// Rotate moves the local head to a preimage that was revealed on-chain. An
// exhausted chain is replaced by a fresh one.
func (h *HashedSecret) Rotate(ctx context.Context, preImage entities.PreImage) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	local, err := h.store.GetOnChainSecret()
	if err != nil {
		return errors.Wrap(err, "getting local secret")
	}
	if preImage.Index >= local.Index {
		return nil
	}
	if hashChain(local.Origin, preImage.Index) != preImage.Hash {
		return entities.ErrPreImageNotFound
	}

	if preImage.Index == 0 {
		h.logger.Infow("Hash chain exhausted, renewing secret", "account", h.self.Hex())
		return h.renew(ctx)
	}

	local.Index = preImage.Index
	if err := h.store.SetOnChainSecret(local); err != nil {
		return errors.Wrap(err, "storing rotated secret")
	}
	return nil
}
