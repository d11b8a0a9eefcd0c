package ticket

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"github.com/relaynet/channel-bridge/entities"
	"github.com/relaynet/channel-bridge/metrics"
	"go.uber.org/zap"
)

type Signer interface {
	Sign(digest entities.Hash) (entities.Signature, error)
	PublicKey() entities.PublicKey
}

type AccountReader interface {
	TicketState(ctx context.Context, account entities.AccountId) (entities.AccountState, error)
}

type SecretChain interface {
	FindPreImage(target entities.Hash) (entities.PreImage, error)
	Rotate(ctx context.Context, preImage entities.PreImage) error
}

type Redeemer interface {
	RedeemTicket(ctx context.Context, params entities.RedeemTicketParams) error
}

type Store interface {
	StoreTicket(ticket entities.SignedTicket) error
	GetTickets(channelID entities.Hash) ([]entities.SignedTicket, error)
	DeleteTicket(channelID, challenge entities.Hash) error
}

type Channel interface {
	ID() entities.Hash
	Counterparty() entities.AccountId
	CounterpartyKey() (entities.PublicKey, bool)
	TestAndSetNonce(ctx context.Context, nonce []byte) error
	Balance(ctx context.Context) (*big.Int, error)
	SelfBalance(ctx context.Context) (*big.Int, error)
}

type Config struct {
	// CheckSolvency rejects tickets worth more than the issuer's share of the
	// channel deposit.
	CheckSolvency bool
}

const (
	verifyAccepted         = "accepted"
	verifyReplayed         = "replayed"
	verifyWrongChannel     = "wrong_channel"
	verifyBadSignature     = "bad_signature"
	verifyInsufficientFund = "insufficient_funds"
)

type Protocol struct {
	signer   Signer
	accounts AccountReader
	secrets  SecretChain
	redeemer Redeemer
	store    Store
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
}

func NewProtocol(signer Signer, accounts AccountReader, secrets SecretChain, redeemer Redeemer, store Store, cfg Config, metrics *metrics.Metrics, logger *zap.SugaredLogger) *Protocol {
	return &Protocol{
		signer:   signer,
		accounts: accounts,
		secrets:  secrets,
		redeemer: redeemer,
		store:    store,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Create signs a ticket paying amount to the counterparty of ch. The ticket
// commits to the counterparty's current epoch and on-chain secret.
func (p *Protocol) Create(ctx context.Context, ch Channel, amount *big.Int, challenge, winProb entities.Hash) (entities.SignedTicket, error) {
	counterparty := ch.Counterparty()

	state, err := p.accounts.TicketState(ctx, counterparty)
	if err != nil {
		return entities.SignedTicket{}, errors.Wrap(err, "getting counterparty account state")
	}

	ticket := entities.Ticket{
		ChannelID:     ch.ID(),
		Challenge:     challenge,
		Epoch:         state.Counter,
		Amount:        new(big.Int).Set(amount),
		WinProb:       winProb,
		OnChainSecret: state.HashedSecret,
	}
	hash, err := ticket.Hash()
	if err != nil {
		return entities.SignedTicket{}, errors.Wrap(err, "hashing ticket")
	}
	sig, err := p.signer.Sign(hash)
	if err != nil {
		return entities.SignedTicket{}, errors.Wrap(err, "signing ticket")
	}

	p.metrics.IncTicketsCreated()
	return entities.SignedTicket{Signature: sig, Ticket: ticket}, nil
}

// Verify accepts a ticket issued by the counterparty of ch. A replayed
// challenge is reported as entities.ErrNonceAlreadyUsed, any other rejection
// as false with a nil error. Accepted tickets are stored for redemption.
func (p *Protocol) Verify(ctx context.Context, ch Channel, st entities.SignedTicket) (bool, error) {
	err := ch.TestAndSetNonce(ctx, st.Ticket.Challenge[:])
	if errors.Is(err, entities.ErrNonceAlreadyUsed) {
		p.metrics.IncTicketsVerified(verifyReplayed)
		return false, err
	}
	if err != nil {
		return false, errors.Wrap(err, "registering ticket nonce")
	}

	if st.Ticket.ChannelID != ch.ID() {
		p.metrics.IncTicketsVerified(verifyWrongChannel)
		return false, nil
	}

	expected, known := ch.CounterpartyKey()
	signer, err := st.Signer()
	if err != nil || !known || signer != expected {
		p.logger.Debugw("Rejecting ticket with unexpected signer", "channel", ch.ID().Hex(), "error", err)
		p.metrics.IncTicketsVerified(verifyBadSignature)
		return false, nil
	}

	if p.cfg.CheckSolvency {
		solvent, err := p.solvent(ctx, ch, st.Ticket.Amount)
		if err != nil {
			return false, err
		}
		if !solvent {
			p.metrics.IncTicketsVerified(verifyInsufficientFund)
			return false, nil
		}
	}

	if err := p.store.StoreTicket(st); err != nil {
		return false, errors.Wrap(err, "storing ticket")
	}
	p.metrics.IncTicketsVerified(verifyAccepted)
	return true, nil
}

// solvent reports whether own balance plus amount stays within the deposit.
func (p *Protocol) solvent(ctx context.Context, ch Channel, amount *big.Int) (bool, error) {
	deposit, err := ch.Balance(ctx)
	if err != nil {
		return false, errors.Wrap(err, "getting channel balance")
	}
	own, err := ch.SelfBalance(ctx)
	if err != nil {
		return false, errors.Wrap(err, "getting own balance")
	}
	total := new(big.Int).Add(own, amount)
	return total.Cmp(deposit) <= 0, nil
}

// Submit redeems a winning ticket on-chain. Tickets that do not satisfy their
// challenge or do not win are rejected before any transaction is sent.
func (p *Protocol) Submit(ctx context.Context, st entities.SignedTicket, secretA, secretB entities.Hash) error {
	ticket := st.Ticket
	response := Response(secretA, secretB)
	if !CheckChallenge(ticket.Challenge, response) {
		return entities.ErrChallengeMismatch
	}

	preImage, err := p.secrets.FindPreImage(ticket.OnChainSecret)
	if err != nil {
		return errors.Wrap(err, "finding preimage of on-chain secret")
	}

	hash, err := ticket.Hash()
	if err != nil {
		return errors.Wrap(err, "hashing ticket")
	}
	if !IsWinningTicket(hash, response, preImage.Hash, ticket.WinProb) {
		return entities.ErrTicketNotWinning
	}

	r, s, v := st.Signature.RSV()
	params := entities.RedeemTicketParams{
		PreImage: preImage.Hash,
		SecretA:  secretA,
		SecretB:  secretB,
		Amount:   ticket.Amount,
		WinProb:  ticket.WinProb,
		R:        r,
		S:        s,
		V:        v,
	}
	if err := p.redeemer.RedeemTicket(ctx, params); err != nil {
		return errors.Wrap(err, "redeeming ticket")
	}
	p.metrics.IncTicketsRedeemed()
	p.logger.Infow("Redeemed ticket", "channel", ticket.ChannelID.Hex(), "challenge", ticket.Challenge.Hex(), "amount", ticket.Amount.String())

	// the ticket is spent on chain, it is dropped even if rotation fails
	rotateErr := p.secrets.Rotate(ctx, preImage)
	if rotateErr != nil {
		p.logger.Errorw("Rotating on-chain secret after redemption", "channel", ticket.ChannelID.Hex(), "index", preImage.Index, "error", rotateErr)
	}
	deleteErr := p.store.DeleteTicket(ticket.ChannelID, ticket.Challenge)
	if deleteErr != nil {
		p.logger.Errorw("Deleting redeemed ticket", "channel", ticket.ChannelID.Hex(), "challenge", ticket.Challenge.Hex(), "error", deleteErr)
	}
	if rotateErr != nil {
		return errors.Wrap(rotateErr, "rotating on-chain secret")
	}
	if deleteErr != nil {
		return errors.Wrap(deleteErr, "deleting redeemed ticket")
	}
	return nil
}

// Tickets lists the stored tickets of a channel.
func (p *Protocol) Tickets(channelID entities.Hash) ([]entities.SignedTicket, error) {
	return p.store.GetTickets(channelID)
}
