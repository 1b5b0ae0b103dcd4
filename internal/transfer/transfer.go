// Package transfer builds unsigned transfer intents: it validates caller
// input, atomically selects and locks the funding UTXOs through the ledger
// Manager, and assembles the intent's outputs.
//
// Signing, fee payment, and submission are external steps. The builder hands
// the locked UTXO set back to the caller precisely so the caller's failure
// path can release the locks when one of those later steps fails.
package transfer

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/gabapcia/utxosync/internal/coinselect"
	"github.com/gabapcia/utxosync/internal/pkg/validator"
	"github.com/gabapcia/utxosync/internal/utxoledger"

	"github.com/google/uuid"
)

// ErrInvalidAmount is returned when the transfer amount is nil or not
// strictly positive.
var ErrInvalidAmount = errors.New("transfer amount must be strictly positive")

// ErrInvalidTTL is returned when the intent time-to-live is not strictly
// positive.
var ErrInvalidTTL = errors.New("transfer ttl must be strictly positive")

// TransferOutput is one output of an unsigned transfer intent.
type TransferOutput struct {
	To        string   // Recipient address
	TokenType string   // Token denomination
	Value     *big.Int // Amount carried by the output
}

// TransferIntent is an unsigned transfer ready for the external signing and
// submission pipeline.
//
// Sum of input values always equals the sum of output values by
// construction: the selected total is exactly amount plus change. The
// builder does not re-validate that equality; re-checking it would mask a
// construction bug instead of catching it.
type TransferIntent struct {
	ID        string               // Unique intent identifier (UUIDv7)
	From      string               // Sender address
	TokenType string               // Token denomination being transferred
	Inputs    []utxoledger.UtxoRef // Locked outputs funding the transfer
	Outputs   []TransferOutput     // Payment output, plus change output when change > 0
	CreatedAt time.Time            // Build time
	ExpiresAt time.Time            // Absolute expiry, CreatedAt + ttl
}

// BuildResult is the outcome of BuildTransfer. It is a closed tagged union;
// the only implementations are BuildSuccess and InsufficientFunds.
type BuildResult interface {
	isBuildResult()
}

// BuildSuccess carries the assembled intent together with the UTXOs that
// were locked for it. Callers must unlock LockedUtxos if any later step
// (signing, fee payment, submission) fails.
type BuildSuccess struct {
	Intent      TransferIntent
	LockedUtxos []utxoledger.Utxo
}

func (BuildSuccess) isBuildResult() {}

// InsufficientFunds reports that the sender's available balance cannot cover
// the transfer. It is an expected business outcome, passed through from coin
// selection unchanged.
type InsufficientFunds struct {
	Required  *big.Int
	Available *big.Int
	Shortfall *big.Int
}

func (InsufficientFunds) isBuildResult() {}

// Service builds unsigned transfer intents.
type Service interface {
	// BuildTransfer validates the input, selects and locks funding UTXOs,
	// and assembles an unsigned intent with one output to the recipient
	// and, only when change is positive, a change output back to the
	// sender. Zero-value change outputs are never emitted.
	//
	// Input errors (blank addresses or token, non-positive amount or ttl)
	// fail with an error. Insufficient funds is returned as a typed
	// InsufficientFunds result, not an error.
	BuildTransfer(ctx context.Context, from, to string, amount *big.Int, tokenType string, ttl time.Duration) (BuildResult, error)
}

// service is the internal implementation of Service.
type service struct {
	ledger utxoledger.Manager
	now    func() time.Time
}

// Compile-time check that *service implements Service.
var _ Service = (*service)(nil)

// Option configures the transfer service.
type Option func(*service)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a transfer service on top of the given ledger Manager.
func New(ledger utxoledger.Manager, opts ...Option) *service {
	s := &service{
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// transferRequest carries the validated scalar inputs of BuildTransfer.
type transferRequest struct {
	From      string `validate:"required"` // Sender address
	To        string `validate:"required"` // Recipient address
	TokenType string `validate:"required"` // Token denomination
}

// validateInput enforces the caller contract of BuildTransfer.
func validateInput(from, to, tokenType string, amount *big.Int, ttl time.Duration) error {
	req := transferRequest{
		From:      from,
		To:        to,
		TokenType: tokenType,
	}
	if err := validator.Validate(req); err != nil {
		return err
	}

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	return nil
}

// BuildTransfer implements Service.
func (s *service) BuildTransfer(ctx context.Context, from, to string, amount *big.Int, tokenType string, ttl time.Duration) (BuildResult, error) {
	if err := validateInput(from, to, tokenType, amount, ttl); err != nil {
		return nil, err
	}

	result, err := s.ledger.SelectAndLockUtxos(ctx, from, tokenType, amount)
	if err != nil {
		return nil, err
	}

	switch r := result.(type) {
	case coinselect.InsufficientFunds[utxoledger.Utxo]:
		return InsufficientFunds{
			Required:  r.Required,
			Available: r.Available,
			Shortfall: r.Shortfall,
		}, nil

	case coinselect.Success[utxoledger.Utxo]:
		return s.assembleIntent(from, to, tokenType, amount, ttl, r), nil

	default:
		return nil, errors.New("unexpected selection result")
	}
}

// assembleIntent builds the unsigned intent from a successful selection.
func (s *service) assembleIntent(from, to, tokenType string, amount *big.Int, ttl time.Duration, selection coinselect.Success[utxoledger.Utxo]) BuildSuccess {
	inputs := make([]utxoledger.UtxoRef, 0, len(selection.Selected))
	for _, u := range selection.Selected {
		inputs = append(inputs, u.Ref())
	}

	outputs := []TransferOutput{
		{To: to, TokenType: tokenType, Value: new(big.Int).Set(amount)},
	}
	if selection.Change.Sign() > 0 {
		outputs = append(outputs, TransferOutput{
			To:        from,
			TokenType: tokenType,
			Value:     new(big.Int).Set(selection.Change),
		})
	}

	now := s.now()
	return BuildSuccess{
		Intent: TransferIntent{
			ID:        uuid.Must(uuid.NewV7()).String(),
			From:      from,
			TokenType: tokenType,
			Inputs:    inputs,
			Outputs:   outputs,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		},
		LockedUtxos: selection.Selected,
	}
}
