package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shield-wallet/internal/chain"
	apperrors "github.com/shield-wallet/internal/errors"
	"github.com/shield-wallet/internal/logging"
	"github.com/shield-wallet/internal/models"
	"github.com/shield-wallet/internal/types"
	"github.com/shield-wallet/internal/zk"
	"github.com/shopspring/decimal"
)

// tokenScale converts display amounts to base units for the prover and
// the chain (10^18 base units per whole token)
const tokenScale = 18

// TransactionRepository interface for audit receipt queries
type TransactionRepository interface {
	Create(ctx context.Context, txn *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByTxHash(ctx context.Context, txHash string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Transaction, error)
}

// TransactionService orchestrates shield, private transfer, unshield and
// public send end to end: session gate, note selection, proof input
// construction, external submission, then a single atomic ledger commit.
// The ledger only ever changes after the external collaborators succeed.
type TransactionService struct {
	sessions *SessionService
	notes    *NoteService
	builder  *zk.Builder
	prover   zk.Prover
	chain    chain.Client
	txRepo   TransactionRepository

	// spendLocks enforces at most one in-flight spend per (owner, token).
	// A second attempt fails fast with a contention error rather than
	// queueing behind the first.
	spendLocks *keyedMutex
}

// NewTransactionService creates a new transaction service
func NewTransactionService(
	sessions *SessionService,
	notes *NoteService,
	builder *zk.Builder,
	prover zk.Prover,
	chainClient chain.Client,
	txRepo TransactionRepository,
) *TransactionService {
	return &TransactionService{
		sessions:   sessions,
		notes:      notes,
		builder:    builder,
		prover:     prover,
		chain:      chainClient,
		txRepo:     txRepo,
		spendLocks: newKeyedMutex(),
	}
}

func spendLockKey(owner, token string) string {
	return owner + ":" + token
}

func toUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(tokenScale).BigInt()
}

func noteUnits(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parsing note amount %q: %w", amount, err)
	}
	return toUnits(d), nil
}

// requireUnlocked gates every orchestrated operation: the caller's
// session must hold an unexpired decrypted key
func (s *TransactionService) requireUnlocked(ctx context.Context, sessionToken string) (*models.Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	if !s.sessions.IsWalletUnlocked(ctx, sessionToken) {
		return nil, apperrors.NewWalletLockedError()
	}
	return session, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.NewValidationError("amount", "must be positive")
	}
	return nil
}

// Shield converts a public balance into a fresh private note. The note
// and its receipt are committed only after the chain accepts the deposit.
func (s *TransactionService) Shield(ctx context.Context, sessionToken, tokenAddr string, amount decimal.Decimal, tokenSymbol *string) (*models.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	session, err := s.requireUnlocked(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	owner := session.ExternalID

	// Index allocation races with other shields for the same owner, so
	// shields take the spend guard too
	key := spendLockKey(owner, tokenAddr)
	if !s.spendLocks.TryLock(key) {
		return nil, apperrors.NewContentionError(owner, tokenAddr)
	}
	defer s.spendLocks.Unlock(key)

	latest, err := s.notes.LatestNoteIndex(ctx, owner)
	if err != nil {
		return nil, err
	}
	noteIndex := latest + 1

	units := toUnits(amount)
	newNote, err := s.builder.GenerateNote(units, owner, noteIndex)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to generate note", err)
	}

	result, err := s.chain.SubmitShield(ctx, newNote.Commitment, tokenAddr, units)
	if err != nil {
		return nil, apperrors.NewOperationFailedError("shield submission", err)
	}

	note := &models.Note{
		Owner:       owner,
		Commitment:  newNote.Commitment,
		Secret:      newNote.Secret,
		Nullifier:   newNote.Nullifier,
		Backup:      newNote.Backup,
		NoteIndex:   noteIndex,
		Amount:      amount.String(),
		Token:       tokenAddr,
		TokenSymbol: tokenSymbol,
		Root:        result.NewRoot,
		RootID:      result.NewRootID,
	}

	receipt := &models.Transaction{
		UserID:        session.UserID,
		WalletAddress: session.WalletAddress,
		TxHash:        result.TxHash,
		Type:          types.TxTypeShield,
		TokenAddress:  tokenAddr,
		TokenSymbol:   tokenSymbol,
		Amount:        amount.String(),
		Status:        types.StatusPending,
	}

	if err := s.notes.CommitSpend(ctx, nil, []*models.Note{note}, receipt); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"owner":   owner,
		"tx_hash": result.TxHash,
		"token":   tokenAddr,
	}).Info("Shield committed")

	return receipt, nil
}

// PrivateTransfer spends the sender's notes to create a note owned by
// the recipient, plus a change note back to the sender. Selected notes
// flip to spent and the outputs are inserted in one transaction, and
// only after proof generation and chain submission both succeed.
func (s *TransactionService) PrivateTransfer(ctx context.Context, sessionToken, recipient, tokenAddr string, amount decimal.Decimal, tokenSymbol *string) (*models.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if recipient == "" {
		return nil, apperrors.NewValidationError("recipient", "must not be empty")
	}

	session, err := s.requireUnlocked(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	owner := session.ExternalID

	key := spendLockKey(owner, tokenAddr)
	if !s.spendLocks.TryLock(key) {
		return nil, apperrors.NewContentionError(owner, tokenAddr)
	}
	defer s.spendLocks.Unlock(key)

	selected, total, err := s.notes.SelectNotesForSpend(ctx, owner, tokenAddr, amount)
	if err != nil {
		return nil, err
	}
	change := total.Sub(amount)

	senderLatest, err := s.notes.LatestNoteIndex(ctx, owner)
	if err != nil {
		return nil, err
	}
	recipientLatest, err := s.notes.LatestNoteIndex(ctx, recipient)
	if err != nil {
		return nil, err
	}
	senderIndex := senderLatest + 1
	recipientIndex := recipientLatest + 1
	if recipient == owner {
		// Both outputs land under the same owner; the change note takes
		// the next index after the recipient note.
		senderIndex = recipientIndex + 1
	}

	outputs, err := s.builder.BuildTransferOutputs(toUnits(amount), recipient, recipientIndex, toUnits(change), owner, senderIndex)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build transfer outputs", err)
	}

	params := &zk.SpendParams{
		Sender:       owner,
		Token:        tokenAddr,
		AmountToSend: toUnits(amount),
		Recipient:    recipient,
	}

	inputs, err := s.builder.BuildProofInputs(selected, outputs, params, noteUnits)
	if err != nil {
		return nil, err
	}

	calldata, err := s.prover.GenerateProof(ctx, inputs)
	if err != nil {
		return nil, apperrors.NewOperationFailedError("proof generation", err)
	}

	result, err := s.chain.SubmitSpend(ctx, calldata)
	if err != nil {
		return nil, apperrors.NewOperationFailedError("spend submission", err)
	}

	newNotes := []*models.Note{
		{
			Owner:       recipient,
			Commitment:  outputs.Recipient.Commitment,
			Secret:      outputs.Recipient.Secret,
			Nullifier:   outputs.Recipient.Nullifier,
			Backup:      outputs.Recipient.Backup,
			NoteIndex:   recipientIndex,
			Amount:      amount.String(),
			Token:       tokenAddr,
			TokenSymbol: tokenSymbol,
			Root:        result.NewRoot,
			RootID:      result.NewRootID,
		},
	}
	if outputs.Change != nil {
		newNotes = append(newNotes, &models.Note{
			Owner:       owner,
			Commitment:  outputs.Change.Commitment,
			Secret:      outputs.Change.Secret,
			Nullifier:   outputs.Change.Nullifier,
			Backup:      outputs.Change.Backup,
			NoteIndex:   senderIndex,
			Amount:      change.String(),
			Token:       tokenAddr,
			TokenSymbol: tokenSymbol,
			Root:        result.NewRoot,
			RootID:      result.NewRootID,
		})
	}

	spent := make([]string, len(selected))
	for i, note := range selected {
		spent[i] = note.Commitment
	}

	receipt := &models.Transaction{
		UserID:           session.UserID,
		WalletAddress:    session.WalletAddress,
		TxHash:           result.TxHash,
		Type:             types.TxTypePrivateTransfer,
		TokenAddress:     tokenAddr,
		TokenSymbol:      tokenSymbol,
		Amount:           amount.String(),
		RecipientAddress: &recipient,
		Status:           types.StatusPending,
	}

	if err := s.notes.CommitSpend(ctx, spent, newNotes, receipt); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"owner":       owner,
		"tx_hash":     result.TxHash,
		"notes_spent": len(spent),
		"notes_new":   len(newNotes),
	}).Info("Private transfer committed")

	return receipt, nil
}

// Unshield spends private notes to release a public balance to a
// withdrawal address. The strict-exceed selection rule means change is
// always positive, so exactly one change note returns to the owner.
func (s *TransactionService) Unshield(ctx context.Context, sessionToken, tokenAddr string, amount decimal.Decimal, withdrawAddress string, tokenSymbol *string) (*models.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if withdrawAddress == "" {
		return nil, apperrors.NewValidationError("withdrawAddress", "must not be empty")
	}

	session, err := s.requireUnlocked(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	owner := session.ExternalID

	key := spendLockKey(owner, tokenAddr)
	if !s.spendLocks.TryLock(key) {
		return nil, apperrors.NewContentionError(owner, tokenAddr)
	}
	defer s.spendLocks.Unlock(key)

	selected, total, err := s.notes.SelectNotesForSpend(ctx, owner, tokenAddr, amount)
	if err != nil {
		return nil, err
	}
	change := total.Sub(amount)

	latest, err := s.notes.LatestNoteIndex(ctx, owner)
	if err != nil {
		return nil, err
	}
	changeIndex := latest + 1

	// The change note back to the owner is the sole output of an unshield
	outputs, err := s.builder.BuildTransferOutputs(toUnits(change), owner, changeIndex, nil, owner, 0)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build change output", err)
	}

	params := &zk.SpendParams{
		Sender:            owner,
		Token:             tokenAddr,
		AmountToSend:      toUnits(change),
		TokenOut:          tokenAddr,
		AmountOut:         toUnits(amount),
		Recipient:         owner,
		RecipientWithdraw: withdrawAddress,
	}

	inputs, err := s.builder.BuildProofInputs(selected, outputs, params, noteUnits)
	if err != nil {
		return nil, err
	}

	calldata, err := s.prover.GenerateProof(ctx, inputs)
	if err != nil {
		return nil, apperrors.NewOperationFailedError("proof generation", err)
	}

	result, err := s.chain.SubmitSpend(ctx, calldata)
	if err != nil {
		return nil, apperrors.NewOperationFailedError("unshield submission", err)
	}

	newNotes := []*models.Note{
		{
			Owner:       owner,
			Commitment:  outputs.Recipient.Commitment,
			Secret:      outputs.Recipient.Secret,
			Nullifier:   outputs.Recipient.Nullifier,
			Backup:      outputs.Recipient.Backup,
			NoteIndex:   changeIndex,
			Amount:      change.String(),
			Token:       tokenAddr,
			TokenSymbol: tokenSymbol,
			Root:        result.NewRoot,
			RootID:      result.NewRootID,
		},
	}

	spent := make([]string, len(selected))
	for i, note := range selected {
		spent[i] = note.Commitment
	}

	receipt := &models.Transaction{
		UserID:           session.UserID,
		WalletAddress:    session.WalletAddress,
		TxHash:           result.TxHash,
		Type:             types.TxTypeUnshield,
		TokenAddress:     tokenAddr,
		TokenSymbol:      tokenSymbol,
		Amount:           amount.String(),
		RecipientAddress: &withdrawAddress,
		Status:           types.StatusPending,
	}

	if err := s.notes.CommitSpend(ctx, spent, newNotes, receipt); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"owner":   owner,
		"tx_hash": result.TxHash,
	}).Info("Unshield committed")

	return receipt, nil
}

// Send performs a plain public token transfer signed with the session's
// unlocked key. No notes are involved; only a receipt is recorded.
func (s *TransactionService) Send(ctx context.Context, sessionToken, recipient, tokenAddr string, amount decimal.Decimal, tokenSymbol *string) (*models.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if recipient == "" {
		return nil, apperrors.NewValidationError("recipient", "must not be empty")
	}

	session, err := s.requireUnlocked(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	privateKey, err := s.sessions.GetDecryptedKey(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	txHash, err := s.chain.SubmitTransfer(ctx, privateKey, recipient, tokenAddr, toUnits(amount))
	if err != nil {
		return nil, apperrors.NewOperationFailedError("transfer submission", err)
	}

	receipt := &models.Transaction{
		UserID:           session.UserID,
		WalletAddress:    session.WalletAddress,
		TxHash:           txHash,
		Type:             types.TxTypeSend,
		TokenAddress:     tokenAddr,
		TokenSymbol:      tokenSymbol,
		Amount:           amount.String(),
		RecipientAddress: &recipient,
		Status:           types.StatusPending,
	}

	if err := s.txRepo.Create(ctx, receipt); err != nil {
		return nil, apperrors.NewDatabaseError("record transaction", err)
	}

	return receipt, nil
}

// GetTransactionHistory returns the user's receipts, newest first
func (s *TransactionService) GetTransactionHistory(ctx context.Context, userID string, limit, offset int) ([]*models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.txRepo.ListByUser(ctx, userID, limit, offset)
}

// GetTransactionByHash returns one receipt by chain hash
func (s *TransactionService) GetTransactionByHash(ctx context.Context, txHash string) (*models.Transaction, error) {
	return s.txRepo.GetByTxHash(ctx, txHash)
}
