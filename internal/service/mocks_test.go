package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/shield-wallet/internal/chain"
	apperrors "github.com/shield-wallet/internal/errors"
	"github.com/shield-wallet/internal/models"
	"github.com/shield-wallet/internal/types"
	"github.com/shield-wallet/internal/zk"
	"github.com/shopspring/decimal"
)

// mockSessionRepo is an in-memory SessionRepository
type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session // keyed by token
	updates  int
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*models.Session)}
}

func (m *mockSessionRepo) Create(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = fmt.Sprintf("sess-%d", len(m.sessions)+1)
	}
	cp := *s
	m.sessions[s.SessionToken] = &cp
	return nil
}

func (m *mockSessionRepo) GetByToken(_ context.Context, token string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, apperrors.NewSessionNotFoundError()
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) GetLatestByUserID(_ context.Context, userID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Session
	for _, s := range m.sessions {
		if s.UserID == userID && (latest == nil || s.CreatedAt.After(latest.CreatedAt)) {
			latest = s
		}
	}
	if latest == nil {
		return nil, apperrors.NewSessionNotFoundError()
	}
	cp := *latest
	return &cp, nil
}

func (m *mockSessionRepo) Update(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.SessionToken]; !ok {
		return apperrors.NewSessionNotFoundError()
	}
	cp := *s
	m.sessions[s.SessionToken] = &cp
	m.updates++
	return nil
}

func (m *mockSessionRepo) UpdatePasswordHashForUser(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UserID == userID {
			s.PasswordHash = hash
			s.IsVerified = false
			s.FailedAttempts = 0
			s.Key = models.LockedKey()
		}
	}
	return nil
}

func (m *mockSessionRepo) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[token]; !ok {
		return apperrors.NewSessionNotFoundError()
	}
	delete(m.sessions, token)
	return nil
}

func (m *mockSessionRepo) ClearExpiredKeys(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if _, unlocked := s.Key.RawKey(); unlocked && !s.Key.ExpiresAt().After(now) {
			s.Key = models.LockedKey()
			n++
		}
	}
	return n, nil
}

func (m *mockSessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, token)
			n++
		}
	}
	return n, nil
}

// mockNoteRepo is an in-memory NoteRepository with all-or-nothing
// CommitSpend semantics
type mockNoteRepo struct {
	mu       sync.Mutex
	notes    map[string]*models.Note // keyed by commitment
	receipts []*models.Transaction
	// failCommit forces CommitSpend to fail without mutating anything
	failCommit bool
}

func newMockNoteRepo() *mockNoteRepo {
	return &mockNoteRepo{notes: make(map[string]*models.Note)}
}

func (m *mockNoteRepo) addNote(n *models.Note) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notes[n.Commitment] = &cp
}

func (m *mockNoteRepo) Insert(_ context.Context, n *models.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[n.Commitment]; ok {
		return apperrors.NewDuplicateCommitmentError(n.Commitment)
	}
	cp := *n
	m.notes[n.Commitment] = &cp
	return nil
}

func (m *mockNoteRepo) GetByCommitment(_ context.Context, commitment string) (*models.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[commitment]
	if !ok {
		return nil, apperrors.NewNotFoundError("note", commitment)
	}
	cp := *n
	return &cp, nil
}

func (m *mockNoteRepo) LatestNoteIndex(_ context.Context, owner string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, n := range m.notes {
		if n.Owner == owner && n.NoteIndex > max {
			max = n.NoteIndex
		}
	}
	return max, nil
}

func (m *mockNoteRepo) ListUnspent(_ context.Context, owner, token string) ([]*models.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Note
	for _, n := range m.notes {
		if n.Owner == owner && n.Token == token && !n.IsSpent {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NoteIndex < out[j].NoteIndex })
	return out, nil
}

func (m *mockNoteRepo) ListByOwner(_ context.Context, owner string, limit, offset int) ([]*models.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Note
	for _, n := range m.notes {
		if n.Owner == owner {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NoteIndex > out[j].NoteIndex })
	return out, nil
}

func (m *mockNoteRepo) Balances(_ context.Context, owner string) ([]*types.TokenBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sums := make(map[string]decimal.Decimal)
	for _, n := range m.notes {
		if n.Owner == owner && !n.IsSpent {
			d, err := n.AmountDecimal()
			if err != nil {
				return nil, err
			}
			sums[n.Token] = sums[n.Token].Add(d)
		}
	}
	tokens := make([]string, 0, len(sums))
	for token := range sums {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	out := make([]*types.TokenBalance, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, &types.TokenBalance{Token: token, Amount: sums[token].String()})
	}
	return out, nil
}

func (m *mockNoteRepo) MarkSpent(_ context.Context, commitment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Unknown and already-spent commitments are no-ops
	if n, ok := m.notes[commitment]; ok {
		n.IsSpent = true
	}
	return nil
}

func (m *mockNoteRepo) CommitSpend(_ context.Context, spent []string, inserts []*models.Note, receipt *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCommit {
		return apperrors.NewDatabaseError("commit spend", fmt.Errorf("injected failure"))
	}
	for _, n := range inserts {
		if _, ok := m.notes[n.Commitment]; ok {
			return apperrors.NewDuplicateCommitmentError(n.Commitment)
		}
	}

	for _, c := range spent {
		if n, ok := m.notes[c]; ok {
			n.IsSpent = true
		}
	}
	for _, n := range inserts {
		cp := *n
		m.notes[n.Commitment] = &cp
	}
	if receipt != nil {
		cp := *receipt
		m.receipts = append(m.receipts, &cp)
	}
	return nil
}

func (m *mockNoteRepo) snapshot() map[string]models.Note {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.Note, len(m.notes))
	for c, n := range m.notes {
		out[c] = *n
	}
	return out
}

// mockTxRepo is an in-memory TransactionRepository
type mockTxRepo struct {
	mu   sync.Mutex
	txns []*models.Transaction
}

func (m *mockTxRepo) Create(_ context.Context, txn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *txn
	m.txns = append(m.txns, &cp)
	return nil
}

func (m *mockTxRepo) GetByID(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txns {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperrors.NewNotFoundError("transaction", id)
}

func (m *mockTxRepo) GetByTxHash(_ context.Context, txHash string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txns {
		if t.TxHash == txHash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperrors.NewNotFoundError("transaction", txHash)
}

func (m *mockTxRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Transaction
	for _, t := range m.txns {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// mockWalletRepo is an in-memory WalletRepository
type mockWalletRepo struct {
	mu      sync.Mutex
	wallets map[string]*models.Wallet // keyed by ID
	nextID  int
}

func newMockWalletRepo() *mockWalletRepo {
	return &mockWalletRepo{wallets: make(map[string]*models.Wallet)}
}

func (m *mockWalletRepo) Create(_ context.Context, w *models.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.wallets {
		if existing.UserID == w.UserID && existing.IsActive && w.IsActive {
			return apperrors.NewConflictError("active wallet already exists")
		}
	}
	if w.ID == "" {
		m.nextID++
		w.ID = fmt.Sprintf("wallet-%d", m.nextID)
	}
	cp := *w
	m.wallets[w.ID] = &cp
	return nil
}

func (m *mockWalletRepo) GetByID(_ context.Context, id string) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("wallet", id)
	}
	cp := *w
	return &cp, nil
}

func (m *mockWalletRepo) GetActiveByUserID(_ context.Context, userID string) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.UserID == userID && w.IsActive {
			cp := *w
			return &cp, nil
		}
	}
	return nil, apperrors.NewNotFoundError("wallet", userID)
}

func (m *mockWalletRepo) GetByAddress(_ context.Context, address string) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.Address == address {
			cp := *w
			return &cp, nil
		}
	}
	return nil, apperrors.NewNotFoundError("wallet", address)
}

func (m *mockWalletRepo) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok || !w.IsActive {
		return apperrors.NewNotFoundError("wallet", id)
	}
	w.IsActive = false
	now := time.Now()
	w.DeactivatedAt = &now
	return nil
}

func (m *mockWalletRepo) MarkDeployed(_ context.Context, id, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return apperrors.NewNotFoundError("wallet", id)
	}
	w.IsDeployed = true
	w.DeploymentTxHash = &txHash
	return nil
}

func (m *mockWalletRepo) UpdateEncryption(_ context.Context, id, passwordHash, encryptedPrivateKey, salt, iv string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return apperrors.NewNotFoundError("wallet", id)
	}
	w.PasswordHash = passwordHash
	w.EncryptedPrivateKey = encryptedPrivateKey
	w.EncryptionSalt = salt
	w.IV = iv
	return nil
}

func (m *mockWalletRepo) ExistsActiveForUser(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.UserID == userID && w.IsActive {
			return true, nil
		}
	}
	return false, nil
}

// mockChain is a configurable chain.Client
type mockChain struct {
	mu          sync.Mutex
	failSubmit  bool
	submits     int
	deployments int
	transfers   int
}

func (m *mockChain) result() *chain.SubmitResult {
	return &chain.SubmitResult{
		TxHash:    fmt.Sprintf("0xhash%d", m.submits),
		NewRoot:   "0xnewroot",
		NewRootID: "42",
	}
}

func (m *mockChain) SubmitShield(_ context.Context, commitment, token string, amount *big.Int) (*chain.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSubmit {
		return nil, fmt.Errorf("chain unavailable")
	}
	m.submits++
	return m.result(), nil
}

func (m *mockChain) SubmitSpend(_ context.Context, calldata []string) (*chain.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSubmit {
		return nil, fmt.Errorf("chain unavailable")
	}
	m.submits++
	return m.result(), nil
}

func (m *mockChain) SubmitTransfer(_ context.Context, privateKey, recipient, token string, amount *big.Int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSubmit {
		return "", fmt.Errorf("chain unavailable")
	}
	m.transfers++
	return fmt.Sprintf("0xsend%d", m.transfers), nil
}

func (m *mockChain) DeployAccount(_ context.Context, address, publicKey, privateKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSubmit {
		return "", fmt.Errorf("chain unavailable")
	}
	m.deployments++
	return fmt.Sprintf("0xdeploy%d", m.deployments), nil
}

func (m *mockChain) TxStatus(_ context.Context, txHash string) (*chain.TxStatusResult, error) {
	return &chain.TxStatusResult{Status: "confirmed"}, nil
}

func (m *mockChain) Close() {}

// mockProver is a configurable zk.Prover
type mockProver struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (m *mockProver) GenerateProof(_ context.Context, inputs *zk.ProofInputs) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, fmt.Errorf("prover unavailable")
	}
	m.calls++
	return []string{"0xproof", inputs.AmountToSend}, nil
}
