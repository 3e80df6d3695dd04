package service

import (
	"context"

	apperrors "github.com/shield-wallet/internal/errors"
	"github.com/shield-wallet/internal/models"
	"github.com/shield-wallet/internal/types"
	"github.com/shopspring/decimal"
)

// NoteRepository interface for shielded note data operations
type NoteRepository interface {
	Insert(ctx context.Context, note *models.Note) error
	GetByCommitment(ctx context.Context, commitment string) (*models.Note, error)
	LatestNoteIndex(ctx context.Context, owner string) (int64, error)
	ListUnspent(ctx context.Context, owner, token string) ([]*models.Note, error)
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*models.Note, error)
	Balances(ctx context.Context, owner string) ([]*types.TokenBalance, error)
	MarkSpent(ctx context.Context, commitment string) error
	CommitSpend(ctx context.Context, spentCommitments []string, newNotes []*models.Note, receipt *models.Transaction) error
}

// NoteService is the accounting layer over shielded notes: balance
// aggregation, index allocation, and deterministic spend selection.
// Amounts are summed as decimals at full precision, never as floats.
type NoteService struct {
	repo NoteRepository
}

// NewNoteService creates a new note service
func NewNoteService(repo NoteRepository) *NoteService {
	return &NoteService{repo: repo}
}

// LatestNoteIndex returns the owner's highest assigned note index, zero
// when none exist. The next note must take index+1.
func (s *NoteService) LatestNoteIndex(ctx context.Context, owner string) (int64, error) {
	index, err := s.repo.LatestNoteIndex(ctx, owner)
	if err != nil {
		return 0, apperrors.NewDatabaseError("latest note index", err)
	}
	return index, nil
}

// UnspentBalanceByToken sums unspent note amounts per token
func (s *NoteService) UnspentBalanceByToken(ctx context.Context, owner string) ([]*types.TokenBalance, error) {
	balances, err := s.repo.Balances(ctx, owner)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query balances", err)
	}
	return balances, nil
}

// UnspentBalance sums the owner's unspent notes for a single token
func (s *NoteService) UnspentBalance(ctx context.Context, owner, token string) (decimal.Decimal, error) {
	notes, err := s.repo.ListUnspent(ctx, owner, token)
	if err != nil {
		return decimal.Zero, apperrors.NewDatabaseError("list unspent notes", err)
	}

	total := decimal.Zero
	for _, note := range notes {
		amount, err := note.AmountDecimal()
		if err != nil {
			return decimal.Zero, apperrors.NewInternalError("corrupt note amount", err)
		}
		total = total.Add(amount)
	}
	return total, nil
}

// SelectNotesForSpend picks the owner's unspent notes for a spend of
// targetAmount: ascending note index, accumulating until the running
// total strictly exceeds the target. The prefix rule keeps selection
// deterministic and replay-stable; it is intentionally not minimal.
func (s *NoteService) SelectNotesForSpend(ctx context.Context, owner, token string, targetAmount decimal.Decimal) ([]*models.Note, decimal.Decimal, error) {
	notes, err := s.repo.ListUnspent(ctx, owner, token)
	if err != nil {
		return nil, decimal.Zero, apperrors.NewDatabaseError("list unspent notes", err)
	}

	var selected []*models.Note
	total := decimal.Zero
	for _, note := range notes {
		amount, err := note.AmountDecimal()
		if err != nil {
			return nil, decimal.Zero, apperrors.NewInternalError("corrupt note amount", err)
		}
		selected = append(selected, note)
		total = total.Add(amount)
		if total.GreaterThan(targetAmount) {
			return selected, total, nil
		}
	}

	return nil, decimal.Zero, apperrors.NewInsufficientBalanceError(token, total.String())
}

// MarkSpent flips one note to spent
func (s *NoteService) MarkSpent(ctx context.Context, commitment string) error {
	return s.repo.MarkSpent(ctx, commitment)
}

// InsertNote stores a new unspent note, rejecting duplicate commitments
func (s *NoteService) InsertNote(ctx context.Context, note *models.Note) error {
	return s.repo.Insert(ctx, note)
}

// CommitSpend atomically marks the consumed notes spent, inserts the new
// outputs and records the receipt. Either every mutation lands or none.
func (s *NoteService) CommitSpend(ctx context.Context, spentCommitments []string, newNotes []*models.Note, receipt *models.Transaction) error {
	return s.repo.CommitSpend(ctx, spentCommitments, newNotes, receipt)
}

// ListNotes returns the owner's notes, newest first
func (s *NoteService) ListNotes(ctx context.Context, owner string, limit, offset int) ([]*models.Note, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	notes, err := s.repo.ListByOwner(ctx, owner, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list notes", err)
	}
	return notes, nil
}
