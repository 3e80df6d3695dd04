package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	apperrors "github.com/shield-wallet/internal/errors"
	"github.com/shield-wallet/internal/models"
	"github.com/shield-wallet/internal/types"
)

const noteColumns = `id, owner, commitment, secret, nullifier, backup, note_index,
		amount::text, token, token_symbol, root, root_id, is_spent, created_at, updated_at`

// NoteRepository handles shielded note persistence. Notes are append-only:
// spending flips is_spent, nothing is ever deleted.
type NoteRepository struct {
	db *PostgresDB
}

// NewNoteRepository creates a new note repository
func NewNoteRepository(db *PostgresDB) *NoteRepository {
	return &NoteRepository{db: db}
}

func scanNote(row pgx.Row) (*models.Note, error) {
	var n models.Note
	err := row.Scan(
		&n.ID,
		&n.Owner,
		&n.Commitment,
		&n.Secret,
		&n.Nullifier,
		&n.Backup,
		&n.NoteIndex,
		&n.Amount,
		&n.Token,
		&n.TokenSymbol,
		&n.Root,
		&n.RootID,
		&n.IsSpent,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func insertNoteTx(ctx context.Context, tx pgx.Tx, note *models.Note) error {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}

	now := time.Now()
	note.CreatedAt = now
	note.UpdatedAt = now

	query := `
		INSERT INTO notes (id, owner, commitment, secret, nullifier, backup, note_index,
			amount, token, token_symbol, root, root_id, is_spent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := tx.Exec(ctx, query,
		note.ID,
		note.Owner,
		note.Commitment,
		note.Secret,
		note.Nullifier,
		note.Backup,
		note.NoteIndex,
		note.Amount,
		note.Token,
		note.TokenSymbol,
		note.Root,
		note.RootID,
		note.IsSpent,
		note.CreatedAt,
		note.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.NewDuplicateCommitmentError(note.Commitment)
		}
		return fmt.Errorf("failed to insert note: %w", err)
	}

	return nil
}

// Insert stores a new unspent note. A duplicate commitment is rejected by
// the unique index and surfaced as a categorized conflict.
func (r *NoteRepository) Insert(ctx context.Context, note *models.Note) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // nolint:errcheck // no-op after commit

	if err := insertNoteTx(ctx, tx, note); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetByCommitment retrieves a note by its commitment
func (r *NoteRepository) GetByCommitment(ctx context.Context, commitment string) (*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE commitment = $1`

	note, err := scanNote(r.db.Pool().QueryRow(ctx, query, commitment))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("note", commitment)
		}
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return note, nil
}

// LatestNoteIndex returns the highest note index assigned to the owner,
// zero when the owner has no notes yet. The next note takes index+1.
func (r *NoteRepository) LatestNoteIndex(ctx context.Context, owner string) (int64, error) {
	var index int64
	query := `SELECT COALESCE(MAX(note_index), 0) FROM notes WHERE owner = $1`

	if err := r.db.Pool().QueryRow(ctx, query, owner).Scan(&index); err != nil {
		return 0, fmt.Errorf("failed to get latest note index: %w", err)
	}
	return index, nil
}

// ListUnspent retrieves the owner's unspent notes for a token, oldest
// note index first. Spend selection depends on this ordering.
func (r *NoteRepository) ListUnspent(ctx context.Context, owner, token string) ([]*models.Note, error) {
	query := `
		SELECT ` + noteColumns + `
		FROM notes
		WHERE owner = $1 AND token = $2 AND is_spent = FALSE
		ORDER BY note_index ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, owner, token)
	if err != nil {
		return nil, fmt.Errorf("failed to list unspent notes: %w", err)
	}
	defer rows.Close()

	var notes []*models.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}

	return notes, nil
}

// ListByOwner retrieves all of the owner's notes, newest first
func (r *NoteRepository) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*models.Note, error) {
	query := `
		SELECT ` + noteColumns + `
		FROM notes
		WHERE owner = $1
		ORDER BY note_index DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*models.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}

	return notes, nil
}

// Balances sums unspent note amounts per token for the owner, keyed by
// symbol when one is known and by the raw token address otherwise
func (r *NoteRepository) Balances(ctx context.Context, owner string) ([]*types.TokenBalance, error) {
	query := `
		SELECT COALESCE(token_symbol, token) AS token_key, SUM(amount)::text
		FROM notes
		WHERE owner = $1 AND is_spent = FALSE
		GROUP BY token_key
		ORDER BY token_key
	`

	rows, err := r.db.Pool().Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []*types.TokenBalance
	for rows.Next() {
		var b types.TokenBalance
		if err := rows.Scan(&b.Token, &b.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balances: %w", err)
	}

	return balances, nil
}

func markSpentTx(ctx context.Context, tx pgx.Tx, commitment string, now time.Time) error {
	// Idempotent: already-spent and unknown commitments are no-ops so a
	// partial overlap cannot fail the enclosing transaction
	query := `
		UPDATE notes
		SET is_spent = TRUE, updated_at = $2
		WHERE commitment = $1
	`

	if _, err := tx.Exec(ctx, query, commitment, now); err != nil {
		return fmt.Errorf("failed to mark note spent: %w", err)
	}
	return nil
}

// MarkSpent flips a single note to spent
func (r *NoteRepository) MarkSpent(ctx context.Context, commitment string) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // nolint:errcheck // no-op after commit

	if err := markSpentTx(ctx, tx, commitment, time.Now()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CommitSpend applies a spend atomically: the consumed notes flip to
// spent, the new notes are inserted, and the audit receipt is recorded,
// all in one database transaction. A failure anywhere rolls back the
// whole ledger mutation.
func (r *NoteRepository) CommitSpend(ctx context.Context, spentCommitments []string, newNotes []*models.Note, receipt *models.Transaction) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // nolint:errcheck // no-op after commit

	now := time.Now()
	for _, commitment := range spentCommitments {
		if err := markSpentTx(ctx, tx, commitment, now); err != nil {
			return err
		}
	}

	for _, note := range newNotes {
		if err := insertNoteTx(ctx, tx, note); err != nil {
			return err
		}
	}

	if receipt != nil {
		if err := insertTransactionTx(ctx, tx, receipt); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit spend: %w", err)
	}
	return nil
}
