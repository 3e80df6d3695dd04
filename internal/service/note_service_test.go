package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	apperrors "github.com/shield-wallet/internal/errors"
	"github.com/shield-wallet/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOwner = "0xowner01"
	testToken = "0xtoken01"
)

func noteFixture(owner string, index int64, amount string, spent bool) *models.Note {
	return &models.Note{
		ID:         fmt.Sprintf("note-%s-%d", owner, index),
		Owner:      owner,
		Commitment: fmt.Sprintf("0xcommit-%s-%d", owner, index),
		Secret:     fmt.Sprintf("0xsecret%d", index),
		Nullifier:  fmt.Sprintf("0xnull%d", index),
		NoteIndex:  index,
		Amount:     amount,
		Token:      testToken,
		IsSpent:    spent,
	}
}

func newNoteFixtureService(notes ...*models.Note) (*NoteService, *mockNoteRepo) {
	repo := newMockNoteRepo()
	for _, n := range notes {
		repo.addNote(n)
	}
	return NewNoteService(repo), repo
}

func TestLatestNoteIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("zero when owner has no notes", func(t *testing.T) {
		svc, _ := newNoteFixtureService()
		idx, err := svc.LatestNoteIndex(ctx, testOwner)
		require.NoError(t, err)
		assert.Equal(t, int64(0), idx)
	})

	t.Run("highest index including spent notes", func(t *testing.T) {
		svc, _ := newNoteFixtureService(
			noteFixture(testOwner, 1, "10", true),
			noteFixture(testOwner, 2, "20", false),
			noteFixture(testOwner, 3, "30", true),
			noteFixture("0xother", 9, "5", false),
		)
		idx, err := svc.LatestNoteIndex(ctx, testOwner)
		require.NoError(t, err)
		assert.Equal(t, int64(3), idx)
	})
}

func TestUnspentBalance(t *testing.T) {
	ctx := context.Background()
	svc, _ := newNoteFixtureService(
		noteFixture(testOwner, 1, "10.5", false),
		noteFixture(testOwner, 2, "0.000000000000000001", false),
		noteFixture(testOwner, 3, "100", true), // spent, excluded
	)

	total, err := svc.UnspentBalance(ctx, testOwner, testToken)
	require.NoError(t, err)
	assert.Equal(t, "10.500000000000000001", total.String())
}

func TestSelectNotesForSpend(t *testing.T) {
	ctx := context.Background()

	// Unspent notes of 30, 40 and 50 at indexes 1, 2 and 3
	setup := func() *NoteService {
		svc, _ := newNoteFixtureService(
			noteFixture(testOwner, 1, "30", false),
			noteFixture(testOwner, 2, "40", false),
			noteFixture(testOwner, 3, "50", false),
		)
		return svc
	}

	t.Run("accumulates oldest first until strictly over the target", func(t *testing.T) {
		svc := setup()
		selected, total, err := svc.SelectNotesForSpend(ctx, testOwner, testToken, decimal.NewFromInt(60))
		require.NoError(t, err)
		require.Len(t, selected, 2)
		assert.Equal(t, int64(1), selected[0].NoteIndex)
		assert.Equal(t, int64(2), selected[1].NoteIndex)
		assert.Equal(t, "70", total.String())
	})

	t.Run("exact cover is not enough, strict excess is required", func(t *testing.T) {
		svc := setup()
		selected, total, err := svc.SelectNotesForSpend(ctx, testOwner, testToken, decimal.NewFromInt(70))
		require.NoError(t, err)
		require.Len(t, selected, 3)
		assert.Equal(t, "120", total.String())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		svc := setup()
		_, _, err := svc.SelectNotesForSpend(ctx, testOwner, testToken, decimal.NewFromInt(130))
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "INSUFFICIENT_BALANCE"))
	})

	t.Run("spent notes never participate", func(t *testing.T) {
		svc, _ := newNoteFixtureService(
			noteFixture(testOwner, 1, "1000", true),
			noteFixture(testOwner, 2, "5", false),
		)
		_, _, err := svc.SelectNotesForSpend(ctx, testOwner, testToken, decimal.NewFromInt(10))
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, "INSUFFICIENT_BALANCE"))
	})
}

// Selection is an ascending-index prefix whose total strictly exceeds the
// target, and the shortest such prefix. Checked over random note sets.
func TestSelectNotesForSpendProperties(t *testing.T) {
	ctx := context.Background()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	genAmounts := gen.SliceOfN(8, gen.Int64Range(1, 100))
	genTarget := gen.Int64Range(1, 400)

	properties.Property("selection is the shortest strictly-exceeding prefix", prop.ForAll(
		func(amounts []int64, target int64) bool {
			var notes []*models.Note
			var sum int64
			for i, a := range amounts {
				notes = append(notes, noteFixture(testOwner, int64(i+1), decimal.NewFromInt(a).String(), false))
				sum += a
			}
			svc, _ := newNoteFixtureService(notes...)

			selected, total, err := svc.SelectNotesForSpend(ctx, testOwner, testToken, decimal.NewFromInt(target))
			if sum <= target {
				return err != nil && apperrors.Is(err, "INSUFFICIENT_BALANCE")
			}
			if err != nil {
				return false
			}

			// Prefix of the ascending index order
			for i, n := range selected {
				if n.NoteIndex != int64(i+1) {
					return false
				}
			}
			// Strictly exceeds, and change is positive
			if !total.GreaterThan(decimal.NewFromInt(target)) {
				return false
			}
			// Shortest: dropping the last selected note must not suffice
			withoutLast := decimal.Zero
			for _, n := range selected[:len(selected)-1] {
				d, _ := n.AmountDecimal()
				withoutLast = withoutLast.Add(d)
			}
			return !withoutLast.GreaterThan(decimal.NewFromInt(target))
		},
		genAmounts, genTarget,
	))

	properties.TestingRun(t)
}

func TestUnspentBalanceByToken(t *testing.T) {
	ctx := context.Background()
	other := noteFixture(testOwner, 4, "7", false)
	other.Token = "0xtoken02"
	svc, _ := newNoteFixtureService(
		noteFixture(testOwner, 1, "30", false),
		noteFixture(testOwner, 2, "40", true),
		other,
	)

	balances, err := svc.UnspentBalanceByToken(ctx, testOwner)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, testToken, balances[0].Token)
	assert.Equal(t, "30", balances[0].Amount)
	assert.Equal(t, "0xtoken02", balances[1].Token)
	assert.Equal(t, "7", balances[1].Amount)
}

func TestInsertNoteDuplicateCommitment(t *testing.T) {
	ctx := context.Background()
	svc, _ := newNoteFixtureService()

	note := noteFixture(testOwner, 1, "10", false)
	require.NoError(t, svc.InsertNote(ctx, note))

	dup := noteFixture("0xother", 1, "99", false)
	dup.Commitment = note.Commitment
	err := svc.InsertNote(ctx, dup)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, "DUPLICATE_COMMITMENT"))
}

func TestMarkSpentTolerantOfOverlap(t *testing.T) {
	ctx := context.Background()
	note := noteFixture(testOwner, 1, "10", false)
	svc, repo := newNoteFixtureService(note)

	require.NoError(t, svc.MarkSpent(ctx, note.Commitment))
	// Re-marking a spent note and marking an unknown commitment both
	// succeed without disturbing the ledger
	require.NoError(t, svc.MarkSpent(ctx, note.Commitment))
	require.NoError(t, svc.MarkSpent(ctx, "0xneverseen"))

	after := repo.snapshot()
	require.Len(t, after, 1)
	assert.True(t, after[note.Commitment].IsSpent)
}

func TestListNotesClampsPagination(t *testing.T) {
	ctx := context.Background()
	svc, _ := newNoteFixtureService(
		noteFixture(testOwner, 1, "10", false),
		noteFixture(testOwner, 2, "20", false),
	)

	notes, err := svc.ListNotes(ctx, testOwner, -5, -1)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	// Newest first
	assert.Equal(t, int64(2), notes[0].NoteIndex)
}
