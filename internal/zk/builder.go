package zk

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	apperrors "github.com/shield-wallet/internal/errors"
	"github.com/shield-wallet/internal/models"
)

const (
	// InputWidth is the static arity of the proof circuit's input arrays.
	// Variable-length note sets must fit this width or be rejected.
	InputWidth = 16

	// secretBytes is the width of freshly drawn note secrets
	secretBytes = 24

	// zeroField is the sentinel padding unused input slots
	zeroField = "0"

	// notePrefix tags human-readable backup strings
	notePrefix = "privstark"
)

// NewNote is a freshly derived output note before ledger insertion
type NewNote struct {
	Commitment string
	Secret     string
	Nullifier  string
	Backup     string
	NoteIndex  int64
}

// TransferOutputs holds the recipient note and, when change is due, the
// change note back to the sender. Change is nil for exact-amount spends:
// a zero-value note must never be created.
type TransferOutputs struct {
	Recipient *NewNote
	Change    *NewNote
}

// ProofInputs is the padded input record handed to the external prover.
// Old-note fields sit in parallel arrays of fixed length InputWidth,
// right-padded with the zero sentinel.
type ProofInputs struct {
	RootIDList      [InputWidth]string `json:"root_id_list"`
	RootList        [InputWidth]string `json:"root_list"`
	NullifierHashes [InputWidth]string `json:"nullifier_hashes"`
	CommitmentList  [InputWidth]string `json:"commitment_list"`
	SecretInList    [InputWidth]string `json:"secret_in_list"`
	NoteIndexList   [InputWidth]string `json:"note_index_list"`
	AmountInList    [InputWidth]string `json:"amount_in_list"`

	NewCommitment1 string `json:"new_commitment_1"`
	NewCommitment2 string `json:"new_commitment_2"`

	TokenOut          string `json:"token_out"`
	AmountOut         string `json:"amount_out"`
	RecipientWithdraw string `json:"recipient_withdraw"`

	OwnerIn      string `json:"owner_in"`
	Token        string `json:"token"`
	AmountToSend string `json:"amount_to_send"`
	Recipient    string `json:"recipient"`

	NewSecretSender    string `json:"new_secret_sender"`
	NewNoteIndexSender string `json:"new_note_index_sender"`

	NewSecretRecipient    string `json:"new_secret_recipient"`
	NewNoteIndexRecipient string `json:"new_note_index_recipient"`
}

// Builder derives output notes and packs prover inputs
type Builder struct {
	hasher Hasher
}

// NewBuilder creates a Builder over the given hash primitive
func NewBuilder(h Hasher) *Builder {
	return &Builder{hasher: h}
}

// DeriveNullifier computes H(H(secret, noteIndex), 0). The double hash
// separates the published nullifier namespace from the raw pre-image so a
// nullifier never leaks the secret.
func (b *Builder) DeriveNullifier(secret string, noteIndex int64) (string, error) {
	secretFelt, err := ParseFelt(secret)
	if err != nil {
		return "", fmt.Errorf("parsing secret: %w", err)
	}
	preImage := b.hasher.H2(secretFelt, big.NewInt(noteIndex))
	nullifier := b.hasher.H2(preImage, big.NewInt(0))
	return FeltHex(nullifier), nil
}

// GenerateNote draws a fresh secret and derives the commitment
// H4(secret, nullifier, amount, recipient) plus a backup string for
// out-of-band recovery. amount is in base units.
func (b *Builder) GenerateNote(amount *big.Int, recipient string, noteIndex int64) (*NewNote, error) {
	secretRaw := make([]byte, secretBytes)
	if _, err := rand.Read(secretRaw); err != nil {
		return nil, fmt.Errorf("generating note secret: %w", err)
	}
	secret := "0x" + hex.EncodeToString(secretRaw)

	nullifier, err := b.DeriveNullifier(secret, noteIndex)
	if err != nil {
		return nil, err
	}

	secretFelt, _ := ParseFelt(secret)
	nullifierFelt, _ := ParseFelt(nullifier)
	commitment := FeltHex(b.hasher.H4(secretFelt, nullifierFelt, amount, EncodeIdentity(recipient)))

	return &NewNote{
		Commitment: commitment,
		Secret:     secret,
		Nullifier:  nullifier,
		Backup:     fmt.Sprintf("%s-%s-%s-%s", notePrefix, commitment, hex.EncodeToString(secretRaw), nullifier),
		NoteIndex:  noteIndex,
	}, nil
}

// BuildTransferOutputs derives the recipient output note and, when
// changeAmount is positive, the change note back to the sender.
// Amounts are in base units.
func (b *Builder) BuildTransferOutputs(
	amountToSend *big.Int,
	recipient string,
	recipientNoteIndex int64,
	changeAmount *big.Int,
	sender string,
	senderNoteIndex int64,
) (*TransferOutputs, error) {
	recipientNote, err := b.GenerateNote(amountToSend, recipient, recipientNoteIndex)
	if err != nil {
		return nil, err
	}

	outputs := &TransferOutputs{Recipient: recipientNote}

	if changeAmount != nil && changeAmount.Sign() > 0 {
		changeNote, err := b.GenerateNote(changeAmount, sender, senderNoteIndex)
		if err != nil {
			return nil, err
		}
		outputs.Change = changeNote
	}

	return outputs, nil
}

// SpendParams carries the scalar inputs of a spend alongside the note sets
type SpendParams struct {
	Sender            string
	Token             string
	AmountToSend      *big.Int
	TokenOut          string   // Unshield target token, zero sentinel otherwise
	AmountOut         *big.Int // Unshield amount, nil otherwise
	Recipient         string
	RecipientWithdraw string // Public address receiving unshielded funds
}

// BuildProofInputs places old-note fields into the parallel fixed-width
// arrays and attaches the new commitments. Old-note amounts are scaled to
// base units by the caller-provided toUnits conversion.
func (b *Builder) BuildProofInputs(
	oldNotes []*models.Note,
	outputs *TransferOutputs,
	params *SpendParams,
	toUnits func(amount string) (*big.Int, error),
) (*ProofInputs, error) {
	if len(oldNotes) == 0 {
		return nil, apperrors.NewEmptyOldNotesError()
	}
	if len(oldNotes) > InputWidth {
		return nil, apperrors.NewTooManyInputsError(len(oldNotes), InputWidth)
	}
	if outputs == nil || outputs.Recipient == nil {
		return nil, apperrors.NewMissingRecipientCommitmentError()
	}

	inputs := &ProofInputs{}
	for i := range inputs.RootIDList {
		inputs.RootIDList[i] = zeroField
		inputs.RootList[i] = zeroField
		inputs.NullifierHashes[i] = zeroField
		inputs.CommitmentList[i] = zeroField
		inputs.SecretInList[i] = zeroField
		inputs.NoteIndexList[i] = zeroField
		inputs.AmountInList[i] = zeroField
	}

	for i, note := range oldNotes {
		units, err := toUnits(note.Amount)
		if err != nil {
			return nil, fmt.Errorf("converting amount of note %s: %w", note.Commitment, err)
		}
		inputs.RootIDList[i] = note.RootID
		inputs.RootList[i] = note.Root
		inputs.NullifierHashes[i] = note.Nullifier
		inputs.CommitmentList[i] = note.Commitment
		inputs.SecretInList[i] = note.Secret
		inputs.NoteIndexList[i] = fmt.Sprintf("%d", note.NoteIndex)
		inputs.AmountInList[i] = units.String()
	}

	inputs.NewCommitment1 = outputs.Recipient.Commitment
	inputs.NewCommitment2 = zeroField
	inputs.NewSecretSender = zeroField
	inputs.NewNoteIndexSender = "0"
	if outputs.Change != nil {
		inputs.NewCommitment2 = outputs.Change.Commitment
		inputs.NewSecretSender = outputs.Change.Secret
		inputs.NewNoteIndexSender = fmt.Sprintf("%d", outputs.Change.NoteIndex)
	}

	inputs.NewSecretRecipient = outputs.Recipient.Secret
	inputs.NewNoteIndexRecipient = fmt.Sprintf("%d", outputs.Recipient.NoteIndex)

	inputs.OwnerIn = FeltHex(EncodeIdentity(params.Sender))
	inputs.Token = params.Token
	inputs.AmountToSend = params.AmountToSend.String()
	inputs.Recipient = FeltHex(EncodeIdentity(params.Recipient))

	inputs.TokenOut = zeroField
	inputs.AmountOut = "0"
	inputs.RecipientWithdraw = zeroField
	if params.TokenOut != "" {
		inputs.TokenOut = params.TokenOut
	}
	if params.AmountOut != nil {
		inputs.AmountOut = params.AmountOut.String()
	}
	if params.RecipientWithdraw != "" {
		inputs.RecipientWithdraw = FeltHex(EncodeIdentity(params.RecipientWithdraw))
	}

	return inputs, nil
}
