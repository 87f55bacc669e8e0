package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DocumentService allocates gapless document numbers of the form PREFIX-YEAR-NNNNN.
// Numbers are allocated inside the caller's transaction so a rollback releases them.
type DocumentService interface {
	NextNumberTx(ctx context.Context, tx pgx.Tx, prefix string, year int) (string, error)
}

type documentService struct{}

func NewDocumentService() DocumentService {
	return &documentService{}
}

func (s *documentService) NextNumberTx(ctx context.Context, tx pgx.Tx, prefix string, year int) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("document prefix is required")
	}

	// The row lock taken by ON CONFLICT DO UPDATE serialises concurrent allocations
	// for the same prefix and year until the caller commits.
	var lastNumber int64
	err := tx.QueryRow(ctx, `
		INSERT INTO document_sequences (prefix, year, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, year)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number
	`, prefix, year).Scan(&lastNumber)
	if err != nil {
		return "", fmt.Errorf("failed to allocate %s number: %w", prefix, classifyPgError(err))
	}

	return FormatDocumentNumber(prefix, year, lastNumber), nil
}

// FormatDocumentNumber renders PREFIX-YEAR-NNNNN.
func FormatDocumentNumber(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, n)
}
