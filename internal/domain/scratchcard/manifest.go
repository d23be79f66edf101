package scratchcard

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/scoredesk/scoredesk-api/internal/pkg/logger"
	"github.com/scoredesk/scoredesk-api/internal/pkg/storage"
)

const manifestContentType = "text/csv"

func manifestKey(batchID uuid.UUID) string {
	return fmt.Sprintf("scratch-cards/batches/%s.csv", batchID)
}

// encodeManifest renders the printable list of a batch. It is the only
// artefact besides the issuance response that contains PINs.
func encodeManifest(cards []IssuedCard) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"serial_number", "pin", "amount", "max_usage", "term_id", "expires_at"}); err != nil {
		return nil, err
	}
	for _, c := range cards {
		term, expires := "", ""
		if c.TermID != nil {
			term = *c.TermID
		}
		if c.ExpiresAt != nil {
			expires = c.ExpiresAt.UTC().Format(time.RFC3339)
		}
		row := []string{c.SerialNumber, c.Pin, c.Amount.StringFixed(2), strconv.Itoa(c.MaxUsage), term, expires}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// uploadManifest stores the batch manifest and returns its URL. A missing
// storage backend yields an empty URL.
func (s *Service) uploadManifest(ctx context.Context, batchID uuid.UUID, cards []IssuedCard) (string, error) {
	if s.manifests == nil {
		return "", nil
	}
	body, err := encodeManifest(cards)
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	key := manifestKey(batchID)
	if err := s.manifests.Put(ctx, key, bytes.NewReader(body), manifestContentType); err != nil {
		return "", err
	}
	return s.manifests.GetURL(key), nil
}

// Manifest opens the stored manifest of a batch. The caller closes it.
func (s *Service) Manifest(ctx context.Context, batchID uuid.UUID) (io.ReadCloser, error) {
	if s.manifests == nil {
		return nil, ErrManifestNotFound
	}
	body, err := s.manifests.Get(ctx, manifestKey(batchID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrManifestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	logger.LogInfo(ctx, "Batch manifest opened", "batch_id", batchID.String())
	return body, nil
}
