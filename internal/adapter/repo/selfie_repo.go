package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/sqlinline"
)

// SelfieRepositoryPG implements domain.SelfieRepository.
type SelfieRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewSelfieRepository(sql infra.SQLExecutor) *SelfieRepositoryPG {
	return &SelfieRepositoryPG{sql: sql}
}

// ListByKeys returns the stored selfies among keys. Unknown keys are skipped.
func (r *SelfieRepositoryPG) ListByKeys(ctx context.Context, keys []string) ([]domain.Selfie, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := r.sql.Query(ctx, sqlinline.QSelectSelfiesByKeys, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Selfie
	for rows.Next() {
		var (
			s              domain.Selfie
			classification []byte
			flags          []byte
		)
		if err := rows.Scan(&s.Key, &s.ProcessedKey, &classification, &flags); err != nil {
			return nil, err
		}
		if len(classification) > 0 && string(classification) != "null" {
			var c domain.Classification
			if err := json.Unmarshal(classification, &c); err != nil {
				return nil, fmt.Errorf("decode classification for %s: %w", s.Key, err)
			}
			s.Classification = &c
		}
		if err := unmarshalIfPresent(flags, &s.ValidationFlags); err != nil {
			return nil, fmt.Errorf("decode validation flags for %s: %w", s.Key, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SelfieRepositoryPG) SaveClassification(ctx context.Context, key string, c domain.Classification) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QUpdateSelfieClassification, key, raw)
	return err
}

func (r *SelfieRepositoryPG) SaveProcessedKey(ctx context.Context, key, processedKey string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpdateSelfieProcessedKey, key, processedKey)
	return err
}

var _ domain.SelfieRepository = (*SelfieRepositoryPG)(nil)
