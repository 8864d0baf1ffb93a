package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/felixgeelhaar/recall/internal/memory"
)

var _ memory.Backend = (*SQLiteStore)(nil)

func (s *SQLiteStore) Insert(ctx context.Context, rec memory.Record) error {
	// Serialize vector
	vecBuf := new(bytes.Buffer)
	if err := binary.Write(vecBuf, binary.LittleEndian, rec.Embedding); err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}

	// Serialize meta
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `INSERT INTO memories (id, user_id, content, hash, vector, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.Memory, rec.Hash, vecBuf.Bytes(), string(metaJSON), rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (s *SQLiteStore) Search(ctx context.Context, userID string, queryVector []float32, limit int) ([]memory.Item, error) {
	// Naive implementation: load the user's rows, compute cosine, sort.
	// OK for local use (<10k memories).
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content, hash, vector, metadata, created_at, updated_at FROM memories WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []memory.Item
	for rows.Next() {
		item, vector, err := scanMemory(rows)
		if err != nil {
			continue
		}
		item.Score = memory.CosineSimilarity(queryVector, vector)
		scored = append(scored, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Sort desc
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	// Limit
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *SQLiteStore) List(ctx context.Context, userID string) ([]memory.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content, hash, vector, metadata, created_at, updated_at FROM memories WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []memory.Item{}
	for rows.Next() {
		item, _, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) DeleteAll(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanMemory(row scanner) (memory.Item, []float32, error) {
	var item memory.Item
	var vecBlob []byte
	var metaJSON string

	if err := row.Scan(&item.ID, &item.UserID, &item.Memory, &item.Hash, &vecBlob, &metaJSON, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return item, nil, err
	}

	// Decode vector
	vector := make([]float32, len(vecBlob)/4)
	if err := binary.Read(bytes.NewReader(vecBlob), binary.LittleEndian, &vector); err != nil {
		return item, nil, fmt.Errorf("failed to decode vector: %w", err)
	}

	if metaJSON != "" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &item.Metadata); err != nil {
			return item, nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return item, vector, nil
}
