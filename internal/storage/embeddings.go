package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
	"github.com/jmbish04/gh-stars-sink/internal/processor"
)

// reconcileSource brings the stored chunks of one (repository, source)
// in line with src.Chunks. Rows whose fingerprint is unchanged are left
// alone so their created_at survives; changed or missing rows are written
// with the supplied vector; rows at or past the new chunk count are
// deleted. A changed chunk without a vector is skipped and counted as
// missing so no placeholder vector is ever stored.
func reconcileSource(ctx context.Context, tx *sql.Tx, repoID int64, src SourceUpdate, now time.Time, result *ApplyResult) error {
	if !src.Source.Valid() {
		return apperrors.NewValidationError("source", string(src.Source))
	}

	stored := make(map[int]string)

	rows, err := tx.QueryContext(ctx,
		"SELECT chunk_index, content_hash FROM embeddings WHERE repo_id = ? AND source = ?",
		repoID, string(src.Source))
	if err != nil {
		return storageErr(err, "failed to read %s chunks of %d", src.Source, repoID)
	}

	for rows.Next() {
		var (
			idx  int
			hash string
		)

		if err := rows.Scan(&idx, &hash); err != nil {
			rows.Close()
			return storageErr(err, "failed to scan chunk fingerprint")
		}

		stored[idx] = hash
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return storageErr(err, "failed to read chunk fingerprints")
	}

	for _, chunk := range src.Chunks {
		hash, exists := stored[chunk.Index]
		if exists && hash == chunk.Hash {
			result.VectorsUnchanged++
			continue
		}

		vector, ok := src.Vectors[chunk.Index]
		if !ok || len(vector) == 0 {
			result.VectorsMissing++

			logging.WithFields(map[string]interface{}{
				"repo_id": repoID,
				"source":  src.Source,
				"chunk":   chunk.Index,
			}).Debug("no vector for changed chunk, leaving stored row")

			continue
		}

		encoded, err := json.Marshal(vector)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrTypeInternal, "failed to encode vector")
		}

		if exists {
			_, err = tx.ExecContext(ctx, `
				UPDATE embeddings
				SET content = ?, dim = ?, content_hash = ?, vector = ?, model = ?, created_at = ?
				WHERE repo_id = ? AND source = ? AND chunk_index = ?`,
				chunk.Content, len(vector), chunk.Hash, string(encoded), src.Model, now,
				repoID, string(src.Source), chunk.Index)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO embeddings (repo_id, source, chunk_index, content, dim, content_hash, vector, model, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				repoID, string(src.Source), chunk.Index, chunk.Content, len(vector), chunk.Hash,
				string(encoded), src.Model, now)
		}

		if err != nil {
			return storageErr(err, "failed to write %s chunk %d of %d", src.Source, chunk.Index, repoID)
		}

		result.VectorsWritten++
	}

	orphans := 0

	for idx := range stored {
		if idx >= len(src.Chunks) {
			orphans++
		}
	}

	if orphans > 0 {
		_, err := tx.ExecContext(ctx,
			"DELETE FROM embeddings WHERE repo_id = ? AND source = ? AND chunk_index >= ?",
			repoID, string(src.Source), len(src.Chunks))
		if err != nil {
			return storageErr(err, "failed to delete orphaned %s chunks of %d", src.Source, repoID)
		}

		result.VectorsDeleted += orphans
	}

	return nil
}

const embeddingColumns = "repo_id, source, chunk_index, content, dim, content_hash, vector, model, created_at"

func scanEmbedding(row rowScanner) (*EmbeddingChunk, error) {
	var (
		chunk  EmbeddingChunk
		source string
		vector string
		model  sql.NullString
	)

	err := row.Scan(&chunk.RepoID, &source, &chunk.ChunkIndex, &chunk.Content, &chunk.Dim,
		&chunk.ContentHash, &vector, &model, &chunk.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(vector), &chunk.Vector); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrTypeDatabase,
			"corrupt vector for %d/%s/%d", chunk.RepoID, source, chunk.ChunkIndex)
	}

	chunk.Source = processor.Source(source)
	chunk.Model = model.String
	chunk.CreatedAt = chunk.CreatedAt.UTC()

	return &chunk, nil
}

// ListEmbeddings returns the chunks of one repository ordered by source
// and index.
func (r *DuckDBRepository) ListEmbeddings(ctx context.Context, repoID int64) ([]EmbeddingChunk, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+embeddingColumns+" FROM embeddings WHERE repo_id = ? ORDER BY source, chunk_index", repoID)
	if err != nil {
		return nil, storageErr(err, "failed to list embeddings of %d", repoID)
	}
	defer rows.Close()

	var out []EmbeddingChunk

	for rows.Next() {
		chunk, err := scanEmbedding(rows)
		if err != nil {
			return nil, storageErr(err, "failed to scan embedding")
		}

		out = append(out, *chunk)
	}

	return out, rows.Err()
}

// ScanVectors streams every stored chunk to fn, stopping at the first
// error fn returns.
func (r *DuckDBRepository) ScanVectors(ctx context.Context, fn func(EmbeddingChunk) error) error {
	rows, err := r.db.QueryContext(ctx, "SELECT "+embeddingColumns+" FROM embeddings ORDER BY repo_id, source, chunk_index")
	if err != nil {
		return storageErr(err, "failed to scan embeddings")
	}
	defer rows.Close()

	for rows.Next() {
		chunk, err := scanEmbedding(rows)
		if err != nil {
			return storageErr(err, "failed to scan embedding")
		}

		if err := fn(*chunk); err != nil {
			return err
		}
	}

	return rows.Err()
}
