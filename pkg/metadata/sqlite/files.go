package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

const fileColumns = `id, name, size, mime_type, download_url, storage_path, storage_type, folder_id, user_id, created_at`

type scanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanFile(row scanner) (*metadata.FileRecord, error) {
	var (
		f           metadata.FileRecord
		storageType string
		folderID    sql.NullString
		createdAt   int64
	)
	err := row.Scan(&f.ID, &f.Name, &f.Size, &f.MimeType, &f.DownloadURL, &f.StoragePath,
		&storageType, &folderID, &f.UserID, &createdAt)
	if err != nil {
		return nil, err
	}
	f.StorageType = backend.StorageType(storageType)
	f.FolderID = fromNullable(folderID)
	f.CreatedAt = fromMicros(createdAt)
	return &f, nil
}

func queryFiles(ctx context.Context, q querier, query string, args ...any) ([]*metadata.FileRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*metadata.FileRecord{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (g *Gateway) ListFiles(ctx context.Context, userID string, folderID *string, page metadata.Page) ([]*metadata.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE user_id = ?`
	args := []any{userID}
	if folderID == nil {
		query += ` AND folder_id IS NULL`
	} else {
		query += ` AND folder_id = ?`
		args = append(args, *folderID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if page.Paged() {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.Size, page.Offset())
	}

	files, err := queryFiles(ctx, g.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

func (g *Gateway) GetFile(ctx context.Context, id, userID string) (*metadata.FileRecord, error) {
	f, err := scanFile(g.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", id, err)
	}
	return f, nil
}

func (g *Gateway) CreateFile(ctx context.Context, record *metadata.FileRecord) (*metadata.FileRecord, error) {
	if err := metadata.ValidateFile(record); err != nil {
		return nil, err
	}

	created := *record
	created.ID = metadata.NewID()
	created.CreatedAt = g.timestamp()

	err := g.withTx(ctx, func(tx *sql.Tx) error {
		if record.FolderID != nil {
			if err := ownedFolder(ctx, tx, *record.FolderID, record.UserID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			created.ID, created.Name, created.Size, created.MimeType, created.DownloadURL,
			created.StoragePath, string(created.StorageType), nullable(created.FolderID),
			created.UserID, created.CreatedAt.UnixMicro())
		return err
	})
	if err != nil {
		return nil, wrap("create file", err)
	}
	return &created, nil
}

func (g *Gateway) UpdateFile(ctx context.Context, id, userID string, patch metadata.FilePatch) error {
	err := g.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanFile(tx.QueryRowContext(ctx,
			`SELECT `+fileColumns+` FROM files WHERE id = ? AND user_id = ?`, id, userID))
		if errors.Is(err, sql.ErrNoRows) {
			return &errdefs.NotFoundError{Kind: "file", ID: id}
		}
		if err != nil {
			return err
		}

		if patch.Name != nil {
			current.Name = *patch.Name
		}
		switch {
		case patch.MoveToRoot:
			current.FolderID = nil
		case patch.FolderID != nil:
			if err := ownedFolder(ctx, tx, *patch.FolderID, userID); err != nil {
				return err
			}
			current.FolderID = patch.FolderID
		}
		if err := metadata.ValidateFile(current); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE files SET name = ?, folder_id = ? WHERE id = ? AND user_id = ?`,
			current.Name, nullable(current.FolderID), id, userID)
		return err
	})
	return wrap("update file", err)
}

func (g *Gateway) DeleteFile(ctx context.Context, id, userID string) error {
	res, err := g.db.ExecContext(ctx, `DELETE FROM files WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	if n == 0 {
		return &errdefs.NotFoundError{Kind: "file", ID: id}
	}
	return nil
}

func (g *Gateway) SumFileSizes(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := g.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM files WHERE user_id = ?`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum file sizes: %w", err)
	}
	return total, nil
}

func (g *Gateway) ListStoredObjects(ctx context.Context, storageType backend.StorageType) ([]metadata.StoredObject, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT storage_path FROM files WHERE storage_type = ?`, string(storageType))
	if err != nil {
		return nil, fmt.Errorf("list stored objects: %w", err)
	}
	defer rows.Close()

	var out []metadata.StoredObject
	for rows.Next() {
		obj := metadata.StoredObject{StorageType: storageType}
		if err := rows.Scan(&obj.StoragePath); err != nil {
			return nil, fmt.Errorf("list stored objects: %w", err)
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stored objects: %w", err)
	}
	return out, nil
}

func wrap(op string, err error) error {
	if err == nil || errdefs.IsNotFound(err) || errdefs.IsValidation(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
