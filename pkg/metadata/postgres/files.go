package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

const fileColumns = `id, name, size, mime_type, download_url, storage_path, storage_type, folder_id, user_id, created_at`

func scanFile(row pgx.Row) (*metadata.FileRecord, error) {
	var (
		f           metadata.FileRecord
		storageType string
	)
	err := row.Scan(&f.ID, &f.Name, &f.Size, &f.MimeType, &f.DownloadURL, &f.StoragePath,
		&storageType, &f.FolderID, &f.UserID, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	f.StorageType = backend.StorageType(storageType)
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

func collectFiles(rows pgx.Rows) ([]*metadata.FileRecord, error) {
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
	if folderID != nil && !metadata.IsValidID(*folderID) {
		return []*metadata.FileRecord{}, nil
	}

	var (
		query strings.Builder
		args  = []any{userID}
	)
	query.WriteString(`SELECT ` + fileColumns + ` FROM files WHERE user_id = $1`)
	if folderID == nil {
		query.WriteString(` AND folder_id IS NULL`)
	} else {
		args = append(args, *folderID)
		query.WriteString(fmt.Sprintf(` AND folder_id = $%d`, len(args)))
	}
	query.WriteString(` ORDER BY created_at DESC, id DESC`)
	if page.Paged() {
		args = append(args, page.Size, page.Offset())
		query.WriteString(fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args)))
	}

	rows, err := g.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	files, err := collectFiles(rows)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

func (g *Gateway) GetFile(ctx context.Context, id, userID string) (*metadata.FileRecord, error) {
	if !metadata.IsValidID(id) {
		return nil, nil
	}

	f, err := scanFile(g.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
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

	err := pgx.BeginFunc(ctx, g.pool, func(tx pgx.Tx) error {
		if record.FolderID != nil {
			if err := ownedFolder(ctx, tx, *record.FolderID, record.UserID); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO files (`+fileColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			created.ID, created.Name, created.Size, created.MimeType, created.DownloadURL,
			created.StoragePath, string(created.StorageType), created.FolderID, created.UserID, created.CreatedAt)
		return err
	})
	if err != nil {
		return nil, wrap("create file", err)
	}
	return &created, nil
}

func (g *Gateway) UpdateFile(ctx context.Context, id, userID string, patch metadata.FilePatch) error {
	if !metadata.IsValidID(id) {
		return &errdefs.NotFoundError{Kind: "file", ID: id}
	}

	err := pgx.BeginFunc(ctx, g.pool, func(tx pgx.Tx) error {
		current, err := scanFile(tx.QueryRow(ctx,
			`SELECT `+fileColumns+` FROM files WHERE id = $1 AND user_id = $2 FOR UPDATE`, id, userID))
		if errors.Is(err, pgx.ErrNoRows) {
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
			if !metadata.IsValidID(*patch.FolderID) {
				return &errdefs.NotFoundError{Kind: "folder", ID: *patch.FolderID}
			}
			if err := ownedFolder(ctx, tx, *patch.FolderID, userID); err != nil {
				return err
			}
			current.FolderID = patch.FolderID
		}
		if err := metadata.ValidateFile(current); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE files SET name = $1, folder_id = $2 WHERE id = $3 AND user_id = $4`,
			current.Name, current.FolderID, id, userID)
		return err
	})
	return wrap("update file", err)
}

func (g *Gateway) DeleteFile(ctx context.Context, id, userID string) error {
	if !metadata.IsValidID(id) {
		return &errdefs.NotFoundError{Kind: "file", ID: id}
	}

	tag, err := g.pool.Exec(ctx, `DELETE FROM files WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &errdefs.NotFoundError{Kind: "file", ID: id}
	}
	return nil
}

func (g *Gateway) SumFileSizes(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := g.pool.QueryRow(ctx, `SELECT COALESCE(SUM(size), 0)::BIGINT FROM files WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum file sizes: %w", err)
	}
	return total, nil
}

func (g *Gateway) ListStoredObjects(ctx context.Context, storageType backend.StorageType) ([]metadata.StoredObject, error) {
	rows, err := g.pool.Query(ctx, `SELECT storage_path FROM files WHERE storage_type = $1`, string(storageType))
	if err != nil {
		return nil, fmt.Errorf("list stored objects: %w", err)
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list stored objects: %w", err)
	}

	out := make([]metadata.StoredObject, len(paths))
	for i, p := range paths {
		out[i] = metadata.StoredObject{StorageType: storageType, StoragePath: p}
	}
	return out, nil
}

// wrap passes taxonomy errors through and adds context to the rest.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errdefs.IsNotFound(err) || errdefs.IsValidation(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
