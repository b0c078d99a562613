package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

const folderColumns = `id, name, parent_id, user_id, created_at`

// subtreeQuery selects the IDs of folder $1 and all its descendants, provided
// $1 belongs to user $2.
const subtreeQuery = `
WITH RECURSIVE tree AS (
    SELECT id FROM folders WHERE id = $1 AND user_id = $2
    UNION ALL
    SELECT f.id FROM folders f JOIN tree t ON f.parent_id = t.id WHERE f.user_id = $2
)
SELECT id::TEXT FROM tree`

func scanFolder(row pgx.Row) (*metadata.Folder, error) {
	var f metadata.Folder
	if err := row.Scan(&f.ID, &f.Name, &f.ParentID, &f.UserID, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

// ownedFolder returns NotFoundError unless id is a folder of userID.
func ownedFolder(ctx context.Context, q pgx.Tx, id, userID string) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM folders WHERE id = $1 AND user_id = $2)`, id, userID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return &errdefs.NotFoundError{Kind: "folder", ID: id}
	}
	return nil
}

func (g *Gateway) ListFolders(ctx context.Context, userID string, parentID *string) ([]*metadata.Folder, error) {
	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case parentID == nil:
		rows, err = g.pool.Query(ctx,
			`SELECT `+folderColumns+` FROM folders WHERE user_id = $1 AND parent_id IS NULL ORDER BY name COLLATE "C", id`, userID)
	case !metadata.IsValidID(*parentID):
		return []*metadata.Folder{}, nil
	default:
		rows, err = g.pool.Query(ctx,
			`SELECT `+folderColumns+` FROM folders WHERE user_id = $1 AND parent_id = $2 ORDER BY name COLLATE "C", id`, userID, *parentID)
	}
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	out := []*metadata.Folder{}
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("list folders: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return out, nil
}

func (g *Gateway) GetFolder(ctx context.Context, id, userID string) (*metadata.Folder, error) {
	if !metadata.IsValidID(id) {
		return nil, nil
	}

	f, err := scanFolder(g.pool.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get folder %s: %w", id, err)
	}
	return f, nil
}

func (g *Gateway) CreateFolder(ctx context.Context, folder *metadata.Folder) (*metadata.Folder, error) {
	if err := metadata.ValidateFolder(folder); err != nil {
		return nil, err
	}

	created := *folder
	created.ID = metadata.NewID()
	created.CreatedAt = g.timestamp()

	err := pgx.BeginFunc(ctx, g.pool, func(tx pgx.Tx) error {
		if folder.ParentID != nil {
			if err := ownedFolder(ctx, tx, *folder.ParentID, folder.UserID); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO folders (`+folderColumns+`) VALUES ($1, $2, $3, $4, $5)`,
			created.ID, created.Name, created.ParentID, created.UserID, created.CreatedAt)
		return err
	})
	if err != nil {
		return nil, wrap("create folder", err)
	}
	return &created, nil
}

// DeleteFolder removes the subtree in one transaction: either every
// descendant folder and contained file is gone, or nothing is.
func (g *Gateway) DeleteFolder(ctx context.Context, id, userID string) error {
	if !metadata.IsValidID(id) {
		return &errdefs.NotFoundError{Kind: "folder", ID: id}
	}

	err := pgx.BeginFunc(ctx, g.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, subtreeQuery, id, userID)
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return &errdefs.NotFoundError{Kind: "folder", ID: id}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM files WHERE user_id = $1 AND folder_id = ANY($2::UUID[])`, userID, ids); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM folders WHERE user_id = $1 AND id = ANY($2::UUID[])`, userID, ids)
		return err
	})
	return wrap("delete folder", err)
}

// DeleteEmptyFolder locks the subtree's folder rows before counting files.
// A concurrent file insert needs a key-share lock on its folder row, so it
// waits for this transaction and then fails its foreign key.
func (g *Gateway) DeleteEmptyFolder(ctx context.Context, id, userID string) error {
	if !metadata.IsValidID(id) {
		return &errdefs.NotFoundError{Kind: "folder", ID: id}
	}

	err := pgx.BeginFunc(ctx, g.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, subtreeQuery, id, userID)
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return &errdefs.NotFoundError{Kind: "folder", ID: id}
		}

		if _, err := tx.Exec(ctx,
			`SELECT id FROM folders WHERE user_id = $1 AND id = ANY($2::UUID[]) FOR UPDATE`, userID, ids); err != nil {
			return err
		}

		var remaining int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM files WHERE user_id = $1 AND folder_id = ANY($2::UUID[])`, userID, ids).Scan(&remaining); err != nil {
			return err
		}
		if remaining > 0 {
			return &errdefs.FolderNotEmptyError{ID: id, Files: remaining}
		}

		_, err = tx.Exec(ctx, `DELETE FROM folders WHERE user_id = $1 AND id = ANY($2::UUID[])`, userID, ids)
		return err
	})
	return wrap("delete empty folder", err)
}

func (g *Gateway) ListSubtreeFiles(ctx context.Context, folderID, userID string) ([]*metadata.FileRecord, error) {
	if !metadata.IsValidID(folderID) {
		return nil, &errdefs.NotFoundError{Kind: "folder", ID: folderID}
	}

	var files []*metadata.FileRecord
	err := pgx.BeginTxFunc(ctx, g.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, subtreeQuery, folderID, userID)
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return &errdefs.NotFoundError{Kind: "folder", ID: folderID}
		}

		fileRows, err := tx.Query(ctx,
			`SELECT `+fileColumns+` FROM files WHERE user_id = $1 AND folder_id = ANY($2::UUID[]) ORDER BY id`, userID, ids)
		if err != nil {
			return err
		}
		files, err = collectFiles(fileRows)
		return err
	})
	if err != nil {
		return nil, wrap("list subtree files", err)
	}
	return files, nil
}
