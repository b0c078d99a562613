package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

const folderColumns = `id, name, parent_id, user_id, created_at`

const subtreeQuery = `
WITH RECURSIVE tree(id) AS (
    SELECT id FROM folders WHERE id = ?1 AND user_id = ?2
    UNION ALL
    SELECT f.id FROM folders f JOIN tree t ON f.parent_id = t.id WHERE f.user_id = ?2
)
SELECT id FROM tree`

func scanFolder(row scanner) (*metadata.Folder, error) {
	var (
		f         metadata.Folder
		parentID  sql.NullString
		createdAt int64
	)
	if err := row.Scan(&f.ID, &f.Name, &parentID, &f.UserID, &createdAt); err != nil {
		return nil, err
	}
	f.ParentID = fromNullable(parentID)
	f.CreatedAt = fromMicros(createdAt)
	return &f, nil
}

func ownedFolder(ctx context.Context, q querier, id, userID string) error {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM folders WHERE id = ? AND user_id = ?)`, id, userID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return &errdefs.NotFoundError{Kind: "folder", ID: id}
	}
	return nil
}

// subtreeIDs returns id and its descendants, or NotFoundError when id is
// not a folder of userID.
func subtreeIDs(ctx context.Context, q querier, id, userID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, subtreeQuery, id, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var fid string
		if err := rows.Scan(&fid); err != nil {
			return nil, err
		}
		ids = append(ids, fid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, &errdefs.NotFoundError{Kind: "folder", ID: id}
	}
	return ids, nil
}

func (g *Gateway) ListFolders(ctx context.Context, userID string, parentID *string) ([]*metadata.Folder, error) {
	query := `SELECT ` + folderColumns + ` FROM folders WHERE user_id = ?`
	args := []any{userID}
	if parentID == nil {
		query += ` AND parent_id IS NULL`
	} else {
		query += ` AND parent_id = ?`
		args = append(args, *parentID)
	}
	query += ` ORDER BY name, id`

	rows, err := g.db.QueryContext(ctx, query, args...)
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
	f, err := scanFolder(g.db.QueryRowContext(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
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

	err := g.withTx(ctx, func(tx *sql.Tx) error {
		if folder.ParentID != nil {
			if err := ownedFolder(ctx, tx, *folder.ParentID, folder.UserID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO folders (`+folderColumns+`) VALUES (?, ?, ?, ?, ?)`,
			created.ID, created.Name, nullable(created.ParentID), created.UserID, created.CreatedAt.UnixMicro())
		return err
	})
	if err != nil {
		return nil, wrap("create folder", err)
	}
	return &created, nil
}

func (g *Gateway) DeleteFolder(ctx context.Context, id, userID string) error {
	err := g.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := subtreeIDs(ctx, tx, id, userID)
		if err != nil {
			return err
		}

		marks, args := placeholders(ids)
		args = append([]any{userID}, args...)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM files WHERE user_id = ? AND folder_id IN (`+marks+`)`, args...); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM folders WHERE user_id = ? AND id IN (`+marks+`)`, args...)
		return err
	})
	return wrap("delete folder", err)
}

// DeleteEmptyFolder counts and deletes inside one transaction. The gateway
// holds a single connection, so no file can land in the subtree in between.
func (g *Gateway) DeleteEmptyFolder(ctx context.Context, id, userID string) error {
	err := g.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := subtreeIDs(ctx, tx, id, userID)
		if err != nil {
			return err
		}

		marks, args := placeholders(ids)
		args = append([]any{userID}, args...)

		var remaining int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM files WHERE user_id = ? AND folder_id IN (`+marks+`)`, args...).Scan(&remaining); err != nil {
			return err
		}
		if remaining > 0 {
			return &errdefs.FolderNotEmptyError{ID: id, Files: remaining}
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM folders WHERE user_id = ? AND id IN (`+marks+`)`, args...)
		return err
	})
	return wrap("delete empty folder", err)
}

func (g *Gateway) ListSubtreeFiles(ctx context.Context, folderID, userID string) ([]*metadata.FileRecord, error) {
	var files []*metadata.FileRecord
	err := g.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := subtreeIDs(ctx, tx, folderID, userID)
		if err != nil {
			return err
		}

		marks, args := placeholders(ids)
		args = append([]any{userID}, args...)
		files, err = queryFiles(ctx, tx,
			`SELECT `+fileColumns+` FROM files WHERE user_id = ? AND folder_id IN (`+marks+`) ORDER BY id`, args...)
		return err
	})
	if err != nil {
		return nil, wrap("list subtree files", err)
	}
	return files, nil
}
