// Package memory implements metadata.Gateway in process memory.
//
// It is used by the "memory" profile and by orchestrator tests, which can
// inject failures into individual operations.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/pkg/backend"
	"github.com/marmos91/dittodrive/pkg/errdefs"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

// Gateway is an in-memory metadata.Gateway.
//
// Thread Safety:
// All operations take a single read-write mutex, so DeleteFolder observes
// and removes the subtree atomically like the relational gateways do.
type Gateway struct {
	mu      sync.RWMutex
	files   map[string]*metadata.FileRecord
	folders map[string]*metadata.Folder
	now     func() time.Time

	// Injected failures, consumed in order. A nil entry means success.
	createFileErrs []error
	deleteFileErrs []error
}

// New creates an empty gateway.
func New() *Gateway {
	return &Gateway{
		files:   make(map[string]*metadata.FileRecord),
		folders: make(map[string]*metadata.Folder),
		now:     time.Now,
	}
}

// FailCreateFile makes the next len(errs) CreateFile calls return errs.
func (g *Gateway) FailCreateFile(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createFileErrs = append(g.createFileErrs, errs...)
}

// FailDeleteFile makes the next len(errs) DeleteFile calls return errs.
func (g *Gateway) FailDeleteFile(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteFileErrs = append(g.deleteFileErrs, errs...)
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyFile(f *metadata.FileRecord) *metadata.FileRecord {
	c := *f
	if f.FolderID != nil {
		id := *f.FolderID
		c.FolderID = &id
	}
	return &c
}

func copyFolder(f *metadata.Folder) *metadata.Folder {
	c := *f
	if f.ParentID != nil {
		id := *f.ParentID
		c.ParentID = &id
	}
	return &c
}

func (g *Gateway) ListFiles(ctx context.Context, userID string, folderID *string, page metadata.Page) ([]*metadata.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*metadata.FileRecord
	for _, f := range g.files {
		if f.UserID == userID && sameParent(f.FolderID, folderID) {
			out = append(out, copyFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if page.Paged() {
		start := page.Offset()
		if start >= len(out) {
			return []*metadata.FileRecord{}, nil
		}
		end := min(start+page.Size, len(out))
		out = out[start:end]
	}
	return out, nil
}

func (g *Gateway) ListFolders(ctx context.Context, userID string, parentID *string) ([]*metadata.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*metadata.Folder
	for _, f := range g.folders {
		if f.UserID == userID && sameParent(f.ParentID, parentID) {
			out = append(out, copyFolder(f))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (g *Gateway) GetFile(ctx context.Context, id, userID string) (*metadata.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	f, ok := g.files[id]
	if !ok || f.UserID != userID {
		return nil, nil
	}
	return copyFile(f), nil
}

func (g *Gateway) GetFolder(ctx context.Context, id, userID string) (*metadata.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	f, ok := g.folders[id]
	if !ok || f.UserID != userID {
		return nil, nil
	}
	return copyFolder(f), nil
}

func (g *Gateway) CreateFolder(ctx context.Context, folder *metadata.Folder) (*metadata.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := metadata.ValidateFolder(folder); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if folder.ParentID != nil {
		if p, ok := g.folders[*folder.ParentID]; !ok || p.UserID != folder.UserID {
			return nil, &errdefs.NotFoundError{Kind: "folder", ID: *folder.ParentID}
		}
	}

	stored := copyFolder(folder)
	stored.ID = metadata.NewID()
	stored.CreatedAt = g.now().UTC()
	g.folders[stored.ID] = stored
	return copyFolder(stored), nil
}

func (g *Gateway) CreateFile(ctx context.Context, record *metadata.FileRecord) (*metadata.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := pop(&g.createFileErrs); err != nil {
		return nil, err
	}
	if err := metadata.ValidateFile(record); err != nil {
		return nil, err
	}
	if record.FolderID != nil {
		if p, ok := g.folders[*record.FolderID]; !ok || p.UserID != record.UserID {
			return nil, &errdefs.NotFoundError{Kind: "folder", ID: *record.FolderID}
		}
	}

	stored := copyFile(record)
	stored.ID = metadata.NewID()
	stored.CreatedAt = g.now().UTC()
	g.files[stored.ID] = stored
	return copyFile(stored), nil
}

func (g *Gateway) UpdateFile(ctx context.Context, id, userID string, patch metadata.FilePatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	f, ok := g.files[id]
	if !ok || f.UserID != userID {
		return &errdefs.NotFoundError{Kind: "file", ID: id}
	}

	updated := copyFile(f)
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	switch {
	case patch.MoveToRoot:
		updated.FolderID = nil
	case patch.FolderID != nil:
		if p, ok := g.folders[*patch.FolderID]; !ok || p.UserID != userID {
			return &errdefs.NotFoundError{Kind: "folder", ID: *patch.FolderID}
		}
		folderID := *patch.FolderID
		updated.FolderID = &folderID
	}
	if err := metadata.ValidateFile(updated); err != nil {
		return err
	}

	g.files[id] = updated
	return nil
}

func (g *Gateway) DeleteFile(ctx context.Context, id, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := pop(&g.deleteFileErrs); err != nil {
		return err
	}
	f, ok := g.files[id]
	if !ok || f.UserID != userID {
		return &errdefs.NotFoundError{Kind: "file", ID: id}
	}
	delete(g.files, id)
	return nil
}

// subtree returns root and every descendant folder ID. Callers hold mu.
func (g *Gateway) subtree(rootID, userID string) []string {
	ids := []string{rootID}
	for i := 0; i < len(ids); i++ {
		for _, f := range g.folders {
			if f.UserID == userID && f.ParentID != nil && *f.ParentID == ids[i] {
				ids = append(ids, f.ID)
			}
		}
	}
	return ids
}

func (g *Gateway) DeleteFolder(ctx context.Context, id, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	root, ok := g.folders[id]
	if !ok || root.UserID != userID {
		return &errdefs.NotFoundError{Kind: "folder", ID: id}
	}

	ids := g.subtree(id, userID)
	inSubtree := make(map[string]bool, len(ids))
	for _, fid := range ids {
		inSubtree[fid] = true
	}
	for fileID, f := range g.files {
		if f.UserID == userID && f.FolderID != nil && inSubtree[*f.FolderID] {
			delete(g.files, fileID)
		}
	}
	for _, fid := range ids {
		delete(g.folders, fid)
	}
	return nil
}

func (g *Gateway) DeleteEmptyFolder(ctx context.Context, id, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	root, ok := g.folders[id]
	if !ok || root.UserID != userID {
		return &errdefs.NotFoundError{Kind: "folder", ID: id}
	}

	ids := g.subtree(id, userID)
	inSubtree := make(map[string]bool, len(ids))
	for _, fid := range ids {
		inSubtree[fid] = true
	}
	remaining := 0
	for _, f := range g.files {
		if f.UserID == userID && f.FolderID != nil && inSubtree[*f.FolderID] {
			remaining++
		}
	}
	if remaining > 0 {
		return &errdefs.FolderNotEmptyError{ID: id, Files: remaining}
	}

	for _, fid := range ids {
		delete(g.folders, fid)
	}
	return nil
}

func (g *Gateway) ListSubtreeFiles(ctx context.Context, folderID, userID string) ([]*metadata.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	root, ok := g.folders[folderID]
	if !ok || root.UserID != userID {
		return nil, &errdefs.NotFoundError{Kind: "folder", ID: folderID}
	}

	inSubtree := make(map[string]bool)
	for _, fid := range g.subtree(folderID, userID) {
		inSubtree[fid] = true
	}
	var out []*metadata.FileRecord
	for _, f := range g.files {
		if f.UserID == userID && f.FolderID != nil && inSubtree[*f.FolderID] {
			out = append(out, copyFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *Gateway) SumFileSizes(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var total int64
	for _, f := range g.files {
		if f.UserID == userID {
			total += f.Size
		}
	}
	return total, nil
}

func (g *Gateway) ListStoredObjects(ctx context.Context, storageType backend.StorageType) ([]metadata.StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []metadata.StoredObject
	for _, f := range g.files {
		if f.StorageType == storageType {
			out = append(out, metadata.StoredObject{StorageType: f.StorageType, StoragePath: f.StoragePath})
		}
	}
	return out, nil
}

func (g *Gateway) Healthcheck(ctx context.Context) error {
	return ctx.Err()
}

func (g *Gateway) Close() error { return nil }

var _ metadata.Gateway = (*Gateway)(nil)
