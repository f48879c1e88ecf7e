package stats

import (
	"context"

	"github.com/drblury/taskflow/internal/filestore"
)

// Repository persists the single Snapshot.
type Repository interface {
	// Load returns the stored snapshot and whether one exists.
	Load(ctx context.Context) (Snapshot, bool, error)
	Save(ctx context.Context, s Snapshot) error
}

// FileRepository keeps the snapshot in a JSON file replaced atomically.
type FileRepository struct {
	file *filestore.File[Snapshot]
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{file: filestore.New[Snapshot](path)}
}

func (r *FileRepository) Load(context.Context) (Snapshot, bool, error) {
	return r.file.Load()
}

func (r *FileRepository) Save(_ context.Context, s Snapshot) error {
	return r.file.Save(s)
}
