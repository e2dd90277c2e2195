package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tabletalk/tabletalk/internal/storage"
)

var ErrDatasetNotFound = errors.New("dataset not found")

// Store persists dataset snapshots in an object store, one Parquet
// object per dataset under datasets/<id>.parquet.
type Store struct {
	objects storage.ObjectStore
	now     func() time.Time
}

func NewStore(objects storage.ObjectStore) (*Store, error) {
	if objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &Store{objects: objects, now: time.Now}, nil
}

// Save validates the snapshot as Parquet, stores it, and returns the
// introspected metadata. Re-saving an existing ID replaces the snapshot.
func (s *Store) Save(ctx context.Context, id string, data []byte) (Dataset, error) {
	if err := validateID(id); err != nil {
		return Dataset{}, err
	}
	columns, rowCount, err := DescribeSnapshot(data)
	if err != nil {
		return Dataset{}, fmt.Errorf("dataset %q: %w", id, err)
	}

	_, err = s.objects.Put(ctx, objectKey(id), bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
	})
	if err != nil {
		return Dataset{}, fmt.Errorf("store dataset %q: %w", id, err)
	}

	return Dataset{
		ID:        id,
		SizeBytes: int64(len(data)),
		RowCount:  rowCount,
		Columns:   columns,
		UpdatedAt: s.now().UTC(),
	}, nil
}

// Load returns the raw Parquet snapshot for a dataset.
func (s *Store) Load(ctx context.Context, id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	reader, err := s.objects.Get(ctx, objectKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("dataset %q: %w", id, ErrDatasetNotFound)
		}
		return nil, fmt.Errorf("load dataset %q: %w", id, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read dataset %q: %w", id, err)
	}
	return data, nil
}

// Describe loads a snapshot and returns its metadata.
func (s *Store) Describe(ctx context.Context, id string) (Dataset, error) {
	data, err := s.Load(ctx, id)
	if err != nil {
		return Dataset{}, err
	}
	columns, rowCount, err := DescribeSnapshot(data)
	if err != nil {
		return Dataset{}, fmt.Errorf("dataset %q: %w", id, err)
	}

	info, err := s.objects.Stat(ctx, objectKey(id))
	if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return Dataset{}, fmt.Errorf("stat dataset %q: %w", id, err)
	}
	return Dataset{
		ID:        id,
		SizeBytes: int64(len(data)),
		RowCount:  rowCount,
		Columns:   columns,
		UpdatedAt: info.LastModified,
	}, nil
}

// Delete removes a snapshot. Deleting a missing dataset is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, objectKey(id)); err != nil {
		return fmt.Errorf("delete dataset %q: %w", id, err)
	}
	return nil
}

func objectKey(id string) string {
	return "datasets/" + id + ".parquet"
}

func validateID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("dataset id is required")
	}
	if len(id) > 128 {
		return fmt.Errorf("dataset id %q is too long", id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("dataset id %q contains invalid character %q", id, r)
		}
	}
	return nil
}
