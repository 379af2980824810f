package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/create-ota-job/internal/config"
	"github.com/oshokin/create-ota-job/internal/domain/ota"
)

// Repository defines persistence operations for run reports.
type Repository interface {
	Load(ctx context.Context) (*ota.RunReport, error)
	Save(ctx context.Context, report *ota.RunReport) error
}

// FileRepository persists a run report to a YAML file on disk.
type FileRepository struct {
	// path is the filesystem location of the report.
	path string
	// mu serialises access to the file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when the report file does not exist yet.
	ErrNotFound = errors.New("report not found")
	// errReportIsNotSet is returned when a nil report is saved.
	errReportIsNotSet = errors.New("report is not set")
)

// NewFileRepository creates a repository that reads/writes YAML at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the report location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the report from disk.
func (r *FileRepository) Load(_ context.Context) (*ota.RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read report file: %w", err)
	}

	var report ota.RunReport
	if err = yaml.Unmarshal(contents, &report); err != nil {
		return nil, fmt.Errorf("decode report file: %w", err)
	}

	return &report, nil
}

// Save writes the report to disk, replacing any previous one.
func (r *FileRepository) Save(_ context.Context, report *ota.RunReport) error {
	if report == nil {
		return errReportIsNotSet
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}

	return nil
}
