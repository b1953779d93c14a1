// internal/etl/files.go
package etl

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/aviatools/unipix-etl/internal/config"
)

// InputFile is one candidate file found in the input folder.
type InputFile struct {
	Path    string
	Name    string
	Archive bool
}

// Manager owns the pipeline's working folders: it enumerates input files,
// unpacks archives into temp and routes finished files to processed or error.
type Manager struct {
	fs      afero.Fs
	folders config.FoldersConfig
	log     *zap.Logger
	now     func() time.Time
}

func NewManager(folders config.FoldersConfig, logger *zap.Logger) *Manager {
	return NewManagerWithFs(afero.NewOsFs(), folders, logger)
}

// NewManagerWithFs injects the filesystem, which tests replace with an
// in-memory one.
func NewManagerWithFs(fs afero.Fs, folders config.FoldersConfig, logger *zap.Logger) *Manager {
	return &Manager{
		fs:      fs,
		folders: folders,
		log:     logger.Named("files"),
		now:     time.Now,
	}
}

// EnsureFolders creates the working directory tree.
func (m *Manager) EnsureFolders() error {
	for _, dir := range []string{m.folders.Input, m.folders.Processed, m.folders.Error, m.folders.Temp} {
		if err := m.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", dir, err)
		}
	}
	return nil
}

// ListInput returns the ingestable files in the input folder. CSV files and
// zip archives are supported; spreadsheet formats are routed straight to the
// error folder since nothing downstream can read them.
func (m *Manager) ListInput() ([]InputFile, error) {
	entries, err := afero.ReadDir(m.fs, m.folders.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to read input folder: %w", err)
	}

	var files []InputFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(m.folders.Input, entry.Name())
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".csv":
			files = append(files, InputFile{Path: path, Name: entry.Name()})
		case ".zip":
			files = append(files, InputFile{Path: path, Name: entry.Name(), Archive: true})
		case ".xlsx", ".xls":
			m.log.Warn("Spreadsheet format not supported, moving to error folder",
				zap.String("file", entry.Name()))
			if _, err := m.MoveError(path); err != nil {
				return nil, err
			}
		default:
			m.log.Debug("Ignoring file", zap.String("file", entry.Name()))
		}
	}
	return files, nil
}

// ExtractArchive unpacks the CSV members of a zip into the temp folder and
// returns their paths. Member paths are flattened to their base name so a
// crafted archive cannot escape the temp folder.
func (m *Manager) ExtractArchive(path string) ([]string, error) {
	f, err := m.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	readerAt, ok := f.(io.ReaderAt)
	if !ok {
		return nil, fmt.Errorf("archive %s not randomly readable", path)
	}

	archive, err := zip.NewReader(readerAt, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %s: %w", path, err)
	}

	var extracted []string
	for _, member := range archive.File {
		if member.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(member.Name), ".csv") {
			continue
		}
		dest := filepath.Join(m.folders.Temp, filepath.Base(member.Name))
		if err := m.extractMember(member, dest); err != nil {
			return nil, err
		}
		extracted = append(extracted, dest)
	}

	m.log.Info("Archive extracted",
		zap.String("archive", filepath.Base(path)),
		zap.Int("members", len(extracted)))
	return extracted, nil
}

func (m *Manager) extractMember(member *zip.File, dest string) error {
	src, err := member.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive member %s: %w", member.Name, err)
	}
	defer src.Close()

	out, err := m.fs.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("failed to extract %s: %w", member.Name, err)
	}
	return nil
}

// MoveProcessed routes a finished file out of the input folder.
func (m *Manager) MoveProcessed(path string) (string, error) {
	return m.move(path, m.folders.Processed)
}

// MoveError routes a failed file to the error folder for inspection.
func (m *Manager) MoveError(path string) (string, error) {
	return m.move(path, m.folders.Error)
}

func (m *Manager) move(path, destDir string) (string, error) {
	name := filepath.Base(path)
	dest := filepath.Join(destDir, name)
	if exists, _ := afero.Exists(m.fs, dest); exists {
		stamp := m.now().Format("20060102_150405")
		dest = filepath.Join(destDir, stamp+"_"+name)
	}
	if err := m.fs.Rename(path, dest); err != nil {
		return "", fmt.Errorf("failed to move %s: %w", name, err)
	}
	return dest, nil
}

// CleanTemp empties the temp folder.
func (m *Manager) CleanTemp() error {
	if err := m.fs.RemoveAll(m.folders.Temp); err != nil {
		return fmt.Errorf("failed to clean temp folder: %w", err)
	}
	return m.fs.MkdirAll(m.folders.Temp, 0o755)
}

// ReadTable loads a CSV file into a Table. A leading BOM is stripped and
// short rows are padded so every row has a value per header.
func (m *Manager) ReadTable(path string) (Table, error) {
	data, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	reader := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(data), "\uFEFF")))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return Table{}, fmt.Errorf("file %s is empty", path)
	}

	headers := records[0]
	rows := make([][]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if len(row) < len(headers) {
			padded := make([]string, len(headers))
			copy(padded, row)
			row = padded
		}
		rows = append(rows, row[:len(headers)])
	}
	return Table{Headers: headers, Rows: rows}, nil
}
