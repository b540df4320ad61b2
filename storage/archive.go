package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"voting-ledger/logger"
	"voting-ledger/models"
)

const (
	snapshotPattern   = "chain_snapshot_*.zst"
	snapshotTimestamp = "20060102150405.000000"
	snapshotMagic     = "VLS1"

	DefaultKeepSnapshots = 5
)

// ErrCorruptSnapshot is returned when a snapshot fails its checksum.
var ErrCorruptSnapshot = errors.New("snapshot checksum mismatch")

// Archive writes timestamped, compressed chain snapshots and keeps the most
// recent ones. Each file is: magic | blake3(json) | zstd(json).
type Archive struct {
	dataDir string
	keep    int
	now     func() time.Time
	mutex   sync.RWMutex
}

type snapshotFile struct {
	path      string
	timestamp time.Time
}

func NewArchive(dataDir string, keep int) (*Archive, error) {
	absPath, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	if keep < 1 {
		keep = DefaultKeepSnapshots
	}

	return &Archive{dataDir: absPath, keep: keep, now: time.Now}, nil
}

// Save writes a snapshot of chain and prunes old snapshots. It returns the
// path of the new file.
func (a *Archive) Save(chain []*models.Block) (string, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if len(chain) == 0 {
		return "", ErrEmptyChain
	}

	data, err := json.Marshal(chain)
	if err != nil {
		return "", fmt.Errorf("failed to encode chain: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", fmt.Errorf("create encoder: %w", err)
	}
	defer encoder.Close()

	checksum := blake3.Sum256(data)

	var buf bytes.Buffer
	buf.WriteString(snapshotMagic)
	buf.Write(checksum[:])
	buf.Write(encoder.EncodeAll(data, nil))

	filename := filepath.Join(a.dataDir, fmt.Sprintf("chain_snapshot_%s.zst", a.now().UTC().Format(snapshotTimestamp)))
	if err := os.WriteFile(filename, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := a.cleanupOldFiles(); err != nil {
		logger.Warn("failed to clean up old snapshots", "err", err)
	}

	logger.Info("chain snapshot saved", "blocks", len(chain), "path", filename, "bytes", buf.Len())
	return filename, nil
}

// Latest loads the most recent snapshot. It returns nil when none exists.
func (a *Archive) Latest() ([]*models.Block, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	files, err := a.listFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	return readSnapshot(files[len(files)-1].path)
}

// Snapshots returns snapshot paths, oldest first.
func (a *Archive) Snapshots() ([]string, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	files, err := a.listFiles()
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

func readSnapshot(path string) ([]*models.Block, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}

	header := len(snapshotMagic) + 32
	if len(raw) < header || string(raw[:len(snapshotMagic)]) != snapshotMagic {
		return nil, fmt.Errorf("%w: %s has no snapshot header", ErrCorruptSnapshot, path)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	defer decoder.Close()

	data, err := decoder.DecodeAll(raw[header:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}

	checksum := blake3.Sum256(data)
	if !bytes.Equal(checksum[:], raw[len(snapshotMagic):header]) {
		return nil, fmt.Errorf("%w: %s", ErrCorruptSnapshot, path)
	}

	var chain []*models.Block
	if err := json.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("failed to decode chain from %s: %w", path, err)
	}

	return chain, nil
}

// listFiles returns snapshot files sorted by timestamp, oldest first.
func (a *Archive) listFiles() ([]snapshotFile, error) {
	paths, err := filepath.Glob(filepath.Join(a.dataDir, snapshotPattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var files []snapshotFile
	for _, path := range paths {
		base := filepath.Base(path)
		stamp := strings.TrimSuffix(strings.TrimPrefix(base, "chain_snapshot_"), ".zst")
		ts, err := time.Parse(snapshotTimestamp, stamp)
		if err != nil {
			logger.Warn("invalid timestamp in snapshot filename", "file", base, "err", err)
			continue
		}
		files = append(files, snapshotFile{path: path, timestamp: ts})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].timestamp.Before(files[j].timestamp)
	})
	return files, nil
}

func (a *Archive) cleanupOldFiles() error {
	files, err := a.listFiles()
	if err != nil {
		return err
	}

	for i := 0; i < len(files)-a.keep; i++ {
		if err := os.Remove(files[i].path); err != nil {
			logger.Warn("failed to remove old snapshot", "path", files[i].path, "err", err)
			continue
		}
		logger.Debug("removed old snapshot", "path", files[i].path)
	}

	return nil
}
