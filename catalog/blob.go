package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/xeptore/albumshelf/album"
)

const blobVersion = 1

type storedCatalog struct {
	Version int            `json:"version"`
	Albums  []album.Record `json:"albums"`
}

// loadedCatalog mirrors storedCatalog with every record field optional, so a
// record missing a key can be told apart from one holding an empty string.
type loadedCatalog struct {
	Version int             `json:"version"`
	Albums  []*loadedRecord `json:"albums"`
}

type loadedRecord struct {
	Title    *string `json:"title"`
	Artist   *string `json:"artist"`
	Genre    *string `json:"genre"`
	CoverURL *string `json:"cover_url"`
	Year     *string `json:"year"`
}

func (r *loadedRecord) record() (album.Record, error) {
	if nil == r {
		return album.Record{}, errors.New("null album")
	}

	fields := []struct {
		name  string
		value *string
	}{
		{"title", r.Title},
		{"artist", r.Artist},
		{"genre", r.Genre},
		{"cover_url", r.CoverURL},
		{"year", r.Year},
	}
	for _, f := range fields {
		if nil == f.value {
			return album.Record{}, fmt.Errorf("missing %s", f.name)
		}
	}

	return album.New(*r.Title, *r.Artist, *r.Genre, *r.CoverURL, *r.Year), nil
}

// Blob is the single file holding the whole serialized catalog.
type Blob struct {
	Path string
}

func (b Blob) Read() ([]album.Record, error) {
	data, err := os.ReadFile(b.Path)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}

		return nil, fmt.Errorf("failed to read catalog blob: %v", err)
	}

	var stored loadedCatalog
	if err := json.Unmarshal(data, &stored); nil != err {
		return nil, fmt.Errorf("%w: %v", errCorruptBlob, err)
	}

	if stored.Version != blobVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", errCorruptBlob, stored.Version)
	}

	if nil == stored.Albums {
		return nil, fmt.Errorf("%w: missing albums", errCorruptBlob)
	}

	records := make([]album.Record, 0, len(stored.Albums))
	for i, r := range stored.Albums {
		rec, err := r.record()
		if nil != err {
			return nil, fmt.Errorf("%w: album %d: %v", errCorruptBlob, i, err)
		}
		records = append(records, rec)
	}

	return records, nil
}

// Write replaces the blob with records. The new content is written to a
// temporary sibling file which is renamed over the blob only once it is fully
// synced, so readers see either the old or the new catalog. ctx is only
// honored up to the rename: an error wrapping errDirSync means the blob was
// already replaced.
func (b Blob) Write(ctx context.Context, records []album.Record) (err error) {
	if err := ctx.Err(); nil != err {
		return err
	}

	data, err := json.Marshal(storedCatalog{Version: blobVersion, Albums: records})
	if nil != err {
		return fmt.Errorf("failed to encode catalog: %v", err)
	}

	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o700); nil != err {
		return fmt.Errorf("failed to create catalog directory: %v", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(b.Path)+"-*.tmp")
	if nil != err {
		return fmt.Errorf("failed to create temporary catalog file: %v", err)
	}
	tmpPath := f.Name()
	defer func() {
		if nil != err {
			if removeErr := os.Remove(tmpPath); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("failed to remove temporary catalog file: %v", removeErr))
			}
		}
	}()

	if _, err := f.Write(data); nil != err {
		return errors.Join(fmt.Errorf("failed to write temporary catalog file: %w", err), f.Close())
	}

	if err := f.Sync(); nil != err {
		return errors.Join(fmt.Errorf("failed to sync temporary catalog file: %w", err), f.Close())
	}

	if err := f.Close(); nil != err {
		return fmt.Errorf("failed to close temporary catalog file: %w", err)
	}

	if err := ctx.Err(); nil != err {
		return err
	}

	if err := os.Rename(tmpPath, b.Path); nil != err {
		return fmt.Errorf("failed to replace catalog blob: %w", err)
	}

	if err := syncDir(dir); nil != err {
		return fmt.Errorf("%w: %v", errDirSync, err)
	}

	return nil
}

func syncDir(path string) (err error) {
	d, err := os.Open(path)
	if nil != err {
		return err
	}
	defer func() {
		if closeErr := d.Close(); nil != closeErr {
			err = errors.Join(err, closeErr)
		}
	}()

	return d.Sync()
}
