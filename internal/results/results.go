// Package results reads the output directory of a finished training run.
package results

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/CZERTAINLY/Trainer/internal/walk"
)

const mib = 1024 * 1024

// Table is the content of results.csv.
type Table struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Final returns the numeric columns of the last row.
func (t Table) Final() map[string]float64 {
	if len(t.Rows) == 0 {
		return nil
	}
	last := t.Rows[len(t.Rows)-1]
	ret := make(map[string]float64, len(last))
	for i, h := range t.Header {
		if i >= len(last) {
			break
		}
		f, err := strconv.ParseFloat(last[i], 64)
		if err != nil {
			continue
		}
		ret[h] = f
	}
	return ret
}

type File struct {
	Name string  `json:"name"`
	Size int64   `json:"size"`
	MiB  float64 `json:"mib"`
}

type Results struct {
	Dir     string `json:"dir"`
	Table   *Table `json:"table,omitempty"`
	Plots   []File `json:"plots"`
	Weights []File `json:"weights"`
}

var plotExts = []string{".png", ".jpg", ".jpeg"}

// Load reads dir. A missing results.csv is not an error, a missing dir is.
func Load(ctx context.Context, dir string) (Results, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return Results{}, fmt.Errorf("opening results dir: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	ret := Results{Dir: dir}
	f, err := root.Open("results.csv")
	switch {
	case err == nil:
		table, err := ReadTable(f)
		_ = f.Close()
		if err != nil {
			return Results{}, fmt.Errorf("reading results.csv: %w", err)
		}
		ret.Table = &table
	case !errors.Is(err, fs.ErrNotExist):
		return Results{}, fmt.Errorf("opening results.csv: %w", err)
	}

	for entry, err := range walk.Root(ctx, root) {
		if err != nil {
			return Results{}, err
		}
		rel := entry.Rel()
		dirName, name := path.Split(rel)
		switch {
		case dirName == "" && slices.Contains(plotExts, strings.ToLower(path.Ext(name))):
			file, err := newFile(entry, name)
			if err != nil {
				return Results{}, err
			}
			ret.Plots = append(ret.Plots, file)
		case dirName == "weights/" && path.Ext(name) == ".pt":
			file, err := newFile(entry, name)
			if err != nil {
				return Results{}, err
			}
			ret.Weights = append(ret.Weights, file)
		}
	}
	if err := ctx.Err(); err != nil {
		return Results{}, err
	}
	return ret, nil
}

func newFile(entry walk.Entry, name string) (File, error) {
	info, err := entry.Stat()
	if err != nil {
		return File{}, err
	}
	return File{Name: name, Size: info.Size(), MiB: float64(info.Size()) / mib}, nil
}

// ReadTable parses a results.csv. Cells are trimmed, as the columns are
// padded with spaces.
func ReadTable(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var t Table
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, err
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		if t.Header == nil {
			t.Header = rec
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	if t.Header == nil {
		return Table{}, errors.New("empty table")
	}
	return t, nil
}
