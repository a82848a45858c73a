package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// annotationFile is the JSON schema of a standard dataset split:
//
//	{"images": [{"file": "0001.png", "bboxes": [[x1, y1, x2, y2], ...]}]}
type annotationFile struct {
	Images []struct {
		File   string   `json:"file"`
		BBoxes [][4]int `json:"bboxes"`
	} `json:"images"`
}

type standardEntry struct {
	path   string
	bboxes []BBox
}

// StandardDataset reads images from a split directory that carries an
// annotations.json file. Images are decoded lazily in At.
type StandardDataset struct {
	entries []standardEntry
}

// LoadStandard loads a single split directory.
func LoadStandard(dir string) (*StandardDataset, error) {
	data, err := os.ReadFile(filepath.Join(dir, "annotations.json"))
	if err != nil {
		return nil, fmt.Errorf("read annotations: %w", err)
	}

	var annotations annotationFile
	if err := json.Unmarshal(data, &annotations); err != nil {
		return nil, fmt.Errorf("parse annotations in %s: %w", dir, err)
	}

	ds := &StandardDataset{}
	for _, img := range annotations.Images {
		entry := standardEntry{path: filepath.Join(dir, img.File)}
		for _, b := range img.BBoxes {
			entry.bboxes = append(entry.bboxes, BBox{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]})
		}
		ds.entries = append(ds.entries, entry)
	}

	if len(ds.entries) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrEmptyDataset)
	}

	return ds, nil
}

// LoadStandardSplits loads the train and test splits of a standard
// dataset root.
func LoadStandardSplits(root string) (train, test *StandardDataset, err error) {
	train, err = LoadStandard(filepath.Join(root, "train"))
	if err != nil {
		return nil, nil, err
	}

	test, err = LoadStandard(filepath.Join(root, "test"))
	if err != nil {
		return nil, nil, err
	}

	return train, test, nil
}

func (d *StandardDataset) Len() int { return len(d.entries) }

func (d *StandardDataset) At(i int) (Sample, error) {
	entry := d.entries[i]
	img, err := LoadImage(entry.path)
	if err != nil {
		return Sample{}, err
	}

	return Sample{Image: img, BBoxes: entry.bboxes}, nil
}
