package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CelebA partition ids from list_eval_partition.txt.
const (
	celebaTrain = 0
	celebaTest  = 2
)

// CelebADataset reads the aligned CelebA layout:
//
//	root/img_align_celeba/<image_id>
//	root/list_bbox_celeba.txt
//	root/list_eval_partition.txt
//
// The bbox file gives one face box per image as "image_id x y w h".
type CelebADataset struct {
	root    string
	entries []standardEntry
}

// LoadCelebA loads one split, "train" or "test".
func LoadCelebA(split, root string) (*CelebADataset, error) {
	var wantPartition int
	switch split {
	case "train":
		wantPartition = celebaTrain
	case "test":
		wantPartition = celebaTest
	default:
		return nil, fmt.Errorf("unknown celeba split: %q", split)
	}

	partitions, err := readCelebAPartitions(filepath.Join(root, "list_eval_partition.txt"))
	if err != nil {
		return nil, err
	}

	bboxes, err := readCelebABBoxes(filepath.Join(root, "list_bbox_celeba.txt"))
	if err != nil {
		return nil, err
	}

	ds := &CelebADataset{root: root}
	for id, partition := range partitions {
		if partition != wantPartition {
			continue
		}
		ds.entries = append(ds.entries, standardEntry{
			path:   filepath.Join(root, "img_align_celeba", id),
			bboxes: bboxes[id],
		})
	}

	if len(ds.entries) == 0 {
		return nil, fmt.Errorf("celeba split %s: %w", split, ErrEmptyDataset)
	}

	return ds, nil
}

func (d *CelebADataset) Len() int { return len(d.entries) }

func (d *CelebADataset) At(i int) (Sample, error) {
	entry := d.entries[i]
	img, err := LoadImage(entry.path)
	if err != nil {
		return Sample{}, err
	}

	return Sample{Image: img, BBoxes: entry.bboxes}, nil
}

func readCelebAPartitions(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read celeba partitions: %w", err)
	}
	defer f.Close()

	partitions := make(map[string]int)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		partition, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		partitions[fields[0]] = partition
	}

	return partitions, scanner.Err()
}

func readCelebABBoxes(path string) (map[string][]BBox, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read celeba bboxes: %w", err)
	}
	defer f.Close()

	bboxes := make(map[string][]BBox)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// Skip the count header and the column header line.
		fields := strings.Fields(scanner.Text())
		if len(fields) != 5 {
			continue
		}

		var vals [4]int
		ok := true
		for i, field := range fields[1:] {
			v, err := strconv.Atoi(field)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}

		x, y, w, h := vals[0], vals[1], vals[2], vals[3]
		if w <= 0 || h <= 0 {
			continue
		}
		bboxes[fields[0]] = append(bboxes[fields[0]], BBox{X1: x, Y1: y, X2: x + w, Y2: y + h})
	}

	return bboxes, scanner.Err()
}
