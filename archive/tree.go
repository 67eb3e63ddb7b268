package archive

import (
	"context"
	"encoding/gob"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"

	"github.com/grailbio/readclass/classification"
)

// treeData is the on-disk shape of one classification's tree, stored
// alongside an archive as "<path>.<name>.tree": the classification-tree
// library's output, persisted here only because this reference connector
// has no live connection to that library to query at run time.
type treeData struct {
	Parent   map[int32]int32
	Ranks    map[int32]string
	Known    []int32
	Disabled []int32
}

// LoadSnapshot reads "<path>.<name>.tree" and builds the classification
// Snapshot the pipeline driver needs for name. path is the same archive
// path passed to Open.
func LoadSnapshot(ctx context.Context, path, name string) (*classification.Snapshot, error) {
	f, err := file.Open(ctx, path+"."+name+".tree")
	if err != nil {
		return nil, errors.Wrapf(err, "opening tree data for %s", name)
	}
	defer f.Close(ctx) // nolint: errcheck
	var td treeData
	if err := gob.NewDecoder(f.Reader(ctx)).Decode(&td); err != nil {
		return nil, errors.Wrapf(err, "decoding tree data for %s", name)
	}
	known := make(map[int32]bool, len(td.Known))
	for _, id := range td.Known {
		known[id] = true
	}
	disabled := make(map[int32]bool, len(td.Disabled))
	for _, id := range td.Disabled {
		disabled[id] = true
	}
	return &classification.Snapshot{
		Name:        name,
		Tree:        classification.NewTreeWithRanks(td.Parent, td.Ranks),
		KnownIds:    known,
		DisabledIds: disabled,
	}, nil
}
