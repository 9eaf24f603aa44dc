// Package refdata loads the static USDA reference datasets at startup and
// serves them read-only for the lifetime of the process.
package refdata

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Document is a parsed reference dataset: an arbitrarily nested mapping of
// string keys to scalars, sequences, or further mappings. Documents are never
// mutated after load, so concurrent readers need no locking.
type Document map[string]any

// Dataset names, matching the file names in the data directory.
const (
	DatasetCommodities       = "commodities"
	DatasetCommoditiesLegacy = "commodities_legacy"
	DatasetMealPatterns      = "meal_patterns"
	DatasetDistrictProfile   = "district_profile"
	DatasetYieldFactors      = "yield_factors"
)

// datasetFiles maps dataset names to the JSON files that back them.
var datasetFiles = map[string]string{
	DatasetCommodities:       "usda_foods_comprehensive.json",
	DatasetCommoditiesLegacy: "usda_foods_sy26_27.json",
	DatasetMealPatterns:      "usda_meal_patterns.json",
	DatasetDistrictProfile:   "district_profile.json",
	DatasetYieldFactors:      "food_buying_guide_yields.json",
}

// Store holds all reference documents keyed by dataset name.
type Store struct {
	docs map[string]Document
}

// Load reads every known dataset from dir. A missing or unreadable file is
// non-fatal: the dataset degrades to an empty document and a warning is
// logged. A file that exists but fails to parse is an error, since serving
// half a dataset silently is worse than failing to start.
func Load(dir string, logger *zap.Logger) (*Store, error) {
	s := &Store{docs: make(map[string]Document, len(datasetFiles))}

	for name, file := range datasetFiles {
		path := filepath.Join(dir, file)
		doc, err := loadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warn("reference data file not found, using empty document",
					zap.String("dataset", name),
					zap.String("path", path))
				s.docs[name] = Document{}
				continue
			}
			return nil, fmt.Errorf("failed to load dataset %s: %w", name, err)
		}
		logger.Info("loaded reference dataset",
			zap.String("dataset", name),
			zap.Int("top_level_keys", len(doc)))
		s.docs[name] = doc
	}

	return s, nil
}

func loadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return doc, nil
}

// Get returns the document for a dataset name. Unknown names yield an empty
// document rather than nil so callers can range and index without checks.
func (s *Store) Get(name string) Document {
	if doc, ok := s.docs[name]; ok {
		return doc
	}
	return Document{}
}

// Sub returns a nested mapping under a top-level key of the named dataset,
// or an empty document when the key is absent or not a mapping.
func (s *Store) Sub(name, key string) Document {
	if v, ok := s.Get(name)[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return Document(m)
		}
	}
	return Document{}
}
