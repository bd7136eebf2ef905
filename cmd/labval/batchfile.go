package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"labvalidate/internal/knowledge"
	"labvalidate/internal/types"
)

// batchFile is the on-disk form of a batch.
type batchFile struct {
	Name  string           `yaml:"name"`
	Items []types.TestItem `yaml:"items"`
}

// loadBatch reads a batch file and returns a pending batch.
func loadBatch(path string) (*types.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	var bf batchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	if len(bf.Items) == 0 {
		return nil, fmt.Errorf("%w: batch file %s has no items", types.ErrInvalidBatch, path)
	}
	return types.NewBatch(bf.Name, bf.Items)
}

// reviewFile holds one or more finalized reviews.
type reviewFile struct {
	Reviews []knowledge.ReviewFeedback `yaml:"reviews"`
}

// loadReviews reads a review file. A file holding a single review mapping
// without the reviews key is accepted too.
func loadReviews(path string) ([]knowledge.ReviewFeedback, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read review file: %w", err)
	}
	var rf reviewFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse review file %s: %w", path, err)
	}
	if len(rf.Reviews) == 0 {
		var single knowledge.ReviewFeedback
		if err := yaml.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("failed to parse review file %s: %w", path, err)
		}
		if strings.TrimSpace(single.TestItemID) == "" && strings.TrimSpace(single.ValidationFeedback) == "" && strings.TrimSpace(single.ItemFeedback) == "" {
			return nil, fmt.Errorf("review file %s holds no reviews", path)
		}
		rf.Reviews = []knowledge.ReviewFeedback{single}
	}
	return rf.Reviews, nil
}
