package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// MaxBulkItems bounds the size of a bulk request.
const MaxBulkItems = 100

// BulkItemResult is the outcome of one item of a bulk request. Error is
// empty on success.
type BulkItemResult struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

type BulkCreateReport struct {
	Created int              `json:"created"`
	Failed  int              `json:"failed"`
	Results []BulkItemResult `json:"results"`
}

type BulkDeleteReport struct {
	Deleted int              `json:"deleted"`
	Failed  int              `json:"failed"`
	Results []BulkItemResult `json:"results"`
}

// Failures returns the results that failed.
func (r *BulkDeleteReport) Failures() []BulkItemResult {
	return lo.Filter(r.Results, func(res BulkItemResult, _ int) bool { return res.Error != "" })
}

// Failures returns the results that failed.
func (r *BulkCreateReport) Failures() []BulkItemResult {
	return lo.Filter(r.Results, func(res BulkItemResult, _ int) bool { return res.Error != "" })
}

func checkBatch(field string, n int) error {
	if n == 0 {
		return &ValidationError{Field: field, Reason: "at least one item is required"}
	}
	if n > MaxBulkItems {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("at most %d items are allowed", MaxBulkItems)}
	}
	return nil
}

// itemError renders an item failure for the report. Storage details stay in
// the log.
func itemError(err error) string {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return "storage error"
	}
	return err.Error()
}

// BulkCreate creates each input on its own. A failing item is recorded in
// the report and does not affect the others.
func (s *Store) BulkCreate(ctx context.Context, ownerID uint, inputs []Input) (*BulkCreateReport, error) {
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}
	if err := checkBatch("credentials", len(inputs)); err != nil {
		return nil, err
	}

	report := &BulkCreateReport{Results: make([]BulkItemResult, 0, len(inputs))}
	for i, in := range inputs {
		res := BulkItemResult{Index: i, Name: in.Name}
		c, err := s.Create(ctx, ownerID, in)
		if err != nil {
			res.Error = itemError(err)
			report.Failed++
			s.log.Warn("bulk create item failed", zap.Int("index", i), zap.Uint("owner", ownerID), zap.Error(err))
		} else {
			res.ID = c.ID
			report.Created++
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

// BulkDelete deletes each id on its own. Ids that do not exist or belong to
// someone else are reported as failures.
func (s *Store) BulkDelete(ctx context.Context, ownerID uint, ids []string) (*BulkDeleteReport, error) {
	if err := checkOwner(ownerID); err != nil {
		return nil, err
	}
	if err := checkBatch("ids", len(ids)); err != nil {
		return nil, err
	}

	report := &BulkDeleteReport{Results: make([]BulkItemResult, 0, len(ids))}
	for i, id := range ids {
		res := BulkItemResult{Index: i, ID: id}
		if err := s.Delete(ctx, id, ownerID); err != nil {
			res.Error = itemError(err)
			report.Failed++
		} else {
			report.Deleted++
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}
