package gormstorage

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/tb3nav/navseq/internal/model"
)

// RunIDs lists the run ids stored in db, oldest first.
func RunIDs(db *gorm.DB) ([]string, error) {
	var ids []string
	if err := db.Model(&model.Run{}).Order("started_at asc, id asc").Pluck("run_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return ids, nil
}

// CopyRun copies one run with its goal results and feedback from src into dst
// inside a single dst transaction. Rows get fresh primary keys. A run whose id
// already exists in dst is skipped and reported as not copied.
func CopyRun(src, dst *gorm.DB, runID string) (bool, error) {
	var exists int64
	if err := dst.Model(&model.Run{}).Where("run_id = ?", runID).Count(&exists).Error; err != nil {
		return false, fmt.Errorf("failed to check run %s: %w", runID, err)
	}
	if exists > 0 {
		return false, nil
	}

	var run model.Run
	if err := src.Where("run_id = ?", runID).First(&run).Error; err != nil {
		return false, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	var results []model.GoalResult
	if err := src.Where("run_id = ?", run.ID).Find(&results).Error; err != nil {
		return false, fmt.Errorf("failed to read goal results: %w", err)
	}
	var feedback []model.Feedback
	if err := src.Where("run_id = ?", run.ID).Find(&feedback).Error; err != nil {
		return false, fmt.Errorf("failed to read feedback: %w", err)
	}

	err := dst.Transaction(func(tx *gorm.DB) error {
		run.ID = 0
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("error creating run: %w", err)
		}
		for i := range results {
			results[i].ID = 0
			results[i].RunID = run.ID
		}
		if len(results) > 0 {
			if err := tx.Create(&results).Error; err != nil {
				return fmt.Errorf("error creating goal results: %w", err)
			}
		}
		for i := range feedback {
			feedback[i].ID = 0
			feedback[i].RunID = run.ID
		}
		if len(feedback) > 0 {
			if err := tx.Create(&feedback).Error; err != nil {
				return fmt.Errorf("error creating feedback: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to copy run %s: %w", runID, err)
	}
	return true, nil
}

// CopyAll copies every run of src into dst, skipping runs dst already holds.
func CopyAll(src, dst *gorm.DB) (copied, skipped int, err error) {
	ids, err := RunIDs(src)
	if err != nil {
		return 0, 0, err
	}
	for _, id := range ids {
		ok, err := CopyRun(src, dst, id)
		if err != nil {
			return copied, skipped, err
		}
		if ok {
			copied++
		} else {
			skipped++
		}
	}
	return copied, skipped, nil
}
