package api

import (
	"fmt"

	"vrpdiag/internal/model"
)

func validateOptimizeRequest(req *model.OptimizeRequest) error {
	if req.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	if req.MaxIterations < 0 {
		return fmt.Errorf("maxIterations must be >= 0")
	}
	if req.InitTemp < 0 {
		return fmt.Errorf("initTemp must be >= 0")
	}
	if req.Cooling != 0 && (req.Cooling <= 0 || req.Cooling >= 1) {
		return fmt.Errorf("cooling must be in (0,1)")
	}
	if len(req.RemovalWeights) > 0 && len(req.RemovalWeights) != 2 {
		return fmt.Errorf("removalWeights must have length 2")
	}
	if len(req.InsertionWeights) > 0 && len(req.InsertionWeights) != 2 {
		return fmt.Errorf("insertionWeights must have length 2")
	}
	for k, v := range req.Objectives {
		if v < 0 {
			return fmt.Errorf("objective %s must be >= 0", k)
		}
		if k != "distance" && k != "unassigned" {
			return fmt.Errorf("unknown objective key: %s (allowed: distance, unassigned)", k)
		}
	}
	return nil
}
