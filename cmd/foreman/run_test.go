package main

import (
	"strings"
	"testing"

	"github.com/forgeline/foreman/internal/domain/result"
)

func TestRunOutcomeErr(t *testing.T) {
	tests := []struct {
		name    string
		res     *result.RunResult
		wantErr string
	}{
		{
			name: "success is nil",
			res:  &result.RunResult{Success: true},
		},
		{
			name:    "failure names the epic",
			res:     &result.RunResult{Error: "phase 1 failed: F02"},
			wantErr: "completed with failures",
		},
		{
			name: "conflict names the branches",
			res: &result.RunResult{
				MergeConflict: &result.MergeConflict{SourceBranch: "feat/f01", TargetBranch: "main"},
			},
			wantErr: "merge conflict (feat/f01 into main)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runOutcomeErr("epic-1", tt.res)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("err = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}
