package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendeepresearch/taskstream/internal/config"
)

func TestToConfigSeedsUnsetFieldsFromReportStyle(t *testing.T) {
	styles, err := config.LoadReportStyles()
	require.NoError(t, err)

	req := createTaskRequest{ReportStyle: "deep"}
	cfg := req.toConfig(styles)

	assert.Equal(t, 4, cfg.MaxPlanIterations)
	assert.Equal(t, 12, cfg.MaxStepNum)
	assert.Equal(t, 20, cfg.MaxSearchResults)
}

func TestToConfigLeavesExplicitFieldsAlone(t *testing.T) {
	styles, err := config.LoadReportStyles()
	require.NoError(t, err)

	req := createTaskRequest{ReportStyle: "deep", MaxPlanIterations: 1}
	cfg := req.toConfig(styles)

	assert.Equal(t, 1, cfg.MaxPlanIterations)
	assert.Equal(t, 12, cfg.MaxStepNum)
}

func TestToConfigIgnoresUnknownStyle(t *testing.T) {
	styles, err := config.LoadReportStyles()
	require.NoError(t, err)

	req := createTaskRequest{ReportStyle: "nonexistent"}
	cfg := req.toConfig(styles)

	assert.Equal(t, 0, cfg.MaxPlanIterations)
}

func TestToConfigNilStylesIsNoOp(t *testing.T) {
	req := createTaskRequest{ReportStyle: "deep"}
	cfg := req.toConfig(nil)

	assert.Equal(t, 0, cfg.MaxPlanIterations)
}
