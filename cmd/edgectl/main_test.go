package main

import (
	"bytes"
	"errors"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yourorg/edge-orchestrator/pkg/config"
	"github.com/yourorg/edge-orchestrator/pkg/lifecycle"
	"github.com/yourorg/edge-orchestrator/pkg/orchestrator"
)

func TestPhasedCommandHasLinkAndAttach(t *testing.T) {
	cmd := phasedCommand("commission", "Commission", orchestrator.WorkflowCommission)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
		assert.NotNil(t, sub.Flags().Lookup("mapping"))
	}
	assert.ElementsMatch(t, []string{"link", "attach"}, names)
}

func TestPrintReportListsFailedRows(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	printReport(cmd, &lifecycle.Report{
		RunID:    "run-1",
		Workflow: lifecycle.WorkflowReplace,
		Rows: []lifecycle.RowResult{
			{Row: 2, Subject: "C1 -> C2"},
			{Row: 3, Subject: "C3 -> C4", Err: errors.New("device not found\n")},
		},
	})

	assert.Contains(t, out.String(), "replace run run-1: 1 succeeded, 1 failed")
	assert.Contains(t, out.String(), "row 3 (C3 -> C4): device not found")
	assert.NotContains(t, out.String(), "C1 -> C2")
}

func TestPrintReportNil(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	printReport(cmd, nil)
	assert.Empty(t, out.String())
}

func TestCreateLoggerLevel(t *testing.T) {
	logger, err := createLogger(config.LoggingConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))
	assert.True(t, logger.Core().Enabled(1))
}

func TestDispatchRejectsIncompleteRequest(t *testing.T) {
	err := dispatch(&cobra.Command{}, orchestrator.Request{Kind: orchestrator.WorkflowReconfigure})
	assert.EqualError(t, err, "template name is required")
}

func TestSignalContextCancelsBeforeLoggerIsSet(t *testing.T) {
	var logger atomic.Pointer[zap.Logger]
	ctx, cancel := signalContext(&logger)
	defer cancel()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by SIGINT")
	}
}

func TestSignalContextLogsShutdown(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var logger atomic.Pointer[zap.Logger]
	ctx, cancel := signalContext(&logger)
	defer cancel()
	logger.Store(zap.New(core))

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
	assert.Equal(t, 1, logs.FilterMessage("received shutdown signal").Len())
}
