package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/factory-coordinator/internal/config"
	"github.com/hochfrequenz/factory-coordinator/internal/domain"
	"github.com/hochfrequenz/factory-coordinator/internal/notify"
	"github.com/hochfrequenz/factory-coordinator/internal/prompts"
	"github.com/hochfrequenz/factory-coordinator/internal/workflow"
)

// runCLI executes the root command against a fresh config and returns stdout
func runCLI(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags() {
	submitFile, submitBy = "", string(domain.ActorCoordinationAgent)
	submitForm = requestForm{AdjustmentType: "increase", Priority: "medium"}
	updateBy, updateReason = "", ""
	listStatus, listFactory = nil, ""
	sweepWatch = false
	interpretReqID, interpretApply = "", false
	serveAddr, serveSweep = "", false
	outputFormat = "table"
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.toml")
	content := `
[general]
backend = "sqlite"
database_path = "` + filepath.ToSlash(filepath.Join(dir, "coordinator.db")) + `"

[ai]
provider = "none"

[log]
level = "error"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRequestForm_ToRequest(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	form := requestForm{
		FactoryID:         "F01",
		ProductID:         "P-100",
		RequestedQuantity: 500,
		AdjustmentType:    "Increase",
		Priority:          "HIGH",
		ResponseDeadline:  "2025-03-05",
		DeliveryDeadline:  "tomorrow",
	}

	req, err := form.toRequest(now)
	require.NoError(t, err)
	assert.Equal(t, domain.AdjustmentIncrease, req.AdjustmentType)
	assert.Equal(t, domain.PriorityHigh, req.Priority)
	assert.Equal(t, 5, req.ResponseDeadline.Day())
	assert.Equal(t, 2, req.DeliveryDeadline.Day())

	form.DeliveryDeadline = "whenever"
	_, err = form.toRequest(now)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEmit_Formats(t *testing.T) {
	defer func() { outputFormat = "table" }()
	res := &workflow.Result{RequestID: "REQ1", NewStatus: domain.StatusApproved}

	outputFormat = "json"
	var buf bytes.Buffer
	done, err := emit(&buf, res)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Contains(t, buf.String(), `"request_id": "REQ1"`)

	outputFormat = "yaml"
	buf.Reset()
	done, err = emit(&buf, res)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Contains(t, buf.String(), "new_status: approved")

	outputFormat = "table"
	done, err = emit(&buf, res)
	require.NoError(t, err)
	assert.False(t, done)

	outputFormat = "xml"
	_, err = emit(&buf, res)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPrintRequests_Table(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	reqs := []*domain.ProductionRequest{{
		RequestID:         "REQ1",
		FactoryID:         "F01",
		ProductID:         "P-100",
		RequestedQuantity: 1500,
		AdjustmentType:    domain.AdjustmentDecrease,
		Priority:          domain.PriorityLow,
		Status:            domain.StatusSubmitted,
		ResponseDeadline:  now.Add(48 * time.Hour),
		UpdatedAt:         now.Add(-time.Hour),
	}}

	var buf bytes.Buffer
	require.NoError(t, printRequests(&buf, reqs, now))
	out := buf.String()
	assert.Contains(t, out, "REQ1")
	assert.Contains(t, out, "-1,500")
	assert.Contains(t, out, "from now")
}

func TestCLI_SubmitUpdateHistory(t *testing.T) {
	cfg := writeConfig(t)

	out, err := runCLI(t, cfg, "submit", "-o", "json",
		"--factory", "F01", "--product", "P-100", "--quantity", "500",
		"--respond-by", "2099-01-10", "--deliver-by", "2099-02-01")
	require.NoError(t, err)

	var submitted workflow.Result
	require.NoError(t, json.Unmarshal([]byte(out), &submitted))
	assert.Equal(t, domain.StatusSubmitted, submitted.NewStatus)
	require.True(t, strings.HasPrefix(submitted.RequestID, "REQ"))

	out, err = runCLI(t, cfg, "update", submitted.RequestID, "under_review", "--by", "alice", "--reason", "factory acknowledged", "-o", "json")
	require.NoError(t, err)
	var updated workflow.Result
	require.NoError(t, json.Unmarshal([]byte(out), &updated))
	assert.Equal(t, domain.StatusSubmitted, updated.PreviousStatus)
	assert.Equal(t, domain.StatusUnderReview, updated.NewStatus)

	out, err = runCLI(t, cfg, "history", submitted.RequestID, "-o", "json")
	require.NoError(t, err)
	var entries []*domain.StatusHistoryEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].PreviousStatus)
	assert.Equal(t, domain.Actor("alice"), entries[1].ChangedBy)

	out, err = runCLI(t, cfg, "list", "--status", "under_review")
	require.NoError(t, err)
	assert.Contains(t, out, submitted.RequestID)
}

func TestCLI_InvalidTransition(t *testing.T) {
	cfg := writeConfig(t)

	out, err := runCLI(t, cfg, "submit", "-o", "json",
		"--factory", "F01", "--product", "P-100", "--quantity", "10",
		"--respond-by", "2099-01-10", "--deliver-by", "2099-02-01")
	require.NoError(t, err)
	var submitted workflow.Result
	require.NoError(t, json.Unmarshal([]byte(out), &submitted))

	_, err = runCLI(t, cfg, "update", submitted.RequestID, "completed", "--by", "alice")
	require.Error(t, err)
	assert.Equal(t, "invalid_transition", domain.Kind(err))

	var te *domain.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, domain.StatusSubmitted, te.From)
}

func TestCLI_RefusesSweepIdentity(t *testing.T) {
	cfg := writeConfig(t)

	out, err := runCLI(t, cfg, "submit", "-o", "json",
		"--factory", "F01", "--product", "P-100", "--quantity", "10",
		"--respond-by", "2099-01-10", "--deliver-by", "2099-02-01")
	require.NoError(t, err)
	var submitted workflow.Result
	require.NoError(t, json.Unmarshal([]byte(out), &submitted))

	_, err = runCLI(t, cfg, "update", submitted.RequestID, "overdue", "--by", "AUTO_SYSTEM")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = runCLI(t, cfg, "submit",
		"--factory", "F01", "--product", "P-100", "--quantity", "10",
		"--respond-by", "2099-01-10", "--deliver-by", "2099-02-01", "--by", "AUTO_SYSTEM")
	assert.ErrorIs(t, err, domain.ErrValidation)

	out, err = runCLI(t, cfg, "history", submitted.RequestID, "-o", "json")
	require.NoError(t, err)
	var entries []domain.StatusHistoryEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Len(t, entries, 1)
}

func TestCLI_SweepAndInterpret(t *testing.T) {
	cfg := writeConfig(t)

	out, err := runCLI(t, cfg, "submit", "-o", "json",
		"--factory", "F01", "--product", "P-100", "--quantity", "10",
		"--respond-by", "2000-01-10", "--deliver-by", "2099-02-01")
	require.NoError(t, err)
	var submitted workflow.Result
	require.NoError(t, json.Unmarshal([]byte(out), &submitted))

	out, err = runCLI(t, cfg, "sweep", "-o", "json")
	require.NoError(t, err)
	var rep workflow.SweepReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.Progressed, 1)
	assert.Equal(t, domain.StatusOverdue, rep.Progressed[0].ToStatus)

	reply := filepath.Join(t.TempDir(), "reply.txt")
	require.NoError(t, os.WriteFile(reply, []byte(submitted.RequestID+": 承認します。300個を2099/04/01までに納品可能"), 0o644))

	out, err = runCLI(t, cfg, "interpret", reply, "--apply", "-o", "json")
	require.NoError(t, err)
	var outcome map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, true, outcome["manual_review"])
	assert.Equal(t, false, outcome["applied"])
}

func TestCLI_UnknownStatus(t *testing.T) {
	cfg := writeConfig(t)
	_, err := runCLI(t, cfg, "update", "REQ1", "shipped", "--by", "alice")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNewSender(t *testing.T) {
	log := logrus.New()

	assert.IsType(t, notify.NoopSender{}, newSender(config.SignalsConfig{Enabled: false, WebhookURL: "http://hook"}, log))
	assert.IsType(t, &notify.LogSender{}, newSender(config.SignalsConfig{Enabled: true}, log))
	assert.IsType(t, &notify.MultiSender{}, newSender(config.SignalsConfig{Enabled: true, WebhookURL: "http://hook"}, log))
}

func TestCLI_Prompts(t *testing.T) {
	cfg := writeConfig(t)

	out, err := runCLI(t, cfg, "prompts", "-o", "json")
	require.NoError(t, err)
	var metas []*prompts.TemplateMeta
	require.NoError(t, json.Unmarshal([]byte(out), &metas))
	ids := map[string]string{}
	for _, m := range metas {
		ids[m.ID] = m.Name
	}
	assert.Contains(t, ids, "extract")
	assert.Contains(t, ids, "confidence")

	overrides := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(overrides, "ai"), 0o755))
	custom := "---\nid: extract\nname: Plant reply reader\ntemperature: 0\nmax_tokens: 1500\n---\nRead {{.Text}}\n"
	require.NoError(t, os.WriteFile(filepath.Join(overrides, "ai", "extract.md"), []byte(custom), 0o644))

	f, err := os.OpenFile(cfg, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n[prompts]\noverride_dir = \"" + filepath.ToSlash(overrides) + "\"\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err = runCLI(t, cfg, "prompts")
	require.NoError(t, err)
	assert.Contains(t, out, "Plant reply reader")
	assert.Contains(t, out, "1,500")
}
