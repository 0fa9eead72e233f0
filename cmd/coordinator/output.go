package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
	"github.com/hochfrequenz/factory-coordinator/internal/interpret"
	"github.com/hochfrequenz/factory-coordinator/internal/prompts"
	"github.com/hochfrequenz/factory-coordinator/internal/workflow"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	alertStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
)

func statusStyle(s domain.Status) lipgloss.Style {
	switch s {
	case domain.StatusCompleted, domain.StatusApproved:
		return doneStyle
	case domain.StatusInProgress, domain.StatusUnderReview, domain.StatusResponded:
		return activeStyle
	case domain.StatusOverdue, domain.StatusRejected:
		return alertStyle
	case domain.StatusCancelled, domain.StatusOnHold:
		return dimmedStyle
	default:
		return lipgloss.NewStyle()
	}
}

func renderStatus(s domain.Status) string {
	return statusStyle(s).Render(string(s))
}

// emit writes v as JSON or YAML and reports whether it did; table output is
// left to the caller.
func emit(w io.Writer, v interface{}) (bool, error) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	case "table", "":
		return false, nil
	default:
		return false, fmt.Errorf("%w: unknown output format %q", domain.ErrValidation, outputFormat)
	}
}

func printResult(w io.Writer, res *workflow.Result) error {
	if done, err := emit(w, res); done || err != nil {
		return err
	}
	from := "-"
	if res.PreviousStatus != "" {
		from = renderStatus(res.PreviousStatus)
	}
	fmt.Fprintf(w, "%s  %s -> %s\n", titleStyle.Render(res.RequestID), from, renderStatus(res.NewStatus))
	printActions(w, res.NextActions)
	return nil
}

func printActions(w io.Writer, actions []domain.Action) {
	if len(actions) == 0 {
		return
	}
	fmt.Fprintln(w, "Next actions:")
	for _, a := range actions {
		parts := []string{string(a.Type)}
		if a.Target != "" {
			parts = append(parts, "target="+a.Target)
		}
		if a.Days > 0 {
			parts = append(parts, fmt.Sprintf("in %d days", a.Days))
		}
		if a.Action != "" {
			parts = append(parts, "action="+a.Action)
		}
		if a.DelayDays > 0 {
			parts = append(parts, fmt.Sprintf("after %d days", a.DelayDays))
		}
		line := "  - " + strings.Join(parts, " ")
		if a.Message != "" {
			line += ": " + a.Message
		}
		fmt.Fprintln(w, line)
	}
}

func printRequests(w io.Writer, reqs []*domain.ProductionRequest, now time.Time) error {
	if done, err := emit(w, reqs); done || err != nil {
		return err
	}
	if len(reqs) == 0 {
		fmt.Fprintln(w, dimmedStyle.Render("No requests"))
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFACTORY\tPRODUCT\tQTY\tPRIORITY\tSTATUS\tRESPONSE DUE\tUPDATED")
	for _, r := range reqs {
		qty := humanize.Comma(int64(r.RequestedQuantity))
		if r.AdjustmentType == domain.AdjustmentDecrease {
			qty = "-" + qty
		} else {
			qty = "+" + qty
		}
		due := humanize.RelTime(r.ResponseDeadline, now, "ago", "from now")
		if !r.Status.IsTerminal() && r.ResponseDeadline.Before(now) {
			due = alertStyle.Render(due)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RequestID, r.FactoryID, r.ProductID, qty, r.Priority,
			renderStatus(r.Status), due, humanize.RelTime(r.UpdatedAt, now, "ago", "from now"))
	}
	return tw.Flush()
}

func printHistory(w io.Writer, entries []*domain.StatusHistoryEntry) error {
	if done, err := emit(w, entries); done || err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANGED AT\tFROM\tTO\tBY\tREASON")
	for _, e := range entries {
		from := "-"
		if e.PreviousStatus != nil {
			from = renderStatus(*e.PreviousStatus)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ChangedAt.Local().Format("2006-01-02 15:04:05"), from, renderStatus(e.NewStatus), e.ChangedBy, e.ChangeReason)
	}
	return tw.Flush()
}

func printTransitions(w io.Writer, rep *workflow.TransitionReport) error {
	if done, err := emit(w, rep); done || err != nil {
		return err
	}
	fmt.Fprintf(w, "%s  %s\n", titleStyle.Render(rep.RequestID), renderStatus(rep.CurrentStatus))
	if rep.IsTerminal {
		fmt.Fprintln(w, dimmedStyle.Render("terminal: no further transitions"))
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TO\tREQUIRES APPROVAL\tAUTO ALLOWED")
	for _, r := range rep.Rules {
		fmt.Fprintf(tw, "%s\t%t\t%t\n", renderStatus(r.ToStatus), r.RequiresApproval, r.AutoAllowed)
	}
	return tw.Flush()
}

func printSweep(w io.Writer, rep *workflow.SweepReport) error {
	if done, err := emit(w, rep); done || err != nil {
		return err
	}
	fmt.Fprintf(w, "%s  processed %d, progressed %d, %d completion candidates, %d failures\n",
		titleStyle.Render("Sweep"), rep.ProcessedCount, rep.ProgressedCount,
		len(rep.CompletionCandidates), len(rep.Failures))
	for _, p := range rep.Progressed {
		fmt.Fprintf(w, "  %s  %s -> %s  (%s)\n", p.RequestID, renderStatus(p.FromStatus), renderStatus(p.ToStatus), p.Reason)
	}
	for _, c := range rep.CompletionCandidates {
		fmt.Fprintf(w, "  %s  %s since %s\n", c.RequestID, activeStyle.Render("ready to confirm?"), humanize.Time(c.DeliveryDeadline))
	}
	for _, f := range rep.Failures {
		fmt.Fprintf(w, "  %s  %s\n", f.RequestID, alertStyle.Render(f.Kind+": "+f.Error))
	}
	return nil
}

func printInterpretation(w io.Writer, res *interpret.Result) error {
	if done, err := emit(w, res); done || err != nil {
		return err
	}
	path := "ai"
	if res.FallbackUsed {
		path = "fallback"
	}
	d := res.Data
	fmt.Fprintf(w, "%s  confidence %.0f%% via %s\n", titleStyle.Render("Interpretation"), res.Confidence*100, path)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "request\t%s\n", orDash(d.RequestID))
	fmt.Fprintf(tw, "acceptance\t%s\n", orDash(string(d.AcceptanceStatus)))
	if d.AvailableQuantity != nil {
		fmt.Fprintf(tw, "quantity\t%s\n", humanize.Commaf(*d.AvailableQuantity))
	}
	if d.AvailableDate != "" {
		fmt.Fprintf(tw, "available\t%s\n", d.AvailableDate)
	}
	if d.AdditionalCost != nil {
		fmt.Fprintf(tw, "additional cost\t%s\n", d.AdditionalCost.StringFixed(2))
	}
	if d.Conditions != "" {
		fmt.Fprintf(tw, "conditions\t%s\n", d.Conditions)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, e := range res.Validation.Errors {
		fmt.Fprintln(w, alertStyle.Render("error: "+e))
	}
	for _, warn := range res.Validation.Warnings {
		fmt.Fprintln(w, activeStyle.Render("warning: "+warn))
	}
	return nil
}

func printOutcome(w io.Writer, out *interpret.Outcome) error {
	if done, err := emit(w, out); done || err != nil {
		return err
	}
	if err := printInterpretation(w, out.Interpretation); err != nil {
		return err
	}
	switch {
	case out.Applied:
		fmt.Fprintf(w, "%s %s -> %s\n", doneStyle.Render("applied:"), out.RequestID, renderStatus(out.TargetStatus))
		printActions(w, out.Update.NextActions)
	case out.ManualReview:
		fmt.Fprintf(w, "%s %s would move to %s\n", activeStyle.Render("manual review:"), orDash(out.RequestID), renderStatus(out.TargetStatus))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printPrompts(w io.Writer, metas []*prompts.TemplateMeta) error {
	if done, err := emit(w, metas); done || err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTEMP\tMAX TOKENS\tDESCRIPTION")
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\n", m.ID, m.Name, m.Temperature, humanize.Comma(m.MaxTokens), orDash(m.Description))
	}
	return tw.Flush()
}
