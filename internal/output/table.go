package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/aws-samples/eks-node-rollout/internal/models"
)

// ANSI color codes for outcome output (used when Colored=true).
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[0;31m"
	ansiGreen  = "\033[0;32m"
	ansiYellow = "\033[0;33m"
)

// TableOptions controls run-report rendering.
type TableOptions struct {
	// Colored wraps outcome labels with ANSI codes. Default false (CI-safe).
	Colored bool
}

// outcomeCell returns the outcome kind padded to width characters. When
// colored, ANSI codes wrap only the text so column alignment survives
// terminals that strip escapes.
func outcomeCell(kind models.OutcomeKind, width int, colored bool) string {
	text := string(kind)
	if !colored {
		return fmt.Sprintf("%-*s", width, text)
	}
	var code string
	switch kind {
	case models.OutcomeSucceeded:
		code = ansiGreen
	case models.OutcomeFailed:
		code = ansiRed
	case models.OutcomeSkipped:
		code = ansiYellow
	default:
		return fmt.Sprintf("%-*s", width, text)
	}
	spaces := width - len(text)
	if spaces < 0 {
		spaces = 0
	}
	return code + text + ansiReset + strings.Repeat(" ", spaces)
}

// truncateField shortens s to at most max bytes for ID/label columns.
func truncateField(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// RenderRunReport writes a human-readable run summary followed by the
// per-node-group outcome table and any cluster errors.
func RenderRunReport(w io.Writer, report *models.RunReport, opts TableOptions) {
	succeeded, failed, skipped := report.Counts()
	fmt.Fprintf(w, "Run: %s  AMI: %s  Succeeded: %d  Failed: %d  Skipped: %d\n",
		report.RunID, report.AMI, succeeded, failed, skipped)
	if len(report.StaleResets) > 0 {
		fmt.Fprintf(w, "Stale in-progress records reset: %s\n", strings.Join(report.StaleResets, ", "))
	}
	fmt.Fprintln(w)

	if len(report.Outcomes) == 0 {
		fmt.Fprintln(w, "No node groups processed.")
	} else {
		renderOutcomes(w, report.Outcomes, opts)
	}

	if len(report.ClusterErrors) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Cluster errors")
	for _, ce := range report.ClusterErrors {
		fmt.Fprintf(w, "  %-30s  %s\n", truncateField(ce.ClusterName, 30), ce.Message)
	}
}

func renderOutcomes(w io.Writer, outcomes []models.TargetOutcome, opts TableOptions) {
	const (
		wCluster   = 28
		wNodegroup = 28
		wResult    = 10
		wDetail    = 60
	)

	header := fmt.Sprintf("%-*s  %-*s  %-*s  %-*s",
		wCluster, "CLUSTER", wNodegroup, "NODE GROUP", wResult, "RESULT", wDetail, "DETAIL")
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len(header)))

	for _, o := range outcomes {
		detail := o.Detail
		if o.ErrorKind != models.ErrorKindNone {
			detail = fmt.Sprintf("[%s] %s", o.ErrorKind, detail)
		}
		fmt.Fprintf(w, "%-*s  %-*s  %s  %-*s\n",
			wCluster, truncateField(o.ClusterName, wCluster),
			wNodegroup, truncateField(o.NodegroupName, wNodegroup),
			outcomeCell(o.Kind, wResult, opts.Colored),
			wDetail, truncateField(detail, wDetail),
		)
	}
}

// RenderTargets writes the resolved target list produced by
// ekrollout targets.
func RenderTargets(w io.Writer, targets []models.TargetNodeGroup) {
	if len(targets) == 0 {
		fmt.Fprintln(w, "No matching node groups.")
		return
	}

	const (
		wCluster   = 28
		wNodegroup = 28
		wLT        = 24
		wVersion   = 8
	)

	header := fmt.Sprintf("%-*s  %-*s  %-*s  %-*s",
		wCluster, "CLUSTER", wNodegroup, "NODE GROUP", wLT, "LAUNCH TEMPLATE", wVersion, "VERSION")
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len(header)))

	for _, t := range targets {
		fmt.Fprintf(w, "%-*s  %-*s  %-*s  %-*s\n",
			wCluster, truncateField(t.ClusterName, wCluster),
			wNodegroup, truncateField(t.NodegroupName, wNodegroup),
			wLT, truncateField(t.LaunchTemplateID, wLT),
			wVersion, t.LaunchTemplateVersion,
		)
	}
}
