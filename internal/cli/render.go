// pattern: Functional Core
package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"benchtree/internal/bench"
	"benchtree/internal/workspace"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// renderList renders the workspace table, main workspace first.
func renderList(workspaces []*workspace.Workspace) string {
	if len(workspaces) == 0 {
		return "no workspaces (run \"benchtree workspace sync\")\n"
	}

	widths := []int{8, 20, 10, 8}
	for _, ws := range workspaces {
		widths[0] = max(widths[0], len(ws.Name)+2)
		widths[1] = max(widths[1], len(ws.Worktree.Ref())+2)
	}

	var b strings.Builder
	cols := []string{"NAME", "REF", "COMMIT", "PYTHON"}
	for i, col := range cols {
		b.WriteString(headerStyle.Render(pad(col, widths[i])))
	}
	b.WriteString("\n")

	for _, ws := range workspaces {
		b.WriteString(pad(ws.Name, widths[0]))
		b.WriteString(pad(ws.Worktree.Ref(), widths[1]))
		b.WriteString(pad(shortCommit(ws.Worktree.Commit), widths[2]))
		b.WriteString(pad(ws.Env.Version, widths[3]))
		b.WriteString(dimStyle.Render(ws.Worktree.Root))
		b.WriteString("\n")
	}
	return b.String()
}

// renderResult renders one raw benchmark result line.
func renderResult(r *bench.RawResult) string {
	return fmt.Sprintf("%s %s [%s] %s (%s)",
		headerStyle.Render(r.Workspace),
		r.Target,
		shortCommit(r.Commit),
		dimStyle.Render(string(r.Payload)),
		r.Duration.Round(time.Millisecond),
	)
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s + " "
	}
	return s + strings.Repeat(" ", width-len(s))
}

func parentDir(path string) string {
	return filepath.Dir(path)
}
