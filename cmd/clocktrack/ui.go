package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	labelStyle  = lipgloss.NewStyle().Width(14)
)

func renderPass(s string) string   { return passStyle.Render(s) }
func renderWarn(s string) string   { return warnStyle.Render(s) }
func renderFail(s string) string   { return failStyle.Render(s) }
func renderAccent(s string) string { return accentStyle.Render(s) }
func renderMuted(s string) string  { return mutedStyle.Render(s) }

func printField(label, value string) {
	fmt.Printf("%s %s\n", labelStyle.Render(label+":"), value)
}

func yesNo(b bool) string {
	if b {
		return renderPass("yes")
	}
	return renderWarn("no")
}

func renderPermission(l tracker.PermissionLevel) string {
	switch l {
	case tracker.PermissionAlways:
		return renderPass(l.String())
	case tracker.PermissionWhenInUse:
		return renderWarn(l.String())
	default:
		return renderFail(l.String())
	}
}

func renderSyncStatus(s model.MetadataStatus) string {
	switch s {
	case model.StatusSynced, model.StatusIdle:
		return renderPass(string(s))
	case model.StatusError, model.StatusAuthRequired:
		return renderFail(string(s))
	default:
		return renderWarn(string(s))
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return renderMuted("never")
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatSyncResult(r model.SyncResult) string {
	s := fmt.Sprintf("%d synced, %d failed, %d quarantined in %s",
		r.Synced, r.Failed, r.Quarantined, r.Duration.Truncate(time.Millisecond))
	if r.LastError != "" {
		s += " (" + r.LastError + ")"
	}
	return s
}
