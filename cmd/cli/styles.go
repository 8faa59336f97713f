package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	primary = lipgloss.Color("#7C3AED") // Purple
	success = lipgloss.Color("#10B981") // Green
	warning = lipgloss.Color("#F59E0B") // Amber
	danger  = lipgloss.Color("#EF4444") // Red
	muted   = lipgloss.Color("#6B7280") // Gray
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primary)
	successStyle = lipgloss.NewStyle().Foreground(success)
	warningStyle = lipgloss.NewStyle().Foreground(warning)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(danger)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	labelStyle   = lipgloss.NewStyle().Foreground(muted).Width(16)

	previewStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1)
)

func stateBadge(st status) string {
	switch st.State {
	case "connected":
		return successStyle.Render("● connected")
	case "printing":
		return warningStyle.Render("● printing")
	case "connecting":
		return warningStyle.Render("○ connecting")
	case "error":
		return errorStyle.Render("● error")
	default:
		return mutedStyle.Render("○ disconnected")
	}
}

func jobBadge(status string) string {
	switch status {
	case "completed":
		return successStyle.Render("✓ completed")
	case "partial":
		return warningStyle.Render("⚠ partial")
	default:
		return errorStyle.Render("✗ " + status)
	}
}

func field(label, value string) string {
	return labelStyle.Render(label) + value
}

func printStatus(r *statusResponse) {
	lines := []string{field("State", stateBadge(r.Status))}
	if r.Link != nil {
		name := r.Link.Device.Name
		if name == "" {
			name = r.Link.Device.Address
		}
		lines = append(lines,
			field("Printer", name),
			field("Address", r.Link.Device.Address),
			field("Profile", r.Link.Candidate.Profile),
			field("Characteristic", r.Link.Candidate.Characteristic),
		)
	}
	if r.Status.Error != "" {
		lines = append(lines, field("Error", errorStyle.Render(r.Status.Error)))
	}
	fmt.Println(strings.Join(lines, "\n"))
}

func printDevices(devices []device) {
	if len(devices) == 0 {
		fmt.Println(mutedStyle.Render("No printers found"))
		return
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("Found %d printer(s)", len(devices))))
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = mutedStyle.Render("(unnamed)")
		}
		fmt.Printf("  %s  %-20s %s\n", d.Address, name, mutedStyle.Render(fmt.Sprintf("%d dBm", d.RSSI)))
	}
}

func printJob(j *job) {
	fmt.Println(field("Job", j.ID))
	fmt.Println(field("Status", jobBadge(j.Status)))
	fmt.Println(field("Commands", fmt.Sprintf("%d (%d failed)", j.Commands, j.Failed)))
	fmt.Println(field("Sent", fmt.Sprintf("%d bytes in %d chunks", j.Bytes, j.Chunks)))
	if j.Error != "" {
		fmt.Println(field("Error", errorStyle.Render(j.Error)))
	}
}

func printJobs(jobs []job) {
	if len(jobs) == 0 {
		fmt.Println(mutedStyle.Render("No print jobs"))
		return
	}
	fmt.Println(titleStyle.Render("Recent jobs"))
	for _, j := range jobs {
		fmt.Printf("  %s  %-9s %s\n", j.ID, j.Kind, jobBadge(j.Status))
	}
}

func printPrinters(printers []printerEntry) {
	if len(printers) == 0 {
		fmt.Println(mutedStyle.Render("No remembered printers"))
		return
	}
	fmt.Println(titleStyle.Render("Remembered printers"))
	for _, p := range printers {
		last := "never"
		if !p.LastConnected.IsZero() {
			last = p.LastConnected.Local().Format(time.DateTime)
		}
		fmt.Printf("  %s  %-20s %s %s\n", p.ID, p.displayName(), p.Address, mutedStyle.Render(last))
	}
}
