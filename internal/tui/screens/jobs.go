package screens

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/thereceipt/bleprint/internal/printer"
)

// JobsView shows detailed information about recent print jobs
type JobsView struct {
	app     *tview.Application
	jobs    *printer.JobLog
	table   *tview.Table
	details *tview.TextView
	layout  *tview.Flex
	shown   []*printer.JobResult
}

// NewJobsView creates a new jobs view screen
func NewJobsView(app *tview.Application, jobs *printer.JobLog) *JobsView {
	j := &JobsView{
		app:  app,
		jobs: jobs,
	}

	j.setupUI()
	return j
}

func (j *JobsView) setupUI() {
	j.table = tview.NewTable()
	j.table.SetBorder(true)
	j.table.SetTitle("Print Jobs")
	j.table.SetSelectable(true, false)
	j.table.SetSelectedFunc(func(row, column int) {
		j.selectJob(row)
	})

	j.details = tview.NewTextView()
	j.details.SetBorder(true)
	j.details.SetTitle("Job Details")
	j.details.SetDynamicColors(true)

	j.layout = tview.NewFlex().
		AddItem(j.table, 0, 2, true).
		AddItem(j.details, 0, 1, false)

	j.table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case 'r':
				j.Refresh()
				return nil
			case 'c':
				j.jobs.ClearCompleted()
				j.Refresh()
				return nil
			}
		}
		return event
	})

	j.Refresh()
}

// Refresh reloads the job table.
func (j *JobsView) Refresh() {
	j.table.Clear()

	for col, h := range []string{"ID", "Kind", "Status", "Commands", "Bytes", "Age"} {
		j.table.SetCell(0, col, tview.NewTableCell(h).SetAlign(tview.AlignCenter).SetSelectable(false))
	}

	j.shown = j.jobs.GetAllJobs()
	for i, job := range j.shown {
		row := i + 1
		j.table.SetCell(row, 0, tview.NewTableCell(shortID(job.ID)))
		j.table.SetCell(row, 1, tview.NewTableCell(string(job.Kind)))
		j.table.SetCell(row, 2, tview.NewTableCell(StatusIcon(job.Status)+" "+string(job.Status)))
		j.table.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%d/%d", job.Commands-job.Failed, job.Commands)))
		j.table.SetCell(row, 4, tview.NewTableCell(fmt.Sprintf("%d", job.Bytes)))
		j.table.SetCell(row, 5, tview.NewTableCell(time.Since(job.StartedAt).Truncate(time.Second).String()))
	}

	if len(j.shown) == 0 {
		j.details.SetText("[yellow]No print jobs yet[white]")
	}
}

func (j *JobsView) selectJob(row int) {
	if row == 0 || row-1 >= len(j.shown) {
		return
	}
	j.details.SetText(JobDetails(j.shown[row-1]))
}

// JobDetails renders one job for a TextView with dynamic colors.
func JobDetails(job *printer.JobResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]Job ID:[white] %s\n", job.ID)
	fmt.Fprintf(&b, "[yellow]Kind:[white] %s\n", job.Kind)
	fmt.Fprintf(&b, "[yellow]Status:[white] %s %s\n", StatusIcon(job.Status), job.Status)
	fmt.Fprintf(&b, "[yellow]Commands:[white] %d (%d failed)\n", job.Commands, job.Failed)
	fmt.Fprintf(&b, "[yellow]Sent:[white] %d bytes in %d chunks\n", job.Bytes, job.Chunks)
	fmt.Fprintf(&b, "[yellow]Started:[white] %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "[yellow]Took:[white] %s\n", job.Duration().Round(time.Millisecond))

	if job.Error != "" {
		fmt.Fprintf(&b, "\n[red]Error:[white] %s\n", tview.Escape(job.Error))
	}

	b.WriteString("\n[yellow]Press 'r' to refresh, 'c' to clear finished jobs[white]")
	return b.String()
}

// StatusIcon marks a job outcome.
func StatusIcon(status printer.JobStatus) string {
	switch status {
	case printer.JobCompleted:
		return "✅"
	case printer.JobPartial:
		return "⚠️"
	case printer.JobFailed:
		return "❌"
	default:
		return "⚪"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// GetRoot returns the root primitive for this screen
func (j *JobsView) GetRoot() tview.Primitive {
	return j.layout
}
