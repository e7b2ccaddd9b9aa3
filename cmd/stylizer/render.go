package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"stylizer/internal/api"
)

// tone is the severity a rendered value carries.
type tone int

const (
	toneNeutral tone = iota
	toneGood
	toneBusy
	toneBad
)

func (t tone) marker() string {
	switch t {
	case toneGood:
		return "OK"
	case toneBusy:
		return "BUSY"
	case toneBad:
		return "FAIL"
	default:
		return ""
	}
}

func (t tone) colors() text.Colors {
	switch t {
	case toneGood:
		return text.Colors{text.FgGreen}
	case toneBusy:
		return text.Colors{text.FgYellow}
	case toneBad:
		return text.Colors{text.FgRed}
	default:
		return nil
	}
}

var headingColors = text.Colors{text.FgBlue, text.Bold}

// statusTone maps a job status to its tone; unknown statuses stay neutral.
func statusTone(status string) tone {
	switch status {
	case "completed":
		return toneGood
	case "running":
		return toneBusy
	case "failed":
		return toneBad
	default:
		return toneNeutral
	}
}

func dependencyTone(dep api.DependencyStatus) tone {
	switch {
	case dep.Available:
		return toneGood
	case dep.Optional:
		return toneBusy
	default:
		return toneBad
	}
}

// sheet is a titled list of label/value rows with labels aligned to the longest one.
type sheet struct {
	title string
	rows  []sheetRow
}

type sheetRow struct {
	label string
	value string
	tone  tone
}

func (s *sheet) add(label, value string) {
	s.rows = append(s.rows, sheetRow{label: label, value: value})
}

func (s *sheet) addToned(label string, t tone, value string) {
	s.rows = append(s.rows, sheetRow{label: label, value: value, tone: t})
}

func (s *sheet) render(color bool) string {
	var b strings.Builder
	if s.title != "" {
		rule := strings.Repeat("=", text.RuneWidthWithoutEscSequences(s.title))
		title := s.title
		if color {
			title, rule = headingColors.Sprint(title), headingColors.Sprint(rule)
		}
		fmt.Fprintf(&b, "%s\n%s\n", title, rule)
	}
	width := 0
	for _, row := range s.rows {
		width = max(width, text.RuneWidthWithoutEscSequences(row.label)+1)
	}
	for _, row := range s.rows {
		value := row.value
		if m := row.tone.marker(); m != "" {
			value = "[" + m + "] " + value
		}
		if colors := row.tone.colors(); color && len(colors) > 0 {
			value = colors.Sprint(value)
		}
		fmt.Fprintf(&b, "  %s %s\n", text.Pad(row.label+":", width, ' '), value)
	}
	return b.String()
}

// jobSheet lays out every field of a single job.
func jobSheet(job api.Job) *sheet {
	s := &sheet{title: "Job " + job.ID}
	s.addToned("Status", statusTone(job.Status), titleCaser.String(job.Status))
	s.add("Kind", job.Kind)
	s.add("Subject", job.Subject)
	s.add("Style", job.Style)
	s.add("Started", formatStarted(job.StartedAt))
	s.add("Duration", formatSeconds(job.DurationSeconds))
	if job.ExitCode != nil {
		s.add("Exit code", fmt.Sprintf("%d", *job.ExitCode))
	}
	if job.OutputPath != "" {
		s.add("Output", job.OutputPath)
	}
	if job.ErrorMessage != nil {
		// Stderr on a completed job is informational only.
		t := toneNeutral
		if job.Status == "failed" {
			t = toneBad
		}
		s.addToned("Last stderr", t, *job.ErrorMessage)
	}
	if len(job.Argv) > 0 {
		s.add("Command", strings.Join(job.Argv, " "))
	}
	return s
}

var jobColumns = table.Row{"ID", "Kind", "Status", "Started", "Duration", "Subject", "Style"}

// jobTable renders jobs newest first as they arrive, tinting the status column.
func jobTable(jobs []api.Job, color bool) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(jobColumns)
	for _, job := range jobs {
		tw.AppendRow(table.Row{
			shortID(job.ID),
			job.Kind,
			job.Status,
			formatStarted(job.StartedAt),
			formatSeconds(job.DurationSeconds),
			filepath.Base(job.Subject),
			filepath.Base(job.Style),
		})
	}
	status := table.ColumnConfig{
		Name: "Status",
		Transformer: func(val any) string {
			raw := fmt.Sprint(val)
			label := titleCaser.String(raw)
			if colors := statusTone(raw).colors(); color && len(colors) > 0 {
				return colors.Sprint(label)
			}
			return label
		},
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		status,
		{Name: "Duration", Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

// colorEnabled reports whether w is a terminal. go-pretty itself honours NO_COLOR.
func colorEnabled(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
