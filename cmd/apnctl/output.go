package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
)

const (
	outputAuto  = "auto"
	outputTable = "table"
	outputJSON  = "json"
)

// printer renders command results as an aligned table or as indented JSON.
type printer struct {
	out  io.Writer
	json bool
}

// newPrinter resolves the auto mode: a terminal gets tables, anything else
// gets JSON so scripts can pipe the output.
func newPrinter(out io.Writer, mode string) (*printer, error) {
	switch mode {
	case outputJSON:
		return &printer{out: out, json: true}, nil
	case outputTable:
		return &printer{out: out}, nil
	case "", outputAuto:
		return &printer{out: out, json: !isTerminal(out)}, nil
	default:
		return nil, fmt.Errorf("output must be %s, %s or %s (got %q)", outputAuto, outputTable, outputJSON, mode)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// render writes v as JSON, or calls table with a tabwriter that is flushed
// afterwards.
func (p *printer) render(v any, table func(w io.Writer)) error {
	if p.json {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func (p *printer) message(v any, text string) error {
	return p.render(v, func(w io.Writer) {
		fmt.Fprintln(w, text)
	})
}

func printStatus(w io.Writer, st statusResponse) {
	fmt.Fprintf(w, "VERSION\t%s\n", st.Version)
	printModeRows(w, st.Mode)
	fmt.Fprintf(w, "TEMPLATES\t%d\n", st.Templates)
	fmt.Fprintf(w, "MODEM READY\t%s\n", yesNo(st.ModemReady))
	fmt.Fprintf(w, "METRICS\t%s\n", yesNo(st.Metrics.Enabled))
}

func printMode(w io.Writer, m modeResponse) {
	printModeRows(w, m)
}

func printModeRows(w io.Writer, m modeResponse) {
	fmt.Fprintf(w, "MODE\t%s\n", m.Mode)
	fmt.Fprintf(w, "TEMPLATE\t%s\n", optionalID(m.TemplateID))
	fmt.Fprintf(w, "AUTO START\t%s\n", yesNo(m.AutoStart))
	fmt.Fprintf(w, "STATE\t%s\n", m.State)
}

func printTemplates(w io.Writer, list templatesResponse) {
	fmt.Fprintln(w, "ID\tNAME\tAPN\tPROTOCOL\tAUTH\tUSERNAME\tPASSWORD\tCREATED")
	for _, t := range list.Templates {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Name, t.APN, t.Protocol, t.AuthMethod, dash(t.Username), passwordLabel(t.HasPassword), formatTime(t.CreatedAt))
	}
	if list.Total > len(list.Templates) {
		fmt.Fprintf(w, "(%d of %d shown)\n", len(list.Templates), list.Total)
	}
}

func printTemplate(w io.Writer, t templateResponse) {
	fmt.Fprintf(w, "ID\t%d\n", t.ID)
	fmt.Fprintf(w, "NAME\t%s\n", t.Name)
	fmt.Fprintf(w, "APN\t%s\n", t.APN)
	fmt.Fprintf(w, "PROTOCOL\t%s\n", t.Protocol)
	fmt.Fprintf(w, "AUTH\t%s\n", t.AuthMethod)
	fmt.Fprintf(w, "USERNAME\t%s\n", dash(t.Username))
	fmt.Fprintf(w, "PASSWORD\t%s\n", passwordLabel(t.HasPassword))
	fmt.Fprintf(w, "CREATED\t%s\n", formatTime(t.CreatedAt))
}

func printTemplateStatus(w io.Writer, st templateStatusResponse) {
	fmt.Fprintf(w, "TEMPLATE\t%d (%s)\n", st.Template.ID, st.Template.Name)
	fmt.Fprintf(w, "APN\t%s\n", st.Template.APN)
	fmt.Fprintf(w, "APPLIED\t%s\n", yesNo(st.IsApplied))
	fmt.Fprintf(w, "CONTEXT\t%s\n", dash(st.AppliedContext))
	fmt.Fprintf(w, "ACTIVE\t%s\n", yesNo(st.IsActive))
}

func printContexts(w io.Writer, list contextsResponse) {
	fmt.Fprintln(w, "PATH\tTYPE\tAPN\tPROTOCOL\tAUTH\tACTIVE")
	for _, c := range list.Contexts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Path, c.Type, dash(c.APN), dash(c.Protocol), dash(c.AuthMethod), yesNo(c.Active))
	}
}

func printEvents(w io.Writer, list eventsResponse) {
	fmt.Fprintln(w, "ID\tTIME\tKIND\tTEMPLATE\tCONTEXT\tMESSAGE")
	for _, ev := range list.Events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			ev.ID, formatTime(ev.Timestamp), ev.Kind, optionalID(ev.TemplateID), dash(ev.ContextPath), ev.Message)
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func dash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func optionalID(id int64) string {
	if id <= 0 {
		return "-"
	}
	return strconv.FormatInt(id, 10)
}

func passwordLabel(set bool) string {
	if set {
		return "set"
	}
	return "-"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
