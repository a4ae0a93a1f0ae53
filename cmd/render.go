package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

type printer struct {
	out      io.Writer
	md       *glamour.TermRenderer
	chartDir string
}

func newPrinter(out io.Writer, chartDir string) *printer {
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		md = nil
	}
	return &printer{out: out, md: md, chartDir: chartDir}
}

func (p *printer) markdown(text string) string {
	if p.md == nil {
		return text + "\n"
	}
	rendered, err := p.md.Render(text)
	if err != nil {
		return text + "\n"
	}
	return rendered
}

// Result prints the answer, the chain summary and where the charts were saved.
func (p *printer) Result(res contractx.TurnResult) {
	fmt.Fprint(p.out, p.markdown(res.Answer))

	paths, err := writeArtifacts(p.chartDir, res)
	if err != nil {
		fmt.Fprintf(p.out, "%s could not save charts: %v\n", color.RedString("✗"), err)
	}
	for _, path := range paths {
		fmt.Fprintf(p.out, "%s chart saved to %s\n", color.CyanString("▣"), path)
	}
	fmt.Fprintln(p.out, statusLine(res))
}

func statusLine(res contractx.TurnResult) string {
	chain := "direct answer"
	if len(res.Chain) > 0 {
		ids := make([]string, len(res.Chain))
		for i, id := range res.Chain {
			ids[i] = string(id)
		}
		chain = strings.Join(ids, " → ")
	}

	var badge string
	switch res.Status {
	case contractx.StatusSuccess:
		badge = color.GreenString("✓ success")
	case contractx.StatusPartial:
		badge = color.YellowString("◐ partial")
	default:
		badge = color.RedString("✗ %s", res.Status)
	}
	return fmt.Sprintf("%s  %s  %s", badge, color.HiBlackString(chain), color.HiBlackString("turn %s", res.TurnID))
}

func writeArtifacts(dir string, res contractx.TurnResult) ([]string, error) {
	if len(res.Artifacts) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(res.Artifacts))
	for i, a := range res.Artifacts {
		path := filepath.Join(dir, artifactFileName(res.TurnID, i, a))
		if err := os.WriteFile(path, a.Data, 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func artifactFileName(turnID string, i int, a contractx.Artifact) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(a.Title), "-"), "-")
	if slug == "" {
		slug = "chart"
	}
	if len(slug) > 48 {
		slug = strings.TrimRight(slug[:48], "-")
	}
	ext := ".png"
	if a.MIMEType != "" && a.MIMEType != "image/png" {
		ext = ".bin"
	}
	return fmt.Sprintf("%s-%02d-%s%s", strings.ToLower(turnID), i+1, slug, ext)
}
