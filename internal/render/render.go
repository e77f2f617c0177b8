package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joelkehle/patent-drafter/internal/templates"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Renderer turns the final markdown into a document through an HTML template.
type Renderer struct {
	format     Format
	chromePath string
	timeout    time.Duration
	md         goldmark.Markdown
	clock      func() time.Time
}

func New(format Format, chromePath string) *Renderer {
	if chromePath == "" {
		chromePath = detectChromePath()
	}
	return &Renderer{
		format:     format,
		chromePath: chromePath,
		timeout:    60 * time.Second,
		md:         goldmark.New(goldmark.WithExtensions(extension.GFM)),
		clock:      time.Now,
	}
}

func (r *Renderer) Extension() string {
	return "." + string(r.format)
}

// Render writes the rendered document to outputPath.
func (r *Renderer) Render(ctx context.Context, markdown, templatePath, outputPath string) error {
	tpl, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	doc, err := r.BuildHTML(markdown, string(tpl))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	if r.format == FormatHTML {
		return os.WriteFile(outputPath, []byte(doc), 0o644)
	}
	pdf, err := r.printPDF(ctx, doc)
	if err != nil {
		return fmt.Errorf("print pdf: %w", err)
	}
	return os.WriteFile(outputPath, pdf, 0o644)
}

// BuildHTML fills {{content}}, {{title}}, {{generated_at}} and
// {{section:<name>}} placeholders. Unknown placeholders render empty.
func (r *Renderer) BuildHTML(markdown, tpl string) (string, error) {
	body := StripHeader(markdown)
	content, err := r.convert(body)
	if err != nil {
		return "", err
	}
	title, sections := splitSections(body)
	rendered := map[string]string{}
	for kind, md := range sections {
		h, err := r.convert(md)
		if err != nil {
			return "", err
		}
		rendered[kind] = h
	}
	generatedAt := r.clock().Format("2006-01-02 15:04")

	out := placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		name := strings.TrimSpace(placeholderRe.FindStringSubmatch(m)[1])
		switch {
		case name == "content":
			return content
		case name == "title":
			return html.EscapeString(title)
		case name == "generated_at":
			return generatedAt
		case strings.HasPrefix(name, "section:"):
			return rendered[templates.SectionType(strings.TrimPrefix(name, "section:"))]
		}
		return ""
	})
	return out, nil
}

func (r *Renderer) convert(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return buf.String(), nil
}

// StripHeader drops a leading HTML comment, such as the generation header on
// saved drafts, and returns the markdown body.
func StripHeader(markdown string) string {
	trimmed := strings.TrimLeft(markdown, " \n")
	if strings.HasPrefix(trimmed, "<!--") {
		if end := strings.Index(trimmed, "-->"); end >= 0 {
			return strings.TrimLeft(trimmed[end+3:], "\n")
		}
	}
	return markdown
}

// splitSections returns the first level-1 heading as the title and the body
// of each level-1/level-2 section keyed by its standard section type.
func splitSections(markdown string) (string, map[string]string) {
	title := ""
	sections := map[string]string{}
	kind := ""
	var cur []string
	flush := func() {
		if kind != "" && kind != "其他章节" {
			sections[kind] += strings.TrimSpace(strings.Join(cur, "\n")) + "\n"
		}
		cur = nil
	}
	inFence := false
	for _, line := range strings.Split(markdown, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "```") {
			inFence = !inFence
		}
		if !inFence && (strings.HasPrefix(t, "# ") || strings.HasPrefix(t, "## ")) {
			heading := strings.TrimSpace(strings.TrimLeft(t, "#"))
			if strings.HasPrefix(t, "# ") && title == "" {
				flush()
				title = heading
				kind = ""
				continue
			}
			flush()
			kind = templates.SectionType(heading)
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return title, sections
}

func (r *Renderer) printPDF(ctx context.Context, doc string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(doc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
				`<span class="pageNumber"></span> / <span class="totalPages"></span></div>`
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.6).
				WithMarginBottom(0.7).
				WithMarginLeft(0.6).
				WithMarginRight(0.6).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, err
	}
	return pdf, nil
}

func detectChromePath() string {
	for _, p := range []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
