package templates

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/joelkehle/patent-drafter/internal/prompts"
)

type Section struct {
	Level int    `json:"level"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type Analysis struct {
	TemplateID      string    `json:"templateId"`
	Title           string    `json:"title"`
	Sections        []Section `json:"sections"`
	Placeholders    []string  `json:"placeholders"`
	MaxHeadingLevel int       `json:"maxHeadingLevel"`
	Domains         []string  `json:"domains"`
	Complexity      float64   `json:"complexity"`
	Completeness    float64   `json:"completeness"`
	TemplateType    string    `json:"templateType"`
	Suggestions     []string  `json:"suggestions"`
}

const otherSection = "其他章节"

var requiredSections = []string{"标题", "技术领域", "背景技术", "发明内容", "权利要求书", "摘要"}

var sectionPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"标题", regexp.MustCompile(`标题|发明名称|专利名称`)},
	{"技术领域", regexp.MustCompile(`技术领域|所属技术领域`)},
	{"背景技术", regexp.MustCompile(`背景技术|现有技术|相关技术|技术背景`)},
	{"发明内容", regexp.MustCompile(`发明内容|技术方案|发明概述`)},
	{"附图说明", regexp.MustCompile(`附图说明|图示说明`)},
	{"具体实施方式", regexp.MustCompile(`具体实施方式|实施例|实施方式`)},
	{"权利要求书", regexp.MustCompile(`权利要求`)},
	{"摘要", regexp.MustCompile(`摘要`)},
}

var domainKeywords = []struct {
	domain   string
	keywords []string
}{
	{"计算机软件", []string{"软件", "程序", "算法", "数据", "系统", "平台"}},
	{"电子通信", []string{"通信", "网络", "信号", "电路", "无线", "天线"}},
	{"机械制造", []string{"机械", "装置", "机构", "传动", "加工"}},
	{"化学材料", []string{"化学", "材料", "化合物", "合成", "组合物"}},
	{"医疗器械", []string{"医疗", "治疗", "诊断", "手术", "康复"}},
	{"新能源", []string{"能源", "电池", "光伏", "储能", "发电"}},
	{"人工智能", []string{"人工智能", "机器学习", "深度学习", "神经网络"}},
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}

func analyzeHTML(r io.Reader) (Analysis, error) {
	var (
		a        Analysis
		text     strings.Builder
		heading  strings.Builder
		level    int
		inTitle  bool
		inIgnore bool
	)
	z := html.NewTokenizer(r)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				finishAnalysis(&a, text.String())
				return a, nil
			}
			return Analysis{}, z.Err()
		case html.StartTagToken:
			tok := z.Token()
			switch {
			case tok.DataAtom == atom.Title:
				inTitle = true
			case tok.DataAtom == atom.Style || tok.DataAtom == atom.Script:
				inIgnore = true
			case headingLevel(tok.DataAtom) > 0:
				level = headingLevel(tok.DataAtom)
				heading.Reset()
			}
		case html.EndTagToken:
			tok := z.Token()
			switch {
			case tok.DataAtom == atom.Title:
				inTitle = false
			case tok.DataAtom == atom.Style || tok.DataAtom == atom.Script:
				inIgnore = false
			case headingLevel(tok.DataAtom) > 0 && level > 0:
				title := strings.TrimSpace(heading.String())
				if title != "" {
					a.Sections = append(a.Sections, Section{Level: level, Title: title, Type: SectionType(title)})
					if level > a.MaxHeadingLevel {
						a.MaxHeadingLevel = level
					}
				}
				level = 0
			}
		case html.TextToken:
			if inIgnore {
				continue
			}
			data := string(z.Text())
			if inTitle {
				a.Title = strings.TrimSpace(data)
				continue
			}
			if level > 0 {
				heading.WriteString(data)
			}
			text.WriteString(data)
			text.WriteString("\n")
		}
	}
}

// SectionType maps a heading onto one of the standard patent sections.
func SectionType(title string) string {
	for _, p := range sectionPatterns {
		if p.re.MatchString(title) {
			return p.kind
		}
	}
	return otherSection
}

// finishAnalysis derives the scores. Complexity weights: structure 0.3,
// placeholders 0.2, hierarchy 0.2, section variety 0.3.
func finishAnalysis(a *Analysis, body string) {
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(body, -1) {
		name := strings.TrimSpace(m[1])
		if !seen[name] {
			seen[name] = true
			a.Placeholders = append(a.Placeholders, name)
		}
	}

	types := map[string]bool{}
	for _, s := range a.Sections {
		types[s.Type] = true
	}
	a.Complexity = 0.3*ratio(len(a.Sections), 8) +
		0.2*ratio(len(a.Placeholders), 10) +
		0.2*ratio(a.MaxHeadingLevel, 4) +
		0.3*ratio(len(types), 5)

	found := 0
	var missing []string
	for _, req := range requiredSections {
		if types[req] {
			found++
		} else {
			missing = append(missing, req)
		}
	}
	a.Completeness = float64(found) / float64(len(requiredSections))

	for _, d := range domainKeywords {
		for _, kw := range d.keywords {
			if strings.Contains(body, kw) {
				a.Domains = append(a.Domains, d.domain)
				break
			}
		}
	}

	switch {
	case strings.Contains(body, "外观"):
		a.TemplateType = "外观设计模板"
	case strings.Contains(body, "发明") || strings.Contains(body, "实用新型"):
		a.TemplateType = "发明专利模板"
	default:
		a.TemplateType = "通用专利模板"
	}

	if a.Completeness < 0.8 && len(missing) > 0 {
		a.Suggestions = append(a.Suggestions, "建议添加缺失的标准章节: "+strings.Join(missing, "、"))
	}
	if len(a.Placeholders) == 0 {
		a.Suggestions = append(a.Suggestions, "建议添加占位符以便更好地指导内容生成")
	}
	if len(a.Domains) == 0 {
		a.Suggestions = append(a.Suggestions, "建议在模板中明确适用的技术领域")
	}
	if a.MaxHeadingLevel > 4 {
		a.Suggestions = append(a.Suggestions, "标题层级过深，建议简化结构以提高可读性")
	}
}

func ratio(n, max int) float64 {
	r := float64(n) / float64(max)
	if r > 1 {
		return 1
	}
	return r
}

// Guidance turns the template analysis into prompt additions for role.
func (r *Registry) Guidance(id string, role prompts.Role) (string, error) {
	a, err := r.Analyze(id)
	if err != nil {
		return "", err
	}
	return a.guidance(role), nil
}

func (a Analysis) guidance(role prompts.Role) string {
	var titles []string
	for _, s := range a.Sections {
		if s.Type != otherSection && s.Type != "标题" {
			titles = append(titles, s.Type)
		}
	}
	titles = dedupe(titles)
	if len(titles) == 0 && len(a.Domains) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("【模板格式要求】\n")
	name := a.Title
	if name == "" {
		name = a.TemplateID
	}
	fmt.Fprintf(&b, "最终文档将套用模板「%s」（%s）。", name, a.TemplateType)
	if len(titles) > 0 {
		if role == prompts.RoleReviewer {
			b.WriteString("请检查草案是否包含模板要求的以下章节，缺失或标题不一致的请列入问题清单：\n")
		} else {
			b.WriteString("请确保输出按以下章节组织，并使用与之一致的 Markdown 标题：\n")
		}
		for _, t := range titles {
			b.WriteString("- " + t + "\n")
		}
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n【复杂度提示】\n")
	switch {
	case a.Complexity >= 0.6:
		fmt.Fprintf(&b, "模板结构复杂度较高（%.2f），各章节内容应充分展开，层级清晰，实施例需详尽。\n", a.Complexity)
	case a.Complexity < 0.3:
		fmt.Fprintf(&b, "模板结构较简单（%.2f），请保持内容精炼，避免冗余章节。\n", a.Complexity)
	default:
		fmt.Fprintf(&b, "模板结构复杂度适中（%.2f），按标准专利文档详略组织内容。\n", a.Complexity)
	}

	if len(a.Domains) > 0 {
		b.WriteString("\n【领域提示】\n")
		fmt.Fprintf(&b, "该模板适用于：%s。请使用该领域的规范术语。\n", strings.Join(a.Domains, "、"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return sectionOrder(out[i]) < sectionOrder(out[j]) })
	return out
}

func sectionOrder(kind string) int {
	for i, p := range sectionPatterns {
		if p.kind == kind {
			return i
		}
	}
	return len(sectionPatterns)
}
