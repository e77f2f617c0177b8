package prompts

import (
	"fmt"
	"strings"
)

const mermaidExample = "```mermaid\ngraph TD\n  A[模块A] --> B[模块B]\n```"

func fallbackPrompt(req Request) string {
	switch req.Role {
	case RoleModifier:
		return modifierFallback(req)
	case RoleReviewer:
		return reviewerFallback(req)
	default:
		return writerFallback(req)
	}
}

func writerRequirements(b *strings.Builder) {
	b.WriteString("整体要求：\n")
	b.WriteString("- 使用 Markdown 编写完整专利文档；\n")
	b.WriteString("- 章节包括但不限于：标题、技术领域、背景技术、发明内容、附图说明、具体实施方式、权利要求书、摘要；\n")
	b.WriteString("- 所有图示必须使用 mermaid 语法的代码块，例如：\n")
	b.WriteString(mermaidExample + "\n")
	b.WriteString("- 语言应客观、严谨，避免营销化和口语化表述；\n")
	b.WriteString("- 权利要求书要有独立权利要求和若干从属权利要求，并尽量覆盖主要创新点。\n\n")
}

func writerFallback(req Request) string {
	var b strings.Builder
	b.WriteString("你现在扮演一名资深的中国发明专利撰写专家。\n")
	b.WriteString("目标：基于给定的技术背景和创新点，撰写一份结构完整、符合中国专利法和实务规范的发明专利草案。\n\n")
	writerRequirements(&b)
	fmt.Fprintf(&b, "这是第 %d/%d 轮写作。你需要基于下面的技术背景/创新点，给出首版完整专利草案：\n\n", req.Round, req.TotalRounds)
	b.WriteString("【技术背景与创新点上下文】\n")
	b.WriteString(req.Context)
	b.WriteString("\n\n请直接输出完整、可独立阅读的 Markdown 专利文档，不要额外附加解释说明。")
	return b.String()
}

func modifierFallback(req Request) string {
	var b strings.Builder
	b.WriteString("你现在扮演一名资深的中国发明专利撰写专家，负责根据评审意见修订专利草案。\n")
	b.WriteString("目标：在上一版草案基础上，逐条落实评审意见，对文档进行整体修订和增强。\n\n")
	writerRequirements(&b)
	fmt.Fprintf(&b, "这是第 %d/%d 轮写作。\n\n", req.Round, req.TotalRounds)
	b.WriteString("【技术背景与创新点上下文】\n")
	b.WriteString(req.Context)
	b.WriteString("\n\n【上一版专利草案】\n")
	b.WriteString(req.PriorDraft)
	b.WriteString("\n\n【合规评审与问题清单】\n")
	b.WriteString(req.PriorReview)
	b.WriteString("\n\n请直接输出修订后完整、可独立阅读的 Markdown 专利文档，不要额外附加解释说明。")
	return b.String()
}

func reviewerFallback(req Request) string {
	var b strings.Builder
	b.WriteString("你现在扮演一名资深专利代理人 / 合规审查专家。\n")
	b.WriteString("任务：对下面的专利草案进行严格审查，找出所有可能的合规风险、缺陷和可改进之处，并给出条理清晰的修改建议。\n\n")
	b.WriteString("审查重点包括但不限于：\n")
	b.WriteString("- 是否充分体现并保护核心创新点；\n")
	b.WriteString("- 权利要求书是否具备新颖性、创造性和实用性，是否存在过窄或过宽的问题；\n")
	b.WriteString("- 是否存在模糊、主观或不清楚的表述；\n")
	b.WriteString("- 是否有与背景技术、实施例不一致的地方；\n")
	b.WriteString("- mermaid 图是否与文字描述一致，是否存在遗漏或不清晰的环节；\n")
	b.WriteString("- 是否有明显的专利法或实务上的违反之处。\n\n")
	fmt.Fprintf(&b, "这是第 %d/%d 轮审查。\n\n", req.Round, req.TotalRounds)
	b.WriteString("【技术背景与创新点上下文】\n")
	b.WriteString(req.Context)
	b.WriteString("\n\n【当前专利草案】\n")
	b.WriteString(req.CurrentDraft)
	b.WriteString("\n\n请以 Markdown 输出评审结果，包含以下部分：概览评语、问题清单（分条列出，每条包括问题描述和修改建议）、总体风险评估。")
	b.WriteString("不要重写专利全文，只给出评审和修改建议。")
	return b.String()
}
