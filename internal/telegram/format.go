package telegram

import (
	"bytes"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// htmlRenderer turns the markdown used by command replies into the HTML
// subset Telegram accepts. Tables become <pre> blocks.
type htmlRenderer struct{}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.Table),
		goldmark.WithRenderer(renderer.NewRenderer(
			renderer.WithNodeRenderers(util.Prioritized(&htmlRenderer{}, 100)),
		)),
	)
}

func (r *htmlRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindDocument, r.pass)
	reg.Register(ast.KindParagraph, r.paragraph)
	reg.Register(ast.KindHeading, r.heading)
	reg.Register(ast.KindList, r.list)
	reg.Register(ast.KindListItem, r.listItem)
	reg.Register(ast.KindText, r.text)
	reg.Register(ast.KindString, r.str)
	reg.Register(ast.KindEmphasis, r.emphasis)
	reg.Register(ast.KindCodeSpan, r.codeSpan)
	reg.Register(ast.KindLink, r.link)
	reg.Register(ast.KindAutoLink, r.autoLink)
	reg.Register(ast.KindRawHTML, r.skip)
	reg.Register(east.KindTable, r.table)
	reg.Register(east.KindTableHeader, r.pass)
	reg.Register(east.KindTableRow, r.pass)
	reg.Register(east.KindTableCell, r.pass)
}

func (r *htmlRenderer) pass(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) skip(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	return ast.WalkSkipChildren, nil
}

func (r *htmlRenderer) paragraph(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		w.WriteString("\n\n")
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) heading(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		w.WriteString("<b>")
	} else {
		w.WriteString("</b>\n\n")
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) list(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		w.WriteString("\n")
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) listItem(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		w.WriteString("• ")
	} else {
		w.WriteString("\n")
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) text(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		n := node.(*ast.Text)
		w.WriteString(escapeHTML(string(n.Segment.Value(source))))
		if n.SoftLineBreak() || n.HardLineBreak() {
			w.WriteString("\n")
		}
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) str(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		w.WriteString(escapeHTML(string(node.(*ast.String).Value)))
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) emphasis(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	tag := "i"
	if node.(*ast.Emphasis).Level == 2 {
		tag = "b"
	}
	if entering {
		w.WriteString("<" + tag + ">")
	} else {
		w.WriteString("</" + tag + ">")
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) codeSpan(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	w.WriteString("<code>")
	w.WriteString(escapeHTML(plainText(source, node)))
	w.WriteString("</code>")
	return ast.WalkSkipChildren, nil
}

func (r *htmlRenderer) link(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		w.WriteString(`<a href="` + escapeHTML(string(node.(*ast.Link).Destination)) + `">`)
	} else {
		w.WriteString("</a>")
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) autoLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	url := escapeHTML(string(node.(*ast.AutoLink).URL(source)))
	w.WriteString(`<a href="` + url + `">` + url + "</a>")
	return ast.WalkSkipChildren, nil
}

func (r *htmlRenderer) table(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	var rows [][]string
	var widths []int
	for row := node.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			text := strings.TrimSpace(plainText(source, cell))
			col := len(cells)
			if col >= len(widths) {
				widths = append(widths, 0)
			}
			if sw := runewidth.StringWidth(text); sw > widths[col] {
				widths[col] = sw
			}
			cells = append(cells, text)
		}
		rows = append(rows, cells)
	}

	w.WriteString("<pre>")
	for i, cells := range rows {
		for col, text := range cells {
			if col > 0 {
				w.WriteString("  ")
			}
			w.WriteString(escapeHTML(runewidth.FillRight(text, widths[col])))
		}
		w.WriteString("\n")
		if i == 0 {
			total := 0
			for _, wd := range widths {
				total += wd
			}
			w.WriteString(strings.Repeat("-", total+2*(len(widths)-1)) + "\n")
		}
	}
	w.WriteString("</pre>\n")
	return ast.WalkSkipChildren, nil
}

func plainText(source []byte, node ast.Node) string {
	var buf bytes.Buffer
	var walk func(n ast.Node)
	walk = func(n ast.Node) {
		switch t := n.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
		case *ast.String:
			buf.Write(t.Value)
		default:
			for c := n.FirstChild(); c != nil; c = c.NextSibling() {
				walk(c)
			}
		}
	}
	walk(node)
	return buf.String()
}

func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	text = strings.ReplaceAll(text, `"`, "&quot;")
	return text
}

// FormatMessage converts markdown to Telegram HTML, returning the input
// unchanged if conversion fails.
func FormatMessage(markdown string) string {
	if markdown == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := newMarkdown().Convert([]byte(markdown), &buf); err != nil {
		return markdown
	}
	result := strings.TrimSpace(buf.String())
	if result == "" {
		return markdown
	}
	return result
}
