package extract

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockAtoms are elements that start a new markdown block.
var blockAtoms = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Body: true, atom.Dd: true, atom.Details: true, atom.Div: true, atom.Dl: true,
	atom.Dt: true, atom.Fieldset: true, atom.Figcaption: true, atom.Figure: true,
	atom.Footer: true, atom.Form: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Header: true, atom.Hr: true,
	atom.Li: true, atom.Main: true, atom.Nav: true, atom.Ol: true, atom.P: true,
	atom.Pre: true, atom.Section: true, atom.Table: true, atom.Tbody: true,
	atom.Thead: true, atom.Tfoot: true, atom.Tr: true, atom.Ul: true,
}

// renderMarkdown converts a cleaned selection into markdown blocks separated
// by blank lines. Headings, lists, block quotes and preformatted text keep
// their structure; everything else is flattened to paragraphs.
func renderMarkdown(sel *goquery.Selection) string {
	var blocks []string
	for _, n := range sel.Nodes {
		blocks = appendBlocks(blocks, n)
	}
	return strings.Join(blocks, "\n\n")
}

func appendBlocks(blocks []string, n *html.Node) []string {
	if n.Type == html.TextNode {
		if text := collapse(n.Data); text != "" {
			blocks = append(blocks, text)
		}
		return blocks
	}
	if n.Type != html.ElementNode && n.Type != html.DocumentNode {
		return blocks
	}

	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		if text := inlineText(n); text != "" {
			level := int(n.Data[1] - '0')
			blocks = append(blocks, strings.Repeat("#", level)+" "+text)
		}
		return blocks
	case atom.Pre:
		if text := strings.Trim(rawText(n), "\n"); strings.TrimSpace(text) != "" {
			blocks = append(blocks, "```\n"+text+"\n```")
		}
		return blocks
	case atom.Blockquote:
		if text := inlineText(n); text != "" {
			blocks = append(blocks, "> "+text)
		}
		return blocks
	case atom.Ul, atom.Ol:
		if list := renderList(n); list != "" {
			blocks = append(blocks, list)
		}
		return blocks
	case atom.Tr:
		var cells []string
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.DataAtom == atom.Td || c.DataAtom == atom.Th {
				cells = append(cells, inlineText(c))
			}
		}
		if row := strings.TrimSpace(strings.Join(cells, " | ")); row != "" && row != "|" {
			blocks = append(blocks, row)
		}
		return blocks
	case atom.Hr, atom.Br:
		return blocks
	}

	if n.Type == html.ElementNode && !blockAtoms[n.DataAtom] {
		if text := inlineText(n); text != "" {
			blocks = append(blocks, text)
		}
		return blocks
	}

	// Container: group runs of inline children into paragraphs.
	var run strings.Builder
	flush := func() {
		if text := collapse(run.String()); text != "" {
			blocks = append(blocks, text)
		}
		run.Reset()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.TextNode && c.Type != html.ElementNode {
			continue
		}
		if c.Type == html.TextNode || !blockAtoms[c.DataAtom] {
			if c.DataAtom == atom.Br {
				run.WriteByte(' ')
				continue
			}
			run.WriteString(rawText(c))
			continue
		}
		flush()
		blocks = appendBlocks(blocks, c)
	}
	flush()
	return blocks
}

func renderList(n *html.Node) string {
	var lines []string
	ordered := n.DataAtom == atom.Ol
	i := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.DataAtom != atom.Li {
			continue
		}
		text := inlineText(c)
		if text == "" {
			continue
		}
		i++
		marker := "-"
		if ordered {
			marker = strconv.Itoa(i) + "."
		}
		lines = append(lines, marker+" "+text)
	}
	return strings.Join(lines, "\n")
}

func inlineText(n *html.Node) string {
	return collapse(rawText(n))
}

// rawText concatenates the text below root, separating nested block elements
// with a space.
func rawText(root *html.Node) string {
	if root.Type == html.TextNode {
		return root.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		if n.DataAtom == atom.Br {
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n != root && n.Type == html.ElementNode && blockAtoms[n.DataAtom] {
			b.WriteByte(' ')
		}
	}
	walk(root)
	return b.String()
}

// collapse folds all whitespace runs into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
