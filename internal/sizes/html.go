package sizes

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNoSizeTable is returned when markup holds neither a tab list nor a grid.
var ErrNoSizeTable = errors.New("no size table in markup")

// ParseHTML builds a Table from a scraped size sheet. Two layouts are
// understood: a tab list (role=tab buttons paired with role=tabpanel lists)
// and a grid whose header row names the tabs.
func ParseHTML(r io.Reader) (Table, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse size sheet: %w", err)
	}
	if t := parseTablist(doc); len(t) > 0 {
		return t, nil
	}
	if t := parseGrid(doc); len(t) > 0 {
		return t, nil
	}
	return nil, ErrNoSizeTable
}

type tabNode struct {
	name     string
	id       string
	controls string
}

type panelNode struct {
	id         string
	labelledBy string
	labels     []string
}

func parseTablist(doc *html.Node) Table {
	var tabs []tabNode
	var panels []panelNode
	walk(doc, func(n *html.Node) bool {
		switch attr(n, "role") {
		case "tab":
			if name := text(n); name != "" {
				tabs = append(tabs, tabNode{name: name, id: attr(n, "id"), controls: attr(n, "aria-controls")})
			}
			return false
		case "tabpanel":
			panels = append(panels, panelNode{
				id:         attr(n, "id"),
				labelledBy: attr(n, "aria-labelledby"),
				labels:     leafLabels(n),
			})
			return false
		}
		return true
	})
	if len(tabs) == 0 || len(panels) == 0 {
		return nil
	}

	out := Table{}
	for i, p := range panels {
		name := ""
		for _, t := range tabs {
			if (p.id != "" && t.controls == p.id) || (p.labelledBy != "" && t.id == p.labelledBy) {
				name = t.name
				break
			}
		}
		if name == "" && i < len(tabs) {
			name = tabs[i].name
		}
		if name == "" || len(p.labels) == 0 {
			continue
		}
		out[name] = append(out[name], p.labels...)
	}
	return out
}

// leafLabels collects the outermost size cells under n.
func leafLabels(n *html.Node) []string {
	var out []string
	walk(n, func(c *html.Node) bool {
		if c == n || c.Type != html.ElementNode {
			return true
		}
		_, hasSize := attrOK(c, "data-size")
		if hasSize || c.DataAtom == atom.Button || c.DataAtom == atom.Li || c.DataAtom == atom.Option {
			if s := text(c); s != "" {
				out = append(out, s)
			}
			return false
		}
		return true
	})
	return out
}

func parseGrid(doc *html.Node) Table {
	var table *html.Node
	walk(doc, func(n *html.Node) bool {
		if table != nil {
			return false
		}
		if n.DataAtom == atom.Table {
			table = n
			return false
		}
		return true
	})
	if table == nil {
		return nil
	}

	var rows [][]string
	walk(table, func(n *html.Node) bool {
		if n.DataAtom != atom.Tr {
			return true
		}
		var cells []string
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.DataAtom == atom.Th || c.DataAtom == atom.Td {
				cells = append(cells, text(c))
			}
		}
		rows = append(rows, cells)
		return false
	})
	if len(rows) < 2 {
		return nil
	}

	header := rows[0]
	out := Table{}
	for _, row := range rows[1:] {
		for j, cell := range row {
			if j >= len(header) || header[j] == "" || cell == "" {
				continue
			}
			out[header[j]] = append(out[header[j]], cell)
		}
	}
	return out
}

// walk visits n depth-first; visit returning false skips the children.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func text(n *html.Node) string {
	var parts []string
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			parts = append(parts, c.Data)
		}
		return c.DataAtom != atom.Script && c.DataAtom != atom.Style
	})
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func attrOK(n *html.Node, key string) (string, bool) {
	if n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val), true
		}
	}
	return "", false
}
