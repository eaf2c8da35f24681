package catalog

import (
	"errors"
	"io"
	"regexp"
	"strings"
	"time"

	"catalog-sync/internal/domain"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	priceNoise = regexp.MustCompile(`[^\d.,-]`)
	stockNoise = regexp.MustCompile(`[^\d-]`)
)

// ParseHTML reads the first table of an HTML export. The first row is the
// header. Price cells like "12,50 €" become "12.50" and empty stock becomes 0.
func ParseHTML(r io.Reader, layout Layout, id string, capturedAt time.Time) (*domain.Snapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, &StructuralError{Source: "html", Err: err}
	}

	table := findFirst(doc, atom.Table)
	if table == nil {
		return nil, &StructuralError{Source: "html", Err: errors.New("no table found")}
	}

	var rows [][]string
	walk(table, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.DataAtom != atom.Tr {
			return true
		}
		var cells []string
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
				cells = append(cells, strings.TrimSpace(textOf(c)))
			}
		}
		rows = append(rows, cells)
		return false
	})

	if len(rows) == 0 {
		return nil, &StructuralError{Source: "html", Err: errors.New("table has no rows")}
	}

	header := rows[0]
	priceIdx, stockIdx := indexOf(header, layout.PriceColumn), indexOf(header, layout.StockColumn)
	for _, row := range rows[1:] {
		if priceIdx >= 0 && priceIdx < len(row) {
			row[priceIdx] = cleanPrice(row[priceIdx])
		}
		if stockIdx >= 0 && stockIdx < len(row) {
			row[stockIdx] = stockNoise.ReplaceAllString(row[stockIdx], "")
		}
	}

	return build(header, rows[1:], nil, layout, id, capturedAt), nil
}

func cleanPrice(raw string) string {
	s := priceNoise.ReplaceAllString(raw, "")
	// "1.234,50" uses the dot as a thousands separator
	if strings.Contains(s, ",") && strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ".", "")
	}
	return strings.ReplaceAll(s, ",", ".")
}

func indexOf(header []string, column string) int {
	for i, h := range header {
		if strings.TrimSpace(h) == column {
			return i
		}
	}
	return -1
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(n, func(node *html.Node) bool {
		if found != nil {
			return false
		}
		if node.Type == html.ElementNode && node.DataAtom == a {
			found = node
			return false
		}
		return true
	})
	return found
}

// walk visits n depth first; returning false skips the node's children
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(node *html.Node) bool {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		return true
	})
	return sb.String()
}
