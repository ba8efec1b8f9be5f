package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/net/html"
)

// creationDate is stamped into every builtin PDF so identical HTML yields
// identical bytes.
var creationDate = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "param": true,
	"source": true, "track": true, "wbr": true,
}

// Elements whose end tag may be left out.
var optionalEnd = map[string]bool{
	"p": true, "li": true, "td": true, "th": true, "tr": true, "thead": true,
	"tbody": true, "tfoot": true, "option": true, "dt": true, "dd": true,
	"html": true, "head": true, "body": true, "colgroup": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true, "table": true, "ul": true,
	"ol": true, "section": true, "header": true, "footer": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"br": true, "hr": true, "blockquote": true, "address": true,
}

var hiddenElements = map[string]bool{"head": true, "style": true, "script": true, "title": true}

var headingSizes = map[string]float64{"h1": 20, "h2": 16, "h3": 14, "h4": 12, "h5": 11, "h6": 11}

type block struct {
	text   string
	size   float64
	bold   bool
	bullet bool
	rule   bool
}

// Builtin lays out headings, paragraphs, list items and table rows with
// fpdf core fonts. It does not apply CSS.
type Builtin struct{}

// NewBuiltin returns the in-process renderer.
func NewBuiltin() *Builtin {
	return &Builtin{}
}

func (b *Builtin) CreateDocument(ctx context.Context, src, title string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocument, err)
	}

	blocks, err := parseBlocks(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocument, err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetCreator("notifyd", true)
	pdf.SetCreationDate(creationDate)
	pdf.SetCatalogSort(true)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, blk := range blocks {
		if blk.rule {
			x, y := pdf.GetXY()
			w, _ := pdf.GetPageSize()
			pdf.Line(x, y+1, w-15, y+1)
			pdf.Ln(3)
			continue
		}

		style := ""
		if blk.bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, blk.size)

		text := blk.text
		if blk.bullet {
			text = "- " + text
		}
		lineHeight := blk.size * 0.5
		pdf.MultiCell(0, lineHeight, tr(text), "", "L", false)
		pdf.Ln(lineHeight * 0.4)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDocument, err)
	}
	return buf.Bytes(), nil
}

// parseBlocks validates tag balance and flattens the document into text
// blocks in reading order.
func parseBlocks(src string) ([]block, error) {
	var (
		z       = html.NewTokenizer(strings.NewReader(src))
		stack   []string
		blocks  []block
		buf     strings.Builder
		hidden  int
		bold    int
		heading string
		inList  int
	)

	flush := func() {
		text := strings.Join(strings.Fields(buf.String()), " ")
		buf.Reset()
		if text == "" {
			return
		}
		blk := block{text: text, size: 10, bullet: inList > 0}
		if heading != "" {
			blk.size = headingSizes[heading]
			blk.bold = true
		} else if bold > 0 {
			blk.bold = true
		}
		blocks = append(blocks, blk)
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, fmt.Errorf("parse html: %w", err)
			}
			for i := len(stack) - 1; i >= 0; i-- {
				if !optionalEnd[stack[i]] {
					return nil, fmt.Errorf("unclosed <%s> element", stack[i])
				}
			}
			flush()
			return blocks, nil

		case html.TextToken:
			if hidden == 0 {
				buf.Write(z.Text())
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			name := tok.Data
			if blockElements[name] {
				flush()
			}
			if name == "hr" {
				blocks = append(blocks, block{rule: true})
			}
			if (name == "td" || name == "th") && strings.TrimSpace(buf.String()) != "" {
				buf.WriteString(" | ")
			}
			if tt == html.SelfClosingTagToken || voidElements[name] {
				continue
			}

			stack = append(stack, name)
			switch {
			case hiddenElements[name]:
				hidden++
			case headingSizes[name] > 0:
				heading = name
			case name == "b" || name == "strong" || name == "th":
				bold++
			case name == "li":
				inList++
			}

		case html.EndTagToken:
			tok := z.Token()
			name := tok.Data
			if voidElements[name] {
				continue
			}
			if blockElements[name] {
				flush()
			}

			for len(stack) > 0 && stack[len(stack)-1] != name && optionalEnd[stack[len(stack)-1]] {
				closeElement(stack[len(stack)-1], &hidden, &bold, &inList, &heading)
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 || stack[len(stack)-1] != name {
				return nil, fmt.Errorf("unexpected </%s> end tag", name)
			}
			closeElement(name, &hidden, &bold, &inList, &heading)
			stack = stack[:len(stack)-1]
		}
	}
}

func closeElement(name string, hidden, bold, inList *int, heading *string) {
	switch {
	case hiddenElements[name]:
		*hidden--
	case headingSizes[name] > 0:
		*heading = ""
	case name == "b" || name == "strong" || name == "th":
		*bold--
	case name == "li":
		*inList--
	}
}
