package compiler

import (
	"bytes"
	"os"

	"go.trai.ch/zerr"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// renderTemplate parses the HTML template at path and injects a stylesheet link
// into <head> and a script tag into <body> for every emitted bundle.
func renderTemplate(path string, scripts, styles []string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to open html template"), "path", path)
	}
	defer func() { _ = f.Close() }()

	doc, err := html.Parse(f)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to parse html template"), "path", path)
	}

	return injectAssets(doc, scripts, styles)
}

func injectAssets(doc *html.Node, scripts, styles []string) ([]byte, error) {
	// html.Parse always synthesizes <head> and <body>.
	head := findElement(doc, atom.Head)
	body := findElement(doc, atom.Body)

	for _, href := range styles {
		head.AppendChild(&html.Node{
			Type:     html.ElementNode,
			Data:     "link",
			DataAtom: atom.Link,
			Attr: []html.Attribute{
				{Key: "href", Val: href},
				{Key: "rel", Val: "stylesheet"},
			},
		})
	}
	for _, src := range scripts {
		body.AppendChild(&html.Node{
			Type:     html.ElementNode,
			Data:     "script",
			DataAtom: atom.Script,
			Attr: []html.Attribute{
				{Key: "type", Val: "text/javascript"},
				{Key: "src", Val: src},
			},
		})
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, zerr.Wrap(err, "failed to render html")
	}
	return buf.Bytes(), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
