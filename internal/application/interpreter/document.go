package interpreter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/smilemakc/conductor/internal/domain"
)

// Element is one node of a rule document: a tag, its attributes, and ordered
// mixed content (text runs interleaved with child elements).
type Element struct {
	Tag   string
	Attrs map[string]string
	Parts []Part

	// seq is unique within one document and serves as the fallback rule id
	// when a rule element carries no explicit id attribute.
	seq int
}

// Part is one unit of element content: either a text run or a child element.
type Part struct {
	Text string
	El   *Element
}

// Attr returns the named attribute or "".
func (e *Element) Attr(name string) string {
	return e.Attrs[name]
}

// Children returns the child elements in document order.
func (e *Element) Children() []*Element {
	var children []*Element
	for _, part := range e.Parts {
		if part.El != nil {
			children = append(children, part.El)
		}
	}
	return children
}

// Find returns the first direct child with the given tag, or nil.
func (e *Element) Find(tag string) *Element {
	for _, part := range e.Parts {
		if part.El != nil && part.El.Tag == tag {
			return part.El
		}
	}
	return nil
}

// Document is one parsed rule document.
type Document struct {
	Name string
	Root *Element
}

// LoadDocument parses a rule document from an XML file.
func LoadDocument(path string) (*Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeNotFound,
			fmt.Sprintf("cannot open rule document %s", path), err)
	}
	defer file.Close()

	doc, err := xmlquery.Parse(file)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			fmt.Sprintf("cannot parse rule document %s", path), err)
	}

	var rootNode *xmlquery.Node
	for node := doc.FirstChild; node != nil; node = node.NextSibling {
		if node.Type == xmlquery.ElementNode {
			rootNode = node
			break
		}
	}
	if rootNode == nil {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			fmt.Sprintf("rule document %s has no root element", path), nil)
	}

	seq := 0
	root := convertElement(rootNode, &seq)
	return &Document{Name: filepath.Base(path), Root: root}, nil
}

// ParseDocument parses a rule document from a string. Used by tests and
// tooling that generate documents on the fly.
func ParseDocument(name, source string) (*Document, error) {
	doc, err := xmlquery.Parse(strings.NewReader(source))
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			fmt.Sprintf("cannot parse rule document %s", name), err)
	}
	var rootNode *xmlquery.Node
	for node := doc.FirstChild; node != nil; node = node.NextSibling {
		if node.Type == xmlquery.ElementNode {
			rootNode = node
			break
		}
	}
	if rootNode == nil {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			fmt.Sprintf("rule document %s has no root element", name), nil)
	}
	seq := 0
	return &Document{Name: name, Root: convertElement(rootNode, &seq)}, nil
}

func convertElement(node *xmlquery.Node, seq *int) *Element {
	*seq++
	element := &Element{
		Tag:   node.Data,
		Attrs: make(map[string]string, len(node.Attr)),
		seq:   *seq,
	}
	for _, attr := range node.Attr {
		element.Attrs[attr.Name.Local] = attr.Value
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		switch child.Type {
		case xmlquery.ElementNode:
			element.Parts = append(element.Parts, Part{El: convertElement(child, seq)})
		case xmlquery.TextNode, xmlquery.CharDataNode:
			element.Parts = append(element.Parts, Part{Text: child.Data})
		}
	}
	return element
}
