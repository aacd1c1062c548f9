// Package newick extracts leaf labels from Newick trees so tree outputs can be
// checked against the sequences they were built from.
package newick

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Leaves returns the tip labels of the single tree in s, in file order.
// Internal node labels (support values) and branch lengths are ignored.
func Leaves(s string) ([]string, error) {
	p := &parser{src: s}
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p.leaves, nil
}

// ReadLeaves reads a tree from r and returns its tip labels.
func ReadLeaves(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}
	return Leaves(string(data))
}

// ReadLeavesFile reads the tree at path and returns its tip labels.
func ReadLeavesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tree: %w", err)
	}
	defer f.Close()
	return ReadLeaves(f)
}

type parser struct {
	src    string
	pos    int
	depth  int
	leaves []string
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("newick offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) parse() error {
	// afterClose is true when the next label belongs to an internal node.
	afterClose := false
	sawTerminator := false

	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if sawTerminator {
			if !isSpace(c) {
				return p.errorf("unexpected %q after ';'", c)
			}
			p.pos++
			continue
		}
		switch {
		case isSpace(c):
			p.pos++
		case c == '[':
			if err := p.skipComment(); err != nil {
				return err
			}
		case c == '(':
			p.depth++
			afterClose = false
			p.pos++
		case c == ',':
			if p.depth == 0 {
				return p.errorf("',' outside parentheses")
			}
			afterClose = false
			p.pos++
		case c == ')':
			if p.depth == 0 {
				return p.errorf("unbalanced ')'")
			}
			p.depth--
			afterClose = true
			p.pos++
		case c == ':':
			p.pos++
			p.skipLength()
		case c == ';':
			if p.depth != 0 {
				return p.errorf("unbalanced '(' before ';'")
			}
			sawTerminator = true
			p.pos++
		default:
			label, err := p.readLabel()
			if err != nil {
				return err
			}
			if !afterClose {
				p.leaves = append(p.leaves, label)
			}
			afterClose = false
		}
	}

	if !sawTerminator {
		return p.errorf("missing terminating ';'")
	}
	if len(p.leaves) == 0 {
		return fmt.Errorf("newick tree has no leaves")
	}
	return nil
}

func (p *parser) skipComment() error {
	end := strings.IndexByte(p.src[p.pos:], ']')
	if end < 0 {
		return p.errorf("unterminated comment")
	}
	p.pos += end + 1
	return nil
}

func (p *parser) skipLength() {
	for p.pos < len(p.src) && !strings.ContainsRune("(),;[", rune(p.src[p.pos])) && !isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *parser) readLabel() (string, error) {
	if p.src[p.pos] == '\'' {
		var b strings.Builder
		p.pos++
		for p.pos < len(p.src) {
			c := p.src[p.pos]
			if c == '\'' {
				// '' is an escaped quote inside a quoted label.
				if p.pos+1 < len(p.src) && p.src[p.pos+1] == '\'' {
					b.WriteByte('\'')
					p.pos += 2
					continue
				}
				p.pos++
				return b.String(), nil
			}
			b.WriteByte(c)
			p.pos++
		}
		return "", p.errorf("unterminated quoted label")
	}

	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("(),:;[", rune(p.src[p.pos])) && !isSpace(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos], nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
