package directive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/A-new/ironbee/pkg/rule/engine"
)

// Loader directives in addition to Rule and RuleExt.
const (
	DirectiveInclude = "Include"
	siteOpen         = "<Site"
	siteClose        = "</Site>"
)

// maxIncludeDepth bounds nested Include directives.
const maxIncludeDepth = 16

// LoadFile reads a rules file. Relative Include patterns and script paths
// resolve against the directory of the including file.
func (p *Parser) LoadFile(path string) error {
	return p.loadFile(path, 0)
}

func (p *Parser) loadFile(path string, depth int) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve rules file %s: %w", path, err)
	}
	if depth > maxIncludeDepth {
		return fmt.Errorf("%w: include depth exceeds %d at %s", engine.ErrConfigSyntax, maxIncludeDepth, path)
	}
	if p.included[abs] {
		return fmt.Errorf("%w: include cycle at %s", engine.ErrConfigSyntax, path)
	}
	p.included[abs] = true
	defer delete(p.included, abs)

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	prevDir := p.baseDir
	p.baseDir = filepath.Dir(abs)
	defer func() { p.baseDir = prevDir }()

	return p.load(f, path, depth)
}

// Load reads directives from r. name is used in error positions.
func (p *Parser) Load(r io.Reader, name string) error {
	return p.load(r, name, 0)
}

func (p *Parser) load(r io.Reader, name string, depth int) error {
	lines, err := readLogicalLines(r)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	prevSource := p.source
	defer func() { p.source = prevSource }()

	outerContext := p.context
	inSite := false
	var errs []error

	for _, ln := range lines {
		p.source = fmt.Sprintf("%s:%d", name, ln.number)

		tokens, err := tokenize(ln.text)
		if err != nil {
			err = &DirectiveError{Directive: "tokenize", Source: p.source, Err: err}
			if !p.ContinueOnError {
				return err
			}
			errs = append(errs, err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}

		err = p.dispatch(tokens, depth, &inSite, outerContext)
		if err != nil {
			if !p.ContinueOnError {
				return err
			}
			errs = append(errs, err)
		}
	}

	if inSite {
		err := &DirectiveError{Directive: siteOpen + ">", Source: p.source,
			Err: fmt.Errorf("%w: unterminated site block", engine.ErrConfigSyntax)}
		p.context = outerContext
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Parser) dispatch(tokens []string, depth int, inSite *bool, outerContext string) error {
	head := tokens[0]

	switch {
	case strings.EqualFold(head, siteClose):
		if !*inSite {
			return &DirectiveError{Directive: siteClose, Source: p.source,
				Err: fmt.Errorf("%w: no open site block", engine.ErrConfigSyntax)}
		}
		*inSite = false
		p.context = outerContext
		return nil

	case strings.EqualFold(head, siteOpen) || strings.HasPrefix(strings.ToLower(head), "<site"):
		name, err := siteName(tokens)
		if err == nil && *inSite {
			err = fmt.Errorf("%w: nested site block", engine.ErrConfigSyntax)
		}
		if err == nil {
			err = p.SetContext(name)
		}
		if err != nil {
			return &DirectiveError{Directive: siteOpen + ">", Source: p.source, Err: err}
		}
		*inSite = true
		return nil

	case strings.EqualFold(head, DirectiveInclude):
		if len(tokens) != 2 {
			return &DirectiveError{Directive: DirectiveInclude, Source: p.source,
				Err: fmt.Errorf("%w: include takes one path", engine.ErrConfigSyntax)}
		}
		return p.include(tokens[1], depth)

	default:
		return p.Apply(head, tokens[1:])
	}
}

func (p *Parser) include(pattern string, depth int) error {
	if !filepath.IsAbs(pattern) && p.baseDir != "" {
		pattern = filepath.Join(p.baseDir, pattern)
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return &DirectiveError{Directive: DirectiveInclude, Token: pattern, Source: p.source,
			Err: fmt.Errorf("%w: %v", engine.ErrConfigSyntax, err)}
	}
	if len(matches) == 0 {
		return &DirectiveError{Directive: DirectiveInclude, Token: pattern, Source: p.source,
			Err: fmt.Errorf("%w: no files match", engine.ErrConfigSyntax)}
	}

	var errs []error
	for _, m := range matches {
		if err := p.loadFile(m, depth+1); err != nil {
			if !p.ContinueOnError {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// siteName extracts the name from "<Site name>" tokens.
func siteName(tokens []string) (string, error) {
	joined := strings.Join(tokens, " ")
	if !strings.HasSuffix(joined, ">") {
		return "", fmt.Errorf("%w: malformed site block %q", engine.ErrConfigSyntax, joined)
	}
	inner := strings.TrimSpace(strings.TrimSuffix(joined, ">"))
	inner = strings.TrimSpace(inner[len(siteOpen):])
	if inner == "" || strings.ContainsAny(inner, " \t") {
		return "", fmt.Errorf("%w: site block needs one name", engine.ErrConfigSyntax)
	}
	return inner, nil
}

type logicalLine struct {
	number int
	text   string
}

// readLogicalLines joins backslash-continued lines and drops comments and
// blank lines. number is the first physical line of each logical line.
func readLogicalLines(r io.Reader) ([]logicalLine, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		out   []logicalLine
		buf   strings.Builder
		start int
		n     int
	)
	for scanner.Scan() {
		n++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if buf.Len() == 0 {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			start = n
		}
		if strings.HasSuffix(line, `\`) {
			buf.WriteString(strings.TrimSuffix(line, `\`))
			buf.WriteByte(' ')
			continue
		}
		buf.WriteString(line)
		out = append(out, logicalLine{number: start, text: buf.String()})
		buf.Reset()
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if buf.Len() > 0 {
		out = append(out, logicalLine{number: start, text: buf.String()})
	}
	return out, nil
}

// tokenize splits a logical line on whitespace. Double-quoted tokens may
// contain whitespace; \" and \\ are escapes inside quotes. The quotes
// themselves are removed.
func tokenize(line string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		have    bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuote && c == '\\' && i+1 < len(line) && (line[i+1] == '"' || line[i+1] == '\\'):
			cur.WriteByte(line[i+1])
			i++
		case c == '"':
			inQuote = !inQuote
			have = true
		case !inQuote && (c == ' ' || c == '\t'):
			if have {
				tokens = append(tokens, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteByte(c)
			have = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("%w: unterminated quote", engine.ErrConfigSyntax)
	}
	if have {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
