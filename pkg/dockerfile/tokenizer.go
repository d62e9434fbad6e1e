// Package dockerfile reads a Dockerfile back into a description. Text is
// tokenized in two passes, heredoc extraction then a composite pattern, and
// the instructions are replayed by an interpreter.
package dockerfile

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dofigen/dofigen/pkg/errdefs"
	"github.com/dofigen/dofigen/pkg/generator"
)

var (
	heredocOpener = regexp.MustCompile(`<<(-?)["']?([A-Za-z_][A-Za-z0-9_]*)["']?`)

	tokenPattern = regexp.MustCompile(
		`(?:[ \t]*#(?P<comment>[^\n]*)` +
			`|[ \t]*(?P<command>[A-Za-z]+)` +
			`(?P<options>(?:(?:[ \t]|\\\n)+--[A-Za-z][A-Za-z0-9-]*(?:=[^\s\\]*)?)*)` +
			`(?:(?:[ \t]|\\\n)+(?P<content>(?:[^\n\\]|\\[^\n]|\\\n)*))?[ \t]*` +
			`|[ \t]*)(?:\n|\z)`)

	optionPattern = regexp.MustCompile(`--([A-Za-z][A-Za-z0-9-]*)(=[^\s\\]*)?`)

	directivePattern = regexp.MustCompile(`^#[ \t]*([A-Za-z_]+)[ \t]*=[ \t]*(.*?)[ \t]*$`)
)

// heredoc is a here-document cut out of the text. body has the leading
// tabs of a <<- heredoc removed, raw holds the original body and terminator
// lines.
type heredoc struct {
	opener     string
	terminator string
	body       string
	raw        []string
}

// placeholder stands for the i-th heredoc in the tokenized text.
func placeholder(i int) string {
	return "\x00" + strconv.Itoa(i) + "\x00"
}

var placeholderPattern = regexp.MustCompile(`\x00([0-9]+)\x00`)

// token is a line of the Dockerfile with the line it starts at.
type token struct {
	line int
	generator.Line
}

// source is a tokenized Dockerfile.
type source struct {
	tokens   []token
	heredocs []heredoc
}

// expand puts the heredocs back into text. Openers stay on their line and
// the bodies follow that line in opener order, as the shell reads them.
func (s *source) expand(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		var bodies []string
		line = placeholderPattern.ReplaceAllStringFunc(line, func(p string) string {
			h := s.heredocs[placeholderIndex(p)]
			bodies = append(bodies, h.raw...)
			return h.opener
		})
		out = append(out, line)
		out = append(out, bodies...)
	}
	return strings.Join(out, "\n")
}

func placeholderIndex(p string) int {
	i, _ := strconv.Atoi(strings.Trim(p, "\x00"))
	return i
}

// leadingHeredoc reports whether text starts with a heredoc, which then
// holds the script of the instruction.
func leadingHeredoc(text string) bool {
	loc := placeholderPattern.FindStringIndex(strings.TrimSpace(text))
	return loc != nil && loc[0] == 0
}

// heredocBody returns the body when text is nothing but a heredoc.
func (s *source) heredocBody(text string) (string, bool) {
	m := placeholderPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil || m[0] != strings.TrimSpace(text) {
		return "", false
	}
	return s.heredocs[placeholderIndex(m[0])].body, true
}

// extractHeredocs replaces every heredoc with a placeholder. The returned
// line map gives the original line number of each remaining line.
func extractHeredocs(text string) (string, []heredoc, []int, error) {
	lines := strings.Split(text, "\n")
	var (
		out      []string
		lineMap  []int
		heredocs []heredoc
	)

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		lineNo := i + 1
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			out = append(out, line)
			lineMap = append(lineMap, lineNo)
			continue
		}

		openers := heredocOpener.FindAllStringSubmatchIndex(line, -1)
		if len(openers) == 0 {
			out = append(out, line)
			lineMap = append(lineMap, lineNo)
			continue
		}

		var sb strings.Builder
		last := 0
		for _, m := range openers {
			strip := m[3] > m[2]
			terminator := line[m[4]:m[5]]

			var body, raw []string
			found := false
			for i+1 < len(lines) {
				i++
				l := lines[i]
				raw = append(raw, l)
				if strip {
					l = strings.TrimLeft(l, "\t")
				}
				if l == terminator {
					found = true
					break
				}
				body = append(body, l)
			}
			if !found {
				return "", nil, nil, errdefs.Unsupported(lineNo, "unterminated heredoc %q", terminator)
			}

			sb.WriteString(line[last:m[0]])
			sb.WriteString(placeholder(len(heredocs)))
			heredocs = append(heredocs, heredoc{
				opener:     line[m[0]:m[1]],
				terminator: terminator,
				body:       strings.Join(body, "\n"),
				raw:        raw,
			})
			last = m[1]
		}
		sb.WriteString(line[last:])
		out = append(out, sb.String())
		lineMap = append(lineMap, lineNo)
	}
	return strings.Join(out, "\n"), heredocs, lineMap, nil
}

// tokenize splits a Dockerfile into comments, blank lines and instructions.
// Instruction commands are upper cased; options and content are kept raw.
func tokenize(text string) (*source, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if err := checkDirectives(text); err != nil {
		return nil, err
	}
	stripped, heredocs, lineMap, err := extractHeredocs(text)
	if err != nil {
		return nil, err
	}

	src := &source{heredocs: heredocs}
	lineOf := func(offset int) int {
		n := strings.Count(stripped[:offset], "\n")
		if n < len(lineMap) {
			return lineMap[n]
		}
		return n + 1
	}

	names := tokenPattern.SubexpNames()
	group := func(m []int, name string) (string, bool) {
		for i, n := range names {
			if n == name && m[2*i] >= 0 {
				return stripped[m[2*i]:m[2*i+1]], true
			}
		}
		return "", false
	}

	pos := 0
	for _, m := range tokenPattern.FindAllStringSubmatchIndex(stripped, -1) {
		if m[0] == m[1] && m[0] >= len(stripped) {
			break
		}
		if m[0] != pos {
			return nil, errdefs.Unsupported(lineOf(pos), "unexpected text %q", firstLine(stripped[pos:]))
		}
		pos = m[1]
		line := lineOf(m[0])

		if c, ok := group(m, "comment"); ok {
			src.tokens = append(src.tokens, token{line: line, Line: generator.Comment(strings.TrimPrefix(c, " "))})
			continue
		}
		command, ok := group(m, "command")
		if !ok {
			src.tokens = append(src.tokens, token{line: line, Line: generator.Empty{}})
			continue
		}

		options, _ := group(m, "options")
		content, _ := group(m, "content")
		src.tokens = append(src.tokens, token{line: line, Line: generator.Instruction{
			Command: strings.ToUpper(command),
			Options: parseOptions(options),
			Content: strings.TrimRight(content, " \t"),
		}})
	}
	if pos < len(stripped) {
		return nil, errdefs.Unsupported(lineOf(pos), "unexpected text %q", firstLine(stripped[pos:]))
	}
	return src, nil
}

// checkDirectives reads the parser directives heading the file. Only the
// default backslash escape character is supported.
func checkDirectives(text string) error {
	for i, line := range strings.Split(text, "\n") {
		m := directivePattern.FindStringSubmatch(line)
		if m == nil {
			return nil
		}
		if strings.EqualFold(m[1], "escape") && m[2] != `\` {
			return errdefs.Unsupported(i+1, "escape character %q is not supported", m[2])
		}
	}
	return nil
}

func parseOptions(s string) []generator.Option {
	var opts []generator.Option
	for _, m := range optionPattern.FindAllStringSubmatch(s, -1) {
		if m[2] == "" {
			opts = append(opts, generator.Flag(m[1]))
			continue
		}
		opts = append(opts, generator.KV(m[1], m[2][1:]))
	}
	return opts
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
