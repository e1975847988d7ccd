package main

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// hookScript is a SQL file run against the destination after a table copy.
// A drop-and-rename swap loses grants on the old table; hooks are the place
// to restore them.
type hookScript struct {
	Name string
	SQL  string
}

// loadHookScripts reads the configured after_copy files up front so a
// missing file fails before any table is touched.
func loadHookScripts(cfg *CopyConfig) ([]hookScript, error) {
	scripts := make([]hookScript, 0, len(cfg.Hooks.AfterCopy))
	for _, f := range cfg.Hooks.AfterCopy {
		data, err := os.ReadFile(cfg.resolvePath(f))
		if err != nil {
			return nil, fmt.Errorf("hook after_copy: read %s: %w", f, err)
		}
		scripts = append(scripts, hookScript{Name: f, SQL: string(data)})
	}
	return scripts, nil
}

// expandHookPlaceholders substitutes {{schema}}, {{table}} and {{name}}
// with the quoted destination identifiers.
func expandHookPlaceholders(sql string, dst QualifiedName) string {
	return strings.NewReplacer(
		"{{schema}}", pgIdent(dst.Schema),
		"{{table}}", pgIdent(dst.Table),
		"{{name}}", dst.Sanitized(),
	).Replace(sql)
}

func (t *Transport) runAfterCopyHooks(ctx context.Context, dst QualifiedName) error {
	for _, h := range t.afterCopy {
		stmts := splitStatements(expandHookPlaceholders(h.SQL, dst))
		t.log.Infof("running after_copy hook %s on %s (%d statements)", h.Name, dst, len(stmts))
		for i, stmt := range stmts {
			if err := t.dst.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("hook after_copy: %s: statement %d: %w", h.Name, i+1, err)
			}
		}
	}
	return nil
}

// splitStatements splits SQL text on top-level semicolons. Semicolons
// inside quoted strings, quoted identifiers, comments and dollar-quoted
// bodies do not split. Empty statements are dropped.
func splitStatements(sql string) []string {
	s := &sqlSplitter{src: sql}
	for s.pos < len(s.src) {
		s.step()
	}
	s.flush()
	return s.stmts
}

type sqlSplitter struct {
	src   string
	pos   int
	start int
	stmts []string
}

func (s *sqlSplitter) flush() {
	if stmt := strings.TrimSpace(s.src[s.start:s.pos]); stmt != "" {
		s.stmts = append(s.stmts, stmt)
	}
}

func (s *sqlSplitter) step() {
	rest := s.src[s.pos:]
	switch {
	case strings.HasPrefix(rest, "--"):
		s.skipLineComment()
	case strings.HasPrefix(rest, "/*"):
		s.skipBlockComment()
	case rest[0] == '\'' || rest[0] == '"':
		s.skipQuoted(rest[0])
	case rest[0] == '$':
		if tag, ok := parseDollarTag(rest); ok {
			s.skipDollarQuoted(tag)
			return
		}
		s.pos++
	case rest[0] == ';':
		s.flush()
		s.pos++
		s.start = s.pos
	default:
		s.pos++
	}
}

func (s *sqlSplitter) skipLineComment() {
	if i := strings.IndexByte(s.src[s.pos:], '\n'); i >= 0 {
		s.pos += i + 1
		return
	}
	s.pos = len(s.src)
}

// skipBlockComment handles nested /* */ comments.
func (s *sqlSplitter) skipBlockComment() {
	depth := 0
	for s.pos < len(s.src) {
		rest := s.src[s.pos:]
		switch {
		case strings.HasPrefix(rest, "/*"):
			depth++
			s.pos += 2
		case strings.HasPrefix(rest, "*/"):
			depth--
			s.pos += 2
			if depth == 0 {
				return
			}
		default:
			s.pos++
		}
	}
}

// skipQuoted consumes a literal or identifier; a doubled quote is an escape.
func (s *sqlSplitter) skipQuoted(q byte) {
	s.pos++
	for s.pos < len(s.src) {
		if s.src[s.pos] != q {
			s.pos++
			continue
		}
		if s.pos+1 < len(s.src) && s.src[s.pos+1] == q {
			s.pos += 2
			continue
		}
		s.pos++
		return
	}
}

func (s *sqlSplitter) skipDollarQuoted(tag string) {
	s.pos += len(tag)
	if i := strings.Index(s.src[s.pos:], tag); i >= 0 {
		s.pos += i + len(tag)
		return
	}
	s.pos = len(s.src)
}

// parseDollarTag recognizes $$ or $tag$ at the start of s.
func parseDollarTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	if s[1] == '$' {
		return "$$", true
	}
	if !isDollarTagStart(s[1]) {
		return "", false
	}
	j := 2
	for j < len(s) && isDollarTagChar(s[j]) {
		j++
	}
	if j < len(s) && s[j] == '$' {
		return s[:j+1], true
	}
	return "", false
}

func isDollarTagStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDollarTagChar(c byte) bool {
	return isDollarTagStart(c) || (c >= '0' && c <= '9')
}
