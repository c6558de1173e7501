package dat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"go-rom-boxart/internal/platform"

	log "github.com/sirupsen/logrus"
)

// Parser turns the content of a DAT file into an Index. Implementations skip
// malformed records and let later records overwrite earlier ones that share a
// checksum. An error means the file as a whole could not be read.
type Parser interface {
	Parse(r io.Reader) (*Index, error)
}

// NewParser returns the parser registered under name ("clrmame" or "line").
func NewParser(name string) (Parser, error) {
	switch strings.ToLower(name) {
	case "", "clrmame":
		return ClrMameParser{}, nil
	case "line":
		return LineParser{}, nil
	default:
		return nil, fmt.Errorf("unknown DAT parser %q", name)
	}
}

func validSHA1(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// --- clrmamepro record syntax ---

// ClrMameParser reads the declarative clrmamepro format used by No-Intro:
//
//	game (
//		name "Title (USA)"
//		rom ( name "Title (USA).gba" size 4194304 crc 1234ABCD sha1 0123... )
//	)
//
// The canonical name is the game's name, or the rom's name without its
// extension when the game has none.
type ClrMameParser struct{}

var (
	errUnterminated = errors.New("unterminated record")
	// errResync means a broken record ran into the start of the next top-level
	// record. The tokens that start it are pushed back onto the lexer.
	errResync = errors.New("broken record runs into next record")
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokOpen
	tokClose
	tokString
	tokWord
	// tokMalformed is a quoted string cut off by the end of its line.
	tokMalformed
)

type token struct {
	kind tokenKind
	text string
}

type lexer struct {
	r       *bufio.Reader
	pending []token
}

func newLexer(r io.Reader) *lexer {
	return &lexer{r: bufio.NewReader(r)}
}

// unread pushes t back; tokens come out again in reverse push order.
func (l *lexer) unread(t token) {
	l.pending = append(l.pending, t)
}

func (l *lexer) next() (token, error) {
	if n := len(l.pending); n > 0 {
		t := l.pending[n-1]
		l.pending = l.pending[:n-1]
		return t, nil
	}
	for {
		c, _, err := l.r.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return token{kind: tokEOF}, nil
			}
			return token{}, err
		}
		switch {
		case c == '(':
			return token{kind: tokOpen}, nil
		case c == ')':
			return token{kind: tokClose}, nil
		case c == '"':
			return l.quoted()
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			continue
		default:
			return l.word(c)
		}
	}
}

func (l *lexer) quoted() (token, error) {
	var sb strings.Builder
	for {
		c, _, err := l.r.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return token{}, errUnterminated
			}
			return token{}, err
		}
		if c == '"' {
			return token{kind: tokString, text: sb.String()}, nil
		}
		if c == '\n' {
			// The closing quote is missing; the line is lost but lexing
			// carries on with the next one.
			return token{kind: tokMalformed, text: sb.String()}, nil
		}
		sb.WriteRune(c)
	}
}

func (l *lexer) word(first rune) (token, error) {
	var sb strings.Builder
	sb.WriteRune(first)
	for {
		c, _, err := l.r.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return token{kind: tokWord, text: sb.String()}, nil
			}
			return token{}, err
		}
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' || c == ')' || c == '"' {
			_ = l.r.UnreadRune()
			return token{kind: tokWord, text: sb.String()}, nil
		}
		sb.WriteRune(c)
	}
}

type record struct {
	fields   map[string]string
	children []child
	// broken is set on the top-level record when any line inside it was
	// malformed.
	broken bool
}

type child struct {
	key string
	rec *record
}

func isTopLevel(key string) bool {
	switch key {
	case "clrmamepro", "game", "machine", "resource":
		return true
	}
	return false
}

// readRecord consumes tokens up to and including the ')' that closes the
// record whose '(' was just read. Malformed lines mark top as broken. Once
// top is broken, a top-level keyword followed by '(' ends it with errResync
// because its closing parenthesis may have been swallowed.
func readRecord(l *lexer, top *record) (*record, error) {
	rec := &record{fields: make(map[string]string)}
	if top == nil {
		top = rec
	}
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		switch t.kind {
		case tokEOF:
			return nil, errUnterminated
		case tokClose:
			return rec, nil
		case tokMalformed:
			top.broken = true
		case tokOpen:
			// Anonymous nested record; read and drop it.
			if _, err := readRecord(l, top); err != nil {
				return nil, err
			}
		case tokString, tokWord:
			key := t.text
			v, err := l.next()
			if err != nil {
				return nil, err
			}
			if top.broken && t.kind == tokWord && isTopLevel(key) && v.kind == tokOpen {
				l.unread(v)
				l.unread(t)
				return nil, errResync
			}
			switch v.kind {
			case tokEOF:
				return nil, errUnterminated
			case tokMalformed:
				top.broken = true
			case tokOpen:
				sub, err := readRecord(l, top)
				if err != nil {
					return nil, err
				}
				rec.children = append(rec.children, child{key: key, rec: sub})
			case tokClose:
				return rec, nil
			default:
				if _, set := rec.fields[key]; !set {
					rec.fields[key] = v.text
				}
			}
		}
	}
}

// Parse implements Parser.
func (ClrMameParser) Parse(r io.Reader) (*Index, error) {
	l := newLexer(r)
	idx := NewIndex()
	skipped, broken := 0, 0
	for {
		t, err := l.next()
		if err != nil {
			if errors.Is(err, errUnterminated) {
				log.Debug("DAT ends inside a quoted string, ignoring the trailing record")
				break
			}
			return nil, fmt.Errorf("reading DAT: %w", err)
		}
		if t.kind == tokEOF {
			break
		}
		if t.kind != tokWord {
			continue
		}
		open, err := l.next()
		if err != nil {
			if errors.Is(err, errUnterminated) {
				break
			}
			return nil, fmt.Errorf("reading DAT: %w", err)
		}
		if open.kind != tokOpen {
			l.unread(open)
			continue
		}
		rec, err := readRecord(l, nil)
		switch {
		case errors.Is(err, errResync):
			broken++
			continue
		case errors.Is(err, errUnterminated):
			log.Debugf("DAT ends inside an unterminated %q record, ignoring it", t.text)
		case err != nil:
			return nil, fmt.Errorf("reading DAT: %w", err)
		}
		if err != nil {
			break
		}
		if rec.broken {
			broken++
			continue
		}
		switch t.text {
		case "game", "machine", "resource":
			skipped += addGame(idx, rec)
		}
	}
	if broken > 0 {
		log.Debugf("Skipped %d records with malformed lines", broken)
	}
	if skipped > 0 {
		log.Debugf("Skipped %d malformed rom entries", skipped)
	}
	return idx, nil
}

// addGame indexes every rom of a game record and returns how many rom
// entries were skipped as malformed.
func addGame(idx *Index, game *record) int {
	skipped := 0
	for _, c := range game.children {
		if c.key != "rom" {
			continue
		}
		sha1 := c.rec.fields["sha1"]
		if !validSHA1(sha1) {
			skipped++
			continue
		}
		name := game.fields["name"]
		if name == "" {
			name = platform.StripRomExtension(c.rec.fields["name"])
		}
		if name == "" {
			skipped++
			continue
		}
		idx.Add(sha1, name)
	}
	return skipped
}

// --- line heuristic ---

// LineParser finds single-line rom records (lines starting with "rom" that
// contain "sha1") and pulls the checksum and name out by substring search.
// It does not understand multi-line rom records.
type LineParser struct{}

// Parse implements Parser.
func (LineParser) Parse(r io.Reader) (*Index, error) {
	idx := NewIndex()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "rom") || !strings.Contains(line, "sha1") {
			continue
		}
		sha1, name, ok := parseRomLine(line)
		if !ok {
			continue
		}
		idx.Add(sha1, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading DAT: %w", err)
	}
	return idx, nil
}

func parseRomLine(line string) (sha1, name string, ok bool) {
	after := line[strings.Index(line, "sha1")+len("sha1"):]
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return "", "", false
	}
	sha1 = strings.ToLower(strings.Trim(fields[0], `)"`))
	if !validSHA1(sha1) {
		return "", "", false
	}

	nameAt := strings.Index(line, "name")
	if nameAt < 0 {
		return "", "", false
	}
	rest := line[nameAt+len("name"):]
	sizeAt := strings.Index(rest, " size ")
	if sizeAt < 0 {
		return "", "", false
	}
	name = strings.Trim(strings.TrimSpace(rest[:sizeAt]), `="`)
	name = platform.StripRomExtension(name)
	if name == "" {
		return "", "", false
	}
	return sha1, name, true
}
