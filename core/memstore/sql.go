package memstore

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/idokutela/sqltx/core/store"
)

// The SQL subset. Grammar, roughly:
//
//	CREATE TABLE [IF NOT EXISTS] name ( col [type...] , ... )
//	DROP TABLE name
//	ALTER TABLE name ADD COLUMN col [type...]
//	INSERT INTO name [( col , ... )] VALUES ( value , ... )
//	SELECT * | col , ... FROM name [WHERE col = value]
//	UPDATE name SET col = value , ... [WHERE col = value]
//	DELETE FROM name [WHERE col = value]
//
// value is a number, a 'string' ('' escapes a quote), NULL, or a ?
// placeholder bound positionally from params.

type tokKind int

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokPunct
	tokParam
)

type token struct {
	kind tokKind
	text string
}

func tokenize(sqlText string) ([]token, error) {
	var toks []token
	rs := []rune(sqlText)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '?':
			toks = append(toks, token{tokParam, "?"})
			i++
		case strings.ContainsRune("(),*=;", r):
			toks = append(toks, token{tokPunct, string(r)})
			i++
		case r == '\'':
			var b strings.Builder
			i++
			closed := false
			for i < len(rs) {
				if rs[i] == '\'' {
					if i+1 < len(rs) && rs[i+1] == '\'' {
						b.WriteRune('\'')
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				b.WriteRune(rs[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string literal", ErrSyntax)
			}
			toks = append(toks, token{tokString, b.String()})
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(rs[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_') {
				j++
			}
			toks = append(toks, token{tokIdent, string(rs[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("%w: unexpected character %q", ErrSyntax, string(r))
		}
	}
	return toks, nil
}

type parser struct {
	toks   []token
	pos    int
	params []any
	nused  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

// keyword consumes the next token if it is the given keyword
// (case-insensitive) and reports whether it did.
func (p *parser) keyword(kw string) bool {
	t, ok := p.peek()
	if !ok || t.kind != tokIdent || !strings.EqualFold(t.text, kw) {
		return false
	}
	p.pos++
	return true
}

func (p *parser) expectKeyword(kw string) error {
	if !p.keyword(kw) {
		return fmt.Errorf("%w: expected %s", ErrSyntax, kw)
	}
	return nil
}

func (p *parser) expectPunct(s string) error {
	t, ok := p.next()
	if !ok || t.kind != tokPunct || t.text != s {
		return fmt.Errorf("%w: expected %q", ErrSyntax, s)
	}
	return nil
}

func (p *parser) punct(s string) bool {
	t, ok := p.peek()
	if !ok || t.kind != tokPunct || t.text != s {
		return false
	}
	p.pos++
	return true
}

func (p *parser) ident() (string, error) {
	t, ok := p.next()
	if !ok || t.kind != tokIdent {
		return "", fmt.Errorf("%w: expected identifier", ErrSyntax)
	}
	return t.text, nil
}

// value parses a literal or placeholder into a normalized scalar.
func (p *parser) value() (any, error) {
	t, ok := p.next()
	if !ok {
		return nil, fmt.Errorf("%w: expected value", ErrSyntax)
	}
	switch t.kind {
	case tokParam:
		if p.nused >= len(p.params) {
			return nil, ErrParamCount
		}
		v := normalizeScalar(p.params[p.nused])
		p.nused++
		return v, nil
	case tokString:
		return t.text, nil
	case tokNumber:
		if n, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, t.text)
		}
		return f, nil
	case tokIdent:
		if strings.EqualFold(t.text, "NULL") {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("%w: expected value, got %q", ErrSyntax, t.text)
}

// end checks that the statement is fully consumed (an optional trailing
// semicolon aside).
func (p *parser) end() error {
	p.punct(";")
	if t, ok := p.peek(); ok {
		return fmt.Errorf("%w: unexpected %q", ErrSyntax, t.text)
	}
	return nil
}

// normalizeScalar maps bound parameters onto the store's scalar set.
func normalizeScalar(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// scalarEqual compares with numeric promotion so 1 matches 1.0.
func scalarEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func int64p(n int64) *int64 { return &n }

// exec parses and runs one statement against the handle's view of the
// database. Called only from the run goroutine.
func (h *handle) exec(sqlText string, params []any) (*store.RawResult, error) {
	toks, err := tokenize(sqlText)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, params: params}
	t, ok := p.peek()
	if !ok || t.kind != tokIdent {
		return nil, fmt.Errorf("%w: empty statement", ErrSyntax)
	}
	switch strings.ToUpper(t.text) {
	case "SELECT":
		p.pos++
		return h.execSelect(p)
	case "INSERT":
		p.pos++
		return h.execInsert(p)
	case "UPDATE":
		p.pos++
		return h.execUpdate(p)
	case "DELETE":
		p.pos++
		return h.execDelete(p)
	case "CREATE":
		p.pos++
		return h.execCreate(p)
	case "DROP":
		p.pos++
		return h.execDrop(p)
	case "ALTER":
		p.pos++
		return h.execAlter(p)
	}
	return nil, fmt.Errorf("%w: unknown statement %q", ErrSyntax, t.text)
}

func (h *handle) requireWritable() error {
	if h.kind == txRead {
		return ErrReadOnly
	}
	return nil
}

// columnList parses "col [type tokens]" entries up to the closing paren.
// Type tokens after the column name are accepted and ignored; the store is
// untyped.
func columnList(p *parser) ([]string, error) {
	var cols []string
	for {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		cols = append(cols, name)
		for {
			t, ok := p.peek()
			if !ok || t.kind != tokIdent {
				break
			}
			p.pos++ // type annotation, ignored
		}
		if p.punct(",") {
			continue
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return cols, nil
	}
}

func (h *handle) execCreate(p *parser) (*store.RawResult, error) {
	if err := h.requireWritable(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	ifNotExists := false
	if p.keyword("IF") {
		if err := p.expectKeyword("NOT"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		ifNotExists = true
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	cols, err := columnList(p)
	if err != nil {
		return nil, err
	}
	if err := p.end(); err != nil {
		return nil, err
	}
	if _, ok := h.lookup(name); ok {
		if ifNotExists {
			return &store.RawResult{}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	h.overlay[name] = &table{cols: cols, nextID: 1}
	delete(h.dropped, name)
	return &store.RawResult{}, nil
}

func (h *handle) execDrop(p *parser) (*store.RawResult, error) {
	if err := h.requireWritable(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.end(); err != nil {
		return nil, err
	}
	if _, ok := h.lookup(name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, name)
	}
	delete(h.overlay, name)
	h.dropped[name] = true
	return &store.RawResult{}, nil
}

func (h *handle) execAlter(p *parser) (*store.RawResult, error) {
	if err := h.requireWritable(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ADD"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("COLUMN"); err != nil {
		return nil, err
	}
	col, err := p.ident()
	if err != nil {
		return nil, err
	}
	for { // type annotation, ignored
		t, ok := p.peek()
		if !ok || t.kind != tokIdent {
			break
		}
		p.pos++
	}
	if err := p.end(); err != nil {
		return nil, err
	}
	t, ok := h.writable(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, name)
	}
	for _, c := range t.cols {
		if strings.EqualFold(c, col) {
			return nil, fmt.Errorf("%w: %s", ErrColumnExists, col)
		}
	}
	t.cols = append(t.cols, col)
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], nil)
	}
	return &store.RawResult{}, nil
}

func (h *handle) execInsert(p *parser) (*store.RawResult, error) {
	if err := h.requireWritable(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	var target []string
	if p.punct("(") {
		for {
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			target = append(target, col)
			if p.punct(",") {
				continue
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			break
		}
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var vals []any
	for {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
		if p.punct(",") {
			continue
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		break
	}
	if err := p.end(); err != nil {
		return nil, err
	}

	t, ok := h.writable(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, name)
	}
	if target == nil {
		target = t.cols
	}
	if len(vals) != len(target) {
		return nil, fmt.Errorf("%w: %d values for %d columns", ErrColumnCount, len(vals), len(target))
	}
	row := make([]any, len(t.cols))
	for i, col := range target {
		idx := columnIndex(t.cols, col)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchColumn, col)
		}
		row[idx] = vals[i]
	}
	t.rows = append(t.rows, row)
	id := t.nextID
	t.nextID++
	return &store.RawResult{InsertID: int64p(id), RowsAffected: int64p(1)}, nil
}

// whereClause is the optional single-equality filter. A nil clause matches
// every row.
type whereClause struct {
	col string
	val any
}

func parseWhere(p *parser) (*whereClause, error) {
	if !p.keyword("WHERE") {
		return nil, nil
	}
	col, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("="); err != nil {
		return nil, err
	}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	return &whereClause{col: col, val: v}, nil
}

func (w *whereClause) bind(t *table, tableName string) (int, error) {
	if w == nil {
		return -1, nil
	}
	idx := columnIndex(t.cols, w.col)
	if idx < 0 {
		return -1, fmt.Errorf("%w: %s.%s", ErrNoSuchColumn, tableName, w.col)
	}
	return idx, nil
}

func (w *whereClause) matches(row []any, idx int) bool {
	if w == nil {
		return true
	}
	return scalarEqual(row[idx], w.val)
}

func columnIndex(cols []string, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func (h *handle) execSelect(p *parser) (*store.RawResult, error) {
	var cols []string
	if !p.punct("*") {
		for {
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
			if !p.punct(",") {
				break
			}
		}
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	where, err := parseWhere(p)
	if err != nil {
		return nil, err
	}
	if err := p.end(); err != nil {
		return nil, err
	}

	t, ok := h.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, name)
	}
	if cols == nil {
		cols = t.cols
	}
	idxs := make([]int, len(cols))
	for i, col := range cols {
		idx := columnIndex(t.cols, col)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s.%s", ErrNoSuchColumn, name, col)
		}
		idxs[i] = idx
	}
	widx, err := where.bind(t, name)
	if err != nil {
		return nil, err
	}

	var out []store.Row
	for _, row := range t.rows {
		if !where.matches(row, widx) {
			continue
		}
		m := make(store.Row, len(idxs))
		for _, idx := range idxs {
			m[t.cols[idx]] = row[idx]
		}
		out = append(out, m)
	}
	return &store.RawResult{Rows: out}, nil
}

func (h *handle) execUpdate(p *parser) (*store.RawResult, error) {
	if err := h.requireWritable(); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	var setCols []string
	var setVals []any
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		setCols = append(setCols, col)
		setVals = append(setVals, v)
		if !p.punct(",") {
			break
		}
	}
	where, err := parseWhere(p)
	if err != nil {
		return nil, err
	}
	if err := p.end(); err != nil {
		return nil, err
	}

	t, ok := h.writable(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, name)
	}
	idxs := make([]int, len(setCols))
	for i, col := range setCols {
		idx := columnIndex(t.cols, col)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s.%s", ErrNoSuchColumn, name, col)
		}
		idxs[i] = idx
	}
	widx, err := where.bind(t, name)
	if err != nil {
		return nil, err
	}

	var affected int64
	for _, row := range t.rows {
		if !where.matches(row, widx) {
			continue
		}
		for i, idx := range idxs {
			row[idx] = setVals[i]
		}
		affected++
	}
	return &store.RawResult{RowsAffected: int64p(affected)}, nil
}

func (h *handle) execDelete(p *parser) (*store.RawResult, error) {
	if err := h.requireWritable(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	where, err := parseWhere(p)
	if err != nil {
		return nil, err
	}
	if err := p.end(); err != nil {
		return nil, err
	}

	t, ok := h.writable(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, name)
	}
	widx, err := where.bind(t, name)
	if err != nil {
		return nil, err
	}

	kept := t.rows[:0]
	var affected int64
	for _, row := range t.rows {
		if where.matches(row, widx) {
			affected++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return &store.RawResult{RowsAffected: int64p(affected)}, nil
}
