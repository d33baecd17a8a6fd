package store

import "fmt"

// Entry is one (key, document) pair produced by a scan or find. Doc is nil
// for keys-only scans.
type Entry struct {
	Key string   `json:"key"`
	Doc Document `json:"value"`
}

type rawEntry struct {
	key  string
	data []byte
	doc  Document
}

// Cursor is a finite, non-restartable sequence of entries taken from one
// snapshot of the collection. Payloads are decoded as Next reaches them.
//
//	cur, err := s.ScanDocs(10, 0, false)
//	for cur.Next() {
//		e := cur.Entry()
//		...
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor struct {
	entries  []rawEntry
	keysOnly bool
	pos      int
	cur      Entry
	err      error
}

// Next advances to the following entry. It returns false once the
// sequence is exhausted or a stored payload fails to decode.
func (c *Cursor) Next() bool {
	if c.err != nil || c.pos >= len(c.entries) {
		return false
	}
	e := c.entries[c.pos]
	c.entries[c.pos] = rawEntry{}
	c.pos++

	c.cur = Entry{Key: e.key}
	switch {
	case c.keysOnly:
	case e.doc != nil:
		c.cur.Doc = e.doc
	default:
		doc, err := decode(e.key, e.data)
		if err != nil {
			c.err = err
			c.cur = Entry{}
			return false
		}
		c.cur.Doc = doc
	}
	return true
}

// Entry returns the entry Next advanced to.
func (c *Cursor) Entry() Entry { return c.cur }

// Err returns the first decode failure, if any.
func (c *Cursor) Err() error { return c.err }

// Len returns how many entries are left.
func (c *Cursor) Len() int { return len(c.entries) - c.pos }

// All drains the cursor.
func (c *Cursor) All() ([]Entry, error) {
	out := make([]Entry, 0, c.Len())
	for c.Next() {
		out = append(out, c.Entry())
	}
	return out, c.Err()
}

// Matches reports whether every filter field exists at the top level of
// doc and equals the filter value. An empty filter matches everything.
func Matches(doc Document, filters Document) bool {
	for k, want := range filters {
		got, ok := doc[k]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

func encode(doc Document) ([]byte, error) {
	b, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return b, nil
}

// decode parses a stored payload. Anything unreadable is corruption on
// the medium, not bad caller input.
func decode(key string, data []byte) (Document, error) {
	var doc Document
	if err := doc.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: corrupt document %q: %v", ErrStorageIO, key, err)
	}
	return doc, nil
}
