package chain

// Cursor is a pull iterator over declarations. Modifiers advance it to
// consume the declarations that follow them.
type Cursor struct {
	decls []Declaration
	pos   int
}

func NewCursor(decls []Declaration) *Cursor {
	return &Cursor{decls: decls}
}

// Next returns the next declaration and advances.
func (c *Cursor) Next() (Declaration, bool) {
	if c.pos >= len(c.decls) {
		return nil, false
	}
	d := c.decls[c.pos]
	c.pos++
	return d, true
}

// Peek returns the next declaration without advancing.
func (c *Cursor) Peek() (Declaration, bool) {
	if c.pos >= len(c.decls) {
		return nil, false
	}
	return c.decls[c.pos], true
}

// Remaining returns the number of declarations not consumed yet.
func (c *Cursor) Remaining() int { return len(c.decls) - c.pos }

// Pos returns the index of the next declaration.
func (c *Cursor) Pos() int { return c.pos }
