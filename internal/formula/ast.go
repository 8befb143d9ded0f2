package formula

// Node is a parsed formula. The set of node types is closed.
type Node interface {
	node()
}

// Literal is a number, string, boolean or null constant.
type Literal struct {
	Value any // nil, float64, string or bool
}

// Ident names a variable or a registered table.
type Ident struct {
	Name string
}

// Attr is dotted access: T.COLUMN or m.key.
type Attr struct {
	X    Node
	Name string
}

// Index is bracketed access: T["COLUMN"], T[mask], list[0], m["key"].
type Index struct {
	X   Node
	Key Node
}

// Unary is a prefix operation: "-" or "not".
type Unary struct {
	Op string
	X  Node
}

// Binary is an infix operation.
type Binary struct {
	Op    string // + - * / % == != < <= > >= and or
	Left  Node
	Right Node
}

// Call invokes a builtin function by name.
type Call struct {
	Name string
	Args []Node
}

// Assign binds the value of Value to Target. Target is an Ident, Attr or
// Index. Assignments are only valid as statements.
type Assign struct {
	Target Node
	Value  Node
}

func (*Literal) node() {}
func (*Ident) node()   {}
func (*Attr) node()    {}
func (*Index) node()   {}
func (*Unary) node()   {}
func (*Binary) node()  {}
func (*Call) node()    {}
func (*Assign) node()  {}
