package script

type expr interface{ exprLine() int }

type (
	numberExpr struct {
		line int
		val  float64
		unit string
	}
	stringExpr struct {
		line int
		val  string
	}
	literalExpr struct { // true, false, nil
		line int
		val  any
	}
	identExpr struct {
		line int
		name string
	}
	fieldExpr struct {
		line int
		obj  expr
		name string
	}
	callExpr struct {
		line int
		fn   expr
		args []expr
	}
	unaryExpr struct {
		line int
		op   string
		x    expr
	}
	binaryExpr struct {
		line int
		op   string
		x, y expr
	}
)

func (e *numberExpr) exprLine() int  { return e.line }
func (e *stringExpr) exprLine() int  { return e.line }
func (e *literalExpr) exprLine() int { return e.line }
func (e *identExpr) exprLine() int   { return e.line }
func (e *fieldExpr) exprLine() int   { return e.line }
func (e *callExpr) exprLine() int    { return e.line }
func (e *unaryExpr) exprLine() int   { return e.line }
func (e *binaryExpr) exprLine() int  { return e.line }

type stmt interface{ stmtLine() int }

type (
	letStmt struct {
		line int
		name string
		x    expr
	}
	assignStmt struct {
		line   int
		target expr // *identExpr or *fieldExpr
		x      expr
	}
	commandStmt struct {
		line int
		name string
		args []expr
	}
	exprStmt struct {
		line int
		x    expr
	}
	forkStmt struct {
		line int
		body []stmt
	}
	loopStmt struct {
		line  int
		count expr // repeat count; nil runs forever
		cond  expr // while condition
		body  []stmt
	}
	ifStmt struct {
		line int
		cond expr
		then []stmt
		els  []stmt
	}
	breakStmt struct {
		line int
	}
)

func (s *letStmt) stmtLine() int     { return s.line }
func (s *assignStmt) stmtLine() int  { return s.line }
func (s *commandStmt) stmtLine() int { return s.line }
func (s *exprStmt) stmtLine() int    { return s.line }
func (s *forkStmt) stmtLine() int    { return s.line }
func (s *loopStmt) stmtLine() int    { return s.line }
func (s *ifStmt) stmtLine() int      { return s.line }
func (s *breakStmt) stmtLine() int   { return s.line }
