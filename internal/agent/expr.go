package agent

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"
)

// evalArithmetic evaluates +, -, *, /, %, ** and parentheses over float
// literals. Nothing else is accepted, so model input cannot call code.
func evalArithmetic(expr string) (float64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("empty expression")
	}
	// go/parser has no power operator; ^ is XOR there, so map ** onto it.
	src := strings.ReplaceAll(expr, "**", "^")
	node, err := parser.ParseExpr(src)
	if err != nil {
		return 0, fmt.Errorf("invalid expression %q", expr)
	}
	v, err := evalNode(node)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("expression %q has no finite value", expr)
	}
	return v, nil
}

func evalNode(n ast.Expr) (float64, error) {
	switch e := n.(type) {
	case *ast.BasicLit:
		if e.Kind != token.INT && e.Kind != token.FLOAT {
			return 0, fmt.Errorf("unsupported literal %s", e.Value)
		}
		return strconv.ParseFloat(e.Value, 64)
	case *ast.ParenExpr:
		return evalNode(e.X)
	case *ast.UnaryExpr:
		x, err := evalNode(e.X)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.SUB:
			return -x, nil
		case token.ADD:
			return x, nil
		}
		return 0, fmt.Errorf("unsupported operator %s", e.Op)
	case *ast.BinaryExpr:
		x, err := evalNode(e.X)
		if err != nil {
			return 0, err
		}
		y, err := evalNode(e.Y)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return x / y, nil
		case token.REM:
			if y == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return math.Mod(x, y), nil
		case token.XOR:
			return math.Pow(x, y), nil
		}
		return 0, fmt.Errorf("unsupported operator %s", e.Op)
	}
	return 0, fmt.Errorf("unsupported expression")
}

// formatNumber prints integers without a fractional part.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
