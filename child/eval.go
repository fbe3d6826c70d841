package child

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Evaluator runs source code in the context of the application.
// An application that implements Evaluator is used as its own evaluator.
type Evaluator interface {
	Eval(ctx context.Context, code string) (any, error)
}

// selfImportPath is the package interpreted code imports to reach the application.
const selfImportPath = "clusterclient/self"

// YaegiEvaluator interprets Go source with yaegi. The application is bound to the variable this,
// and its type is importable as self.Type, so function literals can name it:
//
//	func(c *self.Type) int { return len(c.Shards) }
//
// Every evaluation gets a fresh interpreter: nothing declared by one evaluation is visible to the next.
type YaegiEvaluator struct {
	this any
}

func NewYaegiEvaluator(this any) *YaegiEvaluator {
	return &YaegiEvaluator{this: this}
}

func (e *YaegiEvaluator) exports() interp.Exports {
	symbols := map[string]reflect.Value{}
	if e.this != nil {
		v := reflect.ValueOf(e.this)
		holder := reflect.New(v.Type()).Elem()
		holder.Set(v)
		symbols["This"] = holder

		t := v.Type()
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Name() != "" {
			symbols["Type"] = reflect.Zero(reflect.PointerTo(t))
		}
	}
	return interp.Exports{selfImportPath + "/self": symbols}
}

func (e *YaegiEvaluator) Eval(ctx context.Context, code string) (any, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading stdlib: %w", err)
	}
	if err := i.Use(e.exports()); err != nil {
		return nil, fmt.Errorf("binding application: %w", err)
	}
	if e.this != nil {
		if _, err := i.EvalWithContext(ctx, fmt.Sprintf("import %q", selfImportPath)); err != nil {
			return nil, fmt.Errorf("importing application: %w", err)
		}
		if _, err := i.EvalWithContext(ctx, "var this = self.This"); err != nil {
			return nil, fmt.Errorf("binding this: %w", err)
		}
	}

	v, err := i.EvalWithContext(ctx, code)
	if err != nil {
		var p interp.Panic
		if errors.As(err, &p) {
			return nil, &evalPanic{p: p}
		}
		return nil, err
	}
	if !v.IsValid() || !v.CanInterface() {
		return nil, nil
	}
	return v.Interface(), nil
}

// evalPanic is a panic raised by interpreted code.
type evalPanic struct {
	p interp.Panic
}

func (e *evalPanic) Error() string      { return e.p.Error() }
func (e *evalPanic) ErrorName() string  { return "Panic" }
func (e *evalPanic) StackTrace() string { return string(e.p.Stack) }

// funcInvocation turns the source of a function literal into an expression calling it with the application.
func funcInvocation(src string) string {
	return "(" + src + ")(this)"
}
