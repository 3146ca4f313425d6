package xmlsim

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ppiankov/xfil/internal/model"
	"github.com/ppiankov/xfil/internal/xpath"
)

// ErrInjectedFailure is returned for conditions selected by Oracle.FailWhen
var ErrInjectedFailure = errors.New("injected failure")

// Oracle evaluates conditions directly against a Document, with no
// injection template or transport in between
type Oracle struct {
	doc *Document

	// FailWhen, when set, makes matching conditions come back Unknown
	FailWhen func(cond xpath.Condition) bool

	calls atomic.Int64
}

// NewOracle creates an oracle over doc
func NewOracle(doc *Document) *Oracle {
	return &Oracle{doc: doc}
}

// Ask evaluates cond. Conditions that fail to compile are Unknown.
func (o *Oracle) Ask(ctx context.Context, cond xpath.Condition) (model.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return model.VerdictUnknown, err
	}
	o.calls.Add(1)

	if o.FailWhen != nil && o.FailWhen(cond) {
		return model.VerdictUnknown, ErrInjectedFailure
	}

	ok, err := o.doc.Evaluate(string(cond))
	if err != nil {
		return model.VerdictUnknown, err
	}
	if ok {
		return model.VerdictTrue, nil
	}
	return model.VerdictFalse, nil
}

// Calls returns the number of conditions asked so far
func (o *Oracle) Calls() int64 {
	return o.calls.Load()
}
