// Package optimize implements spec §4.6's two training optimizers,
// ADAM and L-BFGS with backtracking line search, against the ml.Tensor
// contract so callers can train any graph the cpu backend builds.
package optimize

// Result is the optimizer's sum-type outcome (spec §4.6/§7): the
// builder and executor only ever assert or return null, but the
// optimizer reports a richer set of terminal states since non-
// convergence is an ordinary, expected outcome rather than a bug.
type Result int

const (
	Ok Result = iota
	DidNotConverge
	NoContext
	InvalidWolfe
	Fail
	MinimumStep
	MaximumStep
	MaximumIterations
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "Ok"
	case DidNotConverge:
		return "DidNotConverge"
	case NoContext:
		return "NoContext"
	case InvalidWolfe:
		return "InvalidWolfe"
	case Fail:
		return "Fail"
	case MinimumStep:
		return "MinimumStep"
	case MaximumStep:
		return "MaximumStep"
	case MaximumIterations:
		return "MaximumIterations"
	default:
		return "Unknown"
	}
}
