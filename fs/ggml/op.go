package ggml

// Op identifies which operator produced a tensor, or OpNone for leaves
// (parameters, constants, and other inputs with no producer). This is
// the exhaustive operator set of spec §4.4.
type Op uint32

const (
	OpNone Op = iota

	// elementwise unary
	OpDup
	OpNeg
	OpAbs
	OpSgn
	OpStep
	OpTanh
	OpElu
	OpRelu
	OpGelu
	OpGeluQuick
	OpSilu
	OpSiluBack
	OpSqr
	OpSqrt
	OpLog

	// elementwise binary
	OpAdd
	OpAdd1
	OpAcc
	OpSub
	OpMul
	OpDiv

	// reductions
	OpSum
	OpSumRows
	OpMean
	OpArgmax

	// shape ops
	OpRepeat
	OpRepeatBack
	OpReshape
	OpView
	OpPermute
	OpTranspose
	OpCont
	OpCpy

	// indexing
	OpGetRows
	OpGetRowsBack
	OpDiag
	OpDiagMaskInf
	OpDiagMaskZero
	OpSet

	// normalization
	OpNorm
	OpRMSNorm
	OpRMSNormBack

	// linear algebra
	OpMulMat
	OpOutProd
	OpScale

	// softmax family
	OpSoftMax
	OpSoftMaxBack

	// positional
	OpRope
	OpRopeBack
	OpAlibi
	OpClamp

	// convolution
	OpConv1D
	OpConv2D

	// attention
	OpFlashAttn
	OpFlashFF
	OpFlashAttnBack

	// window ops (SAM-style)
	OpWinPart
	OpWinUnpart

	// escape hatches
	OpMapUnary
	OpMapBinary
	OpMapCustom1
	OpMapCustom2
	OpMapCustom3

	// training
	OpCrossEntropyLoss
	OpCrossEntropyLossBack
)

var opNames = map[Op]string{
	OpNone: "NONE",

	OpDup: "DUP", OpNeg: "NEG", OpAbs: "ABS", OpSgn: "SGN", OpStep: "STEP",
	OpTanh: "TANH", OpElu: "ELU", OpRelu: "RELU", OpGelu: "GELU",
	OpGeluQuick: "GELU_QUICK", OpSilu: "SILU", OpSiluBack: "SILU_BACK",
	OpSqr: "SQR", OpSqrt: "SQRT", OpLog: "LOG",

	OpAdd: "ADD", OpAdd1: "ADD1", OpAcc: "ACC", OpSub: "SUB", OpMul: "MUL", OpDiv: "DIV",

	OpSum: "SUM", OpSumRows: "SUM_ROWS", OpMean: "MEAN", OpArgmax: "ARGMAX",

	OpRepeat: "REPEAT", OpRepeatBack: "REPEAT_BACK", OpReshape: "RESHAPE",
	OpView: "VIEW", OpPermute: "PERMUTE", OpTranspose: "TRANSPOSE",
	OpCont: "CONT", OpCpy: "CPY",

	OpGetRows: "GET_ROWS", OpGetRowsBack: "GET_ROWS_BACK", OpDiag: "DIAG",
	OpDiagMaskInf: "DIAG_MASK_INF", OpDiagMaskZero: "DIAG_MASK_ZERO", OpSet: "SET",

	OpNorm: "NORM", OpRMSNorm: "RMS_NORM", OpRMSNormBack: "RMS_NORM_BACK",

	OpMulMat: "MUL_MAT", OpOutProd: "OUT_PROD", OpScale: "SCALE",

	OpSoftMax: "SOFT_MAX", OpSoftMaxBack: "SOFT_MAX_BACK",

	OpRope: "ROPE", OpRopeBack: "ROPE_BACK", OpAlibi: "ALIBI", OpClamp: "CLAMP",

	OpConv1D: "CONV_1D", OpConv2D: "CONV_2D",

	OpFlashAttn: "FLASH_ATTN", OpFlashFF: "FLASH_FF", OpFlashAttnBack: "FLASH_ATTN_BACK",

	OpWinPart: "WIN_PART", OpWinUnpart: "WIN_UNPART",

	OpMapUnary: "MAP_UNARY", OpMapBinary: "MAP_BINARY",
	OpMapCustom1: "MAP_CUSTOM1", OpMapCustom2: "MAP_CUSTOM2", OpMapCustom3: "MAP_CUSTOM3",

	OpCrossEntropyLoss: "CROSS_ENTROPY_LOSS", OpCrossEntropyLossBack: "CROSS_ENTROPY_LOSS_BACK",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "UNKNOWN"
}

// IsNoOp reports whether the executor's planning pass must give this op
// a task count of 1 (spec §4.5: "no-op" shape ops).
func (o Op) IsNoOp() bool {
	switch o {
	case OpView, OpReshape, OpPermute, OpTranspose, OpCont, OpDup, OpCpy,
		OpGetRows, OpDiag, OpDiagMaskZero, OpScale, OpSet, OpAlibi, OpClamp:
		return true
	default:
		return false
	}
}

// HasBackward reports whether the backward-derivation walker has an
// adjoint rule registered for o (spec §4.4). The *_BACK operators are
// themselves terminal adjoint outputs, never crossed by a further
// backward pass, so they report false: a true here would make the
// builder allocate a gradient the walker cannot fill.
func (o Op) HasBackward() bool {
	switch o {
	case OpDup, OpNeg, OpAbs, OpSgn, OpStep, OpTanh, OpElu, OpRelu, OpGelu,
		OpGeluQuick, OpSilu, OpSqr, OpSqrt, OpLog,
		OpAdd, OpAdd1, OpAcc, OpSub, OpMul, OpDiv,
		OpSum, OpSumRows, OpMean,
		OpRepeat, OpReshape, OpView, OpPermute, OpTranspose, OpCont, OpCpy,
		OpGetRows, OpDiagMaskInf, OpDiagMaskZero,
		OpNorm, OpRMSNorm,
		OpMulMat, OpOutProd, OpScale,
		OpSoftMax,
		OpRope,
		OpFlashAttn,
		OpCrossEntropyLoss:
		return true
	default:
		return false
	}
}
