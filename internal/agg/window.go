package agg

import (
	"sort"

	"github.com/kvsql/kvsql/internal/errs"
	"github.com/kvsql/kvsql/internal/value"
)

// FrameMode distinguishes ROWS framing (physical row offsets) from RANGE
// framing (peer-group offsets, where ties in the ORDER BY key move
// together).
type FrameMode int

const (
	FrameRows FrameMode = iota
	FrameRange
)

// BoundKind mirrors parser.FrameBoundKind; kept as its own small enum so
// this package does not need to import internal/parser — internal/exec
// translates a parser.WindowSpec into a Frame before calling EvalWindow.
type BoundKind int

const (
	BoundUnboundedPreceding BoundKind = iota
	BoundOffsetPreceding
	BoundCurrentRow
	BoundOffsetFollowing
	BoundUnboundedFollowing
)

type Bound struct {
	Kind   BoundKind
	Offset int64
}

// Frame is nil-able at the call site: a nil *Frame means "apply spec.md
// §4.4's default" (RANGE UNBOUNDED PRECEDING..CURRENT ROW when the
// window has an ORDER BY, the whole partition otherwise).
type Frame struct {
	Mode  FrameMode
	Start Bound
	End   Bound
}

type WindowFunc int

const (
	FuncRowNumber WindowFunc = iota
	FuncRank
	FuncDenseRank
	FuncLead
	FuncLag
	FuncFirstValue
	FuncLastValue
	FuncSum
	FuncAvg
	FuncCount
	FuncMin
	FuncMax
)

// Call describes one window function invocation: which function, which
// evaluated argument column to read (ArgCol == -1 for COUNT(*) and
// ROW_NUMBER/RANK/DENSE_RANK which take no column), and LEAD/LAG's
// offset/default.
type Call struct {
	Func    WindowFunc
	ArgCol  int
	Offset  int64
	Default value.Value
}

// EvalWindow computes one window function over rows, partitioned by
// partitionCols and ordered within partition by orderCols/orderDesc.
// The result slice is aligned to rows' original order (result[i]
// corresponds to rows[i]), regardless of the internal sort used to
// build partitions.
func EvalWindow(rows [][]value.Value, partitionCols, orderCols []int, orderDesc []bool, frame *Frame, call Call) ([]value.Value, error) {
	n := len(rows)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sortCols := append(append([]int{}, partitionCols...), orderCols...)
	sortDesc := make([]bool, len(sortCols))
	copy(sortDesc[len(partitionCols):], orderDesc)
	keys := make([]value.SortKey, len(sortCols))
	for i, c := range sortCols {
		keys[i] = value.SortKey{Col: c, Desc: sortDesc[i]}
	}
	sort.SliceStable(perm, func(i, j int) bool {
		return value.Less(rows[perm[i]], rows[perm[j]], keys)
	})

	result := make([]value.Value, n)

	for start := 0; start < n; {
		end := start + 1
		for end < n && samePartition(rows, perm, partitionCols, start, end) {
			end++
		}
		partVals, err := evalPartition(rows, perm[start:end], orderCols, orderDesc, frame, call)
		if err != nil {
			return nil, err
		}
		for i, origIdx := range perm[start:end] {
			result[origIdx] = partVals[i]
		}
		start = end
	}
	return result, nil
}

func samePartition(rows [][]value.Value, perm []int, partitionCols []int, a, b int) bool {
	ra, rb := rows[perm[a]], rows[perm[b]]
	for _, c := range partitionCols {
		if value.Compare(ra[c], rb[c]) != 0 {
			return false
		}
	}
	return true
}

// evalPartition computes call's value for every row of one partition,
// given the partition's rows already sorted by orderCols (sub-slice of
// the outer permutation passed in as partRows).
func evalPartition(rows [][]value.Value, partRows []int, orderCols []int, orderDesc []bool, frame *Frame, call Call) ([]value.Value, error) {
	m := len(partRows)
	out := make([]value.Value, m)

	switch call.Func {
	case FuncRowNumber:
		for i := range out {
			out[i] = value.Int8(int64(i + 1))
		}
		return out, nil
	case FuncRank, FuncDenseRank:
		rank, dense := 1, 1
		for i := 0; i < m; i++ {
			if i > 0 && !samePeer(rows, partRows, orderCols, i-1, i) {
				if call.Func == FuncRank {
					rank = i + 1
				} else {
					dense++
				}
			}
			if call.Func == FuncRank {
				out[i] = value.Int8(int64(rank))
			} else {
				out[i] = value.Int8(int64(dense))
			}
		}
		return out, nil
	case FuncLead, FuncLag:
		delta := call.Offset
		if delta == 0 {
			delta = 1
		}
		if call.Func == FuncLag {
			delta = -delta
		}
		for i := range out {
			j := i + int(delta)
			if j < 0 || j >= m {
				out[i] = call.Default
				continue
			}
			out[i] = rows[partRows[j]][call.ArgCol]
		}
		return out, nil
	case FuncFirstValue:
		for i := range out {
			lo, hi := frameBounds(frame, orderCols, rows, partRows, i)
			out[i] = rows[partRows[lo]][call.ArgCol]
			_ = hi
		}
		return out, nil
	case FuncLastValue:
		for i := range out {
			lo, hi := frameBounds(frame, orderCols, rows, partRows, i)
			out[i] = rows[partRows[hi]][call.ArgCol]
			_ = lo
		}
		return out, nil
	case FuncSum, FuncAvg, FuncCount, FuncMin, FuncMax:
		for i := range out {
			lo, hi := frameBounds(frame, orderCols, rows, partRows, i)
			v, err := aggregateOverFrame(rows, partRows, lo, hi, call)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, errs.New(errs.FeatureNotSupported, "unsupported window function")
	}
}

func samePeer(rows [][]value.Value, partRows []int, orderCols []int, a, b int) bool {
	ra, rb := rows[partRows[a]], rows[partRows[b]]
	for _, c := range orderCols {
		if value.Compare(ra[c], rb[c]) != 0 {
			return false
		}
	}
	return true
}

// frameBounds resolves the [lo, hi] inclusive row-position range (indices
// into partRows) that row i's frame covers, applying spec.md §4.4's
// default frame when frame is nil.
func frameBounds(frame *Frame, orderCols []int, rows [][]value.Value, partRows []int, i int) (int, int) {
	m := len(partRows)
	if frame == nil {
		if len(orderCols) == 0 {
			return 0, m - 1
		}
		hi := i
		for hi+1 < m && samePeer(rows, partRows, orderCols, hi, hi+1) {
			hi++
		}
		return 0, hi
	}
	lo := resolveBound(frame.Mode, frame.Start, orderCols, rows, partRows, i, true)
	hi := resolveBound(frame.Mode, frame.End, orderCols, rows, partRows, i, false)
	if lo < 0 {
		lo = 0
	}
	if hi >= m {
		hi = m - 1
	}
	if hi < lo {
		hi = lo - 1 // empty frame signaled by hi < lo
	}
	return lo, hi
}

func resolveBound(mode FrameMode, b Bound, orderCols []int, rows [][]value.Value, partRows []int, i int, isStart bool) int {
	m := len(partRows)
	switch b.Kind {
	case BoundUnboundedPreceding:
		return 0
	case BoundUnboundedFollowing:
		return m - 1
	case BoundCurrentRow:
		if mode == FrameRows {
			return i
		}
		// RANGE current row extends to cover the whole peer group
		if isStart {
			lo := i
			for lo-1 >= 0 && samePeer(rows, partRows, orderCols, lo-1, lo) {
				lo--
			}
			return lo
		}
		hi := i
		for hi+1 < m && samePeer(rows, partRows, orderCols, hi, hi+1) {
			hi++
		}
		return hi
	case BoundOffsetPreceding:
		return i - int(b.Offset)
	case BoundOffsetFollowing:
		return i + int(b.Offset)
	default:
		return i
	}
}

func aggregateOverFrame(rows [][]value.Value, partRows []int, lo, hi int, call Call) (value.Value, error) {
	spec := Spec{Kind: aggKindOf(call.Func)}
	st := NewState(spec)
	for k := lo; k <= hi; k++ {
		var v value.Value
		if call.Func == FuncCount && call.ArgCol < 0 {
			v = value.Bool(true)
			st.spec.Kind = KindCountStar
		} else {
			v = rows[partRows[k]][call.ArgCol]
		}
		if err := st.Add(v); err != nil {
			return value.Value{}, err
		}
	}
	return st.Finish()
}

func aggKindOf(f WindowFunc) Kind {
	switch f {
	case FuncSum:
		return KindSum
	case FuncAvg:
		return KindAvg
	case FuncCount:
		return KindCount
	case FuncMin:
		return KindMin
	case FuncMax:
		return KindMax
	default:
		return KindCount
	}
}
