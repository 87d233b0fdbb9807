package surrogate

import "gonum.org/v1/gonum/mat"

// matrixPool recycles symmetric matrices between fits, keyed by order, so
// refitting on every suggestion does not reallocate the kernel matrix.
type matrixPool struct {
	sym map[int][]*mat.SymDense
}

func newMatrixPool() *matrixPool {
	return &matrixPool{sym: make(map[int][]*mat.SymDense)}
}

func (p *matrixPool) getSym(n int) *mat.SymDense {
	free := p.sym[n]
	if len(free) > 0 {
		m := free[len(free)-1]
		p.sym[n] = free[:len(free)-1]
		m.Zero()
		return m
	}
	return mat.NewSymDense(n, nil)
}

func (p *matrixPool) putSym(m *mat.SymDense) {
	n := m.SymmetricDim()
	p.sym[n] = append(p.sym[n], m)
}
