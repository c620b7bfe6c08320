package ixgbe

import (
	"github.com/ixy-go/ixy/internal/hugepage"
	"github.com/ixy-go/ixy/pkg/mempool"
)

func wrapRing(index, size int) int {
	return (index + 1) & (size - 1)
}

type rxQueue struct {
	id      int
	ring    *hugepage.Block
	descs   [][]byte
	buffers []*mempool.Buffer
	pool    *mempool.Pool
	index   int
}

func (q *rxQueue) size() int { return len(q.descs) }

type txQueue struct {
	id         int
	ring       *hugepage.Block
	descs      [][]byte
	buffers    []*mempool.Buffer
	index      int
	cleanIndex int
}

func (q *txQueue) size() int { return len(q.descs) }
