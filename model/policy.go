// Package model implements the search policy: a small vision
// transformer encodes the current glimpse, the previous jump is
// embedded, and a stack of GRU cells carries the search memory. Two
// categorical heads emit vertical and horizontal jump logits.
package model

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/pierrot-lc/snake-search/config"
	"github.com/pierrot-lc/snake-search/env"
	"github.com/pierrot-lc/snake-search/nn"
)

// State holds one hidden matrix per GRU layer, rows indexing the batch.
type State []*mat.Dense

// Policy is the recurrent agent. All Forward calls cache their
// activations so a full rollout can be backpropagated in reverse call
// order; inference paths must call ClearCache instead.
type Policy struct {
	PatchSize     int
	VitPatchSize  int
	EmbeddingSize int
	HiddenSize    int
	NumLayers     int
	JumpSize      int

	tokenDim  int
	numTokens int
	numJumps  int // actions per axis, 2*jump+1

	tokenEmbed *nn.Linear
	posEmbed   *nn.Param
	blocks     []*encoderBlock
	finalNorm  *nn.LayerNorm

	dyEmbed   *nn.Embedding
	dxEmbed   *nn.Embedding
	inputProj *nn.Linear

	cells []*nn.GRUCell

	dyHead *nn.Linear
	dxHead *nn.Linear
}

// New builds a policy for observations produced by an environment with
// the given patch size, glimpse levels and channel count.
func New(cfg config.ModelConfig, patchSize, nGlimpsLevels int, rng *rand.Rand) (*Policy, error) {
	if patchSize%cfg.ViTPatchSize != 0 {
		return nil, fmt.Errorf("model: patch size %d not divisible by vit patch size %d", patchSize, cfg.ViTPatchSize)
	}
	if cfg.ViTEmbeddingSize%cfg.ViTNHeads != 0 {
		return nil, fmt.Errorf("model: embedding size %d not divisible by %d heads", cfg.ViTEmbeddingSize, cfg.ViTNHeads)
	}

	side := patchSize / cfg.ViTPatchSize
	p := &Policy{
		PatchSize:     patchSize,
		VitPatchSize:  cfg.ViTPatchSize,
		EmbeddingSize: cfg.ViTEmbeddingSize,
		HiddenSize:    cfg.GRUHiddenSize,
		NumLayers:     cfg.GRUNumLayers,
		JumpSize:      cfg.JumpSize,
		tokenDim:      nGlimpsLevels * cfg.NChannels * cfg.ViTPatchSize * cfg.ViTPatchSize,
		numTokens:     side * side,
		numJumps:      2*cfg.JumpSize + 1,
	}

	embed := cfg.ViTEmbeddingSize
	p.tokenEmbed = nn.NewLinear("encoder.embed", p.tokenDim, embed, rng)
	p.posEmbed = nn.NewParam("encoder.pos", p.numTokens, embed)
	nn.NormalInit(p.posEmbed, 0.02, rng)

	for i := 0; i < cfg.ViTNLayers; i++ {
		name := fmt.Sprintf("encoder.block%d", i)
		p.blocks = append(p.blocks, newEncoderBlock(name, embed, cfg.ViTNHeads, cfg.ViTFFNSize, rng))
	}
	p.finalNorm = nn.NewLayerNorm("encoder.norm", embed)

	p.dyEmbed = nn.NewEmbedding("action.dy", p.numJumps, embed, rng)
	p.dxEmbed = nn.NewEmbedding("action.dx", p.numJumps, embed, rng)
	p.inputProj = nn.NewLinear("memory.input", 3*embed, cfg.GRUHiddenSize, rng)

	for i := 0; i < cfg.GRUNumLayers; i++ {
		name := fmt.Sprintf("memory.gru%d", i)
		p.cells = append(p.cells, nn.NewGRUCell(name, cfg.GRUHiddenSize, cfg.GRUHiddenSize, rng))
	}

	p.dyHead = nn.NewLinear("head.dy", cfg.GRUHiddenSize, p.numJumps, rng)
	p.dxHead = nn.NewLinear("head.dx", cfg.GRUHiddenSize, p.numJumps, rng)

	return p, nil
}

// NumJumps is the size of each categorical head.
func (p *Policy) NumJumps() int {
	return p.numJumps
}

// ZeroState returns the initial memory for a batch.
func (p *Policy) ZeroState(batch int) State {
	state := make(State, p.NumLayers)
	for i := range state {
		state[i] = mat.NewDense(batch, p.HiddenSize, nil)
	}
	return state
}

// Params lists every learnable tensor in a stable order.
func (p *Policy) Params() []*nn.Param {
	params := []*nn.Param{p.tokenEmbed.W, p.tokenEmbed.B, p.posEmbed}
	for _, b := range p.blocks {
		params = append(params, b.Params()...)
	}
	params = append(params, p.finalNorm.Params()...)
	params = append(params, p.dyEmbed.Params()...)
	params = append(params, p.dxEmbed.Params()...)
	params = append(params, p.inputProj.Params()...)
	for _, c := range p.cells {
		params = append(params, c.Params()...)
	}
	params = append(params, p.dyHead.Params()...)
	params = append(params, p.dxHead.Params()...)
	return params
}

// NumParams returns the total parameter count.
func (p *Policy) NumParams() int {
	return nn.NumParams(p.Params())
}

// Forward runs one decision step. It returns the raw logits of both
// heads and the next memory state.
func (p *Policy) Forward(patches *mat.Dense, prev []env.Action, state State) (dyLogits, dxLogits *mat.Dense, next State) {
	batch, _ := patches.Dims()

	pooled := p.encode(patches)

	dyIDs := make([]int, batch)
	dxIDs := make([]int, batch)
	for i, a := range prev {
		dyIDs[i] = a.DY + p.JumpSize
		dxIDs[i] = a.DX + p.JumpSize
	}

	joint := mat.NewDense(batch, 3*p.EmbeddingSize, nil)
	joint.Slice(0, batch, 0, p.EmbeddingSize).(*mat.Dense).Copy(pooled)
	joint.Slice(0, batch, p.EmbeddingSize, 2*p.EmbeddingSize).(*mat.Dense).Copy(p.dyEmbed.Forward(dyIDs))
	joint.Slice(0, batch, 2*p.EmbeddingSize, 3*p.EmbeddingSize).(*mat.Dense).Copy(p.dxEmbed.Forward(dxIDs))

	x := p.inputProj.Forward(joint)

	next = make(State, p.NumLayers)
	for l, cell := range p.cells {
		x = cell.Forward(x, state[l])
		next[l] = x
	}

	dyLogits = p.dyHead.Forward(x)
	dxLogits = p.dxHead.Forward(x)
	return dyLogits, dxLogits, next
}

// Backward pushes gradients of one step back through the heads, the
// GRU stack and the encoder. dNext carries the memory gradient flowing
// in from the following step (nil for the last step of a rollout), and
// the returned state gradient feeds the preceding step.
func (p *Policy) Backward(dDYLogits, dDXLogits *mat.Dense, dNext State) State {
	batch, _ := dDYLogits.Dims()

	dh := p.dxHead.Backward(dDXLogits)
	dh.Add(dh, p.dyHead.Backward(dDYLogits))
	if dNext != nil {
		dh.Add(dh, dNext[p.NumLayers-1])
	}

	dPrev := make(State, p.NumLayers)
	for l := p.NumLayers - 1; l >= 0; l-- {
		dx, dhPrev := p.cells[l].Backward(dh)
		dPrev[l] = dhPrev
		if l > 0 {
			dh = dx
			if dNext != nil {
				dh.Add(dh, dNext[l-1])
			}
		} else {
			dh = p.inputProj.Backward(dx)
		}
	}

	// dh now holds the joint input gradient; split it back.
	dPooled := mat.DenseCopyOf(dh.Slice(0, batch, 0, p.EmbeddingSize))
	p.dxEmbed.Backward(mat.DenseCopyOf(dh.Slice(0, batch, 2*p.EmbeddingSize, 3*p.EmbeddingSize)))
	p.dyEmbed.Backward(mat.DenseCopyOf(dh.Slice(0, batch, p.EmbeddingSize, 2*p.EmbeddingSize)))

	p.encodeBackward(dPooled)
	return dPrev
}

// ClearCache drops all pending forward activations. Greedy evaluation
// runs Forward without a matching Backward and must call this before
// the next training step.
func (p *Policy) ClearCache() {
	p.tokenEmbed.ClearCache()
	for _, b := range p.blocks {
		b.ClearCache()
	}
	p.finalNorm.ClearCache()
	p.dyEmbed.ClearCache()
	p.dxEmbed.ClearCache()
	p.inputProj.ClearCache()
	for _, c := range p.cells {
		c.ClearCache()
	}
	p.dyHead.ClearCache()
	p.dxHead.ClearCache()
}
